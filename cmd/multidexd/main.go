// Command multidexd runs the multidex storage engine as an HTTP service:
// catalog -> executor -> HTTP facade, wired explicitly the way the
// teacher's examples/*/main.go programs construct their storage stack
// rather than reaching for a DI framework or a global singleton.
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/bobboyms/multidex/pkg/api"
	"github.com/bobboyms/multidex/pkg/executor"
	"github.com/bobboyms/multidex/pkg/schema"
)

func main() {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	catalog, err := schema.NewCatalog(dataDir)
	if err != nil {
		log.Fatalf("open catalog at %q: %v", dataDir, err)
	}

	engine := executor.New(catalog)
	defer engine.Close()

	server := api.NewServer(engine)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("multidexd listening on %s (data dir %q)", addr, dataDir)
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
