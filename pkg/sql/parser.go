package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bobboyms/multidex/pkg/errors"
	"github.com/bobboyms/multidex/pkg/types"
)

// parseErr is the lexer/parser's internal error type; Parse converts it
// into the engine-wide *errors.ParseError at the public boundary so every
// other package only ever sees the one error kind §7 names.
type parseErr struct{ msg string }

func (e *parseErr) Error() string { return e.msg }

// Parser consumes a token stream produced by tokenize and builds one
// Statement, mirroring SQLParser.parse's dispatch on the statement's
// leading keyword.
type Parser struct {
	toks []token
	pos  int
}

// Parse tokenizes and parses one SQL statement.
func Parse(sqlText string) (Statement, error) {
	sqlText = strings.TrimSpace(sqlText)
	toks, err := tokenize(sqlText)
	if err != nil {
		return nil, &errors.ParseError{Reason: err.Error()}
	}
	p := &Parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, &errors.ParseError{Reason: err.Error()}
	}
	return stmt, nil
}

func (p *Parser) cur() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) advance() token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) expectKeyword(kw string) error {
	t := p.advance()
	if !isKeyword(t, kw) {
		return &parseErr{fmt.Sprintf("expected keyword %q, got %q", kw, t.text)}
	}
	return nil
}

func (p *Parser) expectIdent() (string, error) {
	t := p.advance()
	if t.kind != tokIdent {
		return "", &parseErr{fmt.Sprintf("expected identifier, got %q", t.text)}
	}
	return t.text, nil
}

func (p *Parser) expectKind(k tokenKind, what string) (token, error) {
	t := p.advance()
	if t.kind != k {
		return token{}, &parseErr{fmt.Sprintf("expected %s, got %q", what, t.text)}
	}
	return t, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	t := p.cur()
	switch {
	case isKeyword(t, "CREATE"):
		return p.parseCreateTable()
	case isKeyword(t, "INSERT"):
		return p.parseInsert()
	case isKeyword(t, "DELETE"):
		return p.parseDelete()
	case isKeyword(t, "SELECT"):
		return p.parseSelect()
	default:
		return nil, &parseErr{fmt.Sprintf("unsupported SQL statement starting at %q", t.text)}
	}
}

// parseCreateTable handles:
//
//	CREATE TABLE <name> ( <col_def> , … ) [ FROM FILE "<path>" ] [ USING INDEX <type> ]
func (p *Parser) parseCreateTable() (*CreateTableStatement, error) {
	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(tokLParen, "'('"); err != nil {
		return nil, err
	}

	var columns []ColumnDef
	for {
		if p.cur().kind == tokRParen {
			break
		}
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expectKind(tokRParen, "')'"); err != nil {
		return nil, err
	}

	stmt := &CreateTableStatement{TableName: name, Columns: columns}

	if isKeyword(p.cur(), "FROM") {
		p.advance()
		if err := p.expectKeyword("FILE"); err != nil {
			return nil, err
		}
		path, err := p.expectKind(tokString, "file path string")
		if err != nil {
			return nil, err
		}
		stmt.FromFile = path.text
	}

	if isKeyword(p.cur(), "USING") {
		p.advance()
		if err := p.expectKeyword("INDEX"); err != nil {
			return nil, err
		}
		idxName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		idxType, ok := types.ParseIndexType(idxName)
		if !ok {
			return nil, &parseErr{fmt.Sprintf("unknown index type %q", idxName)}
		}
		stmt.UsingIndex = idxType
	}

	var pkCol *ColumnDef
	for i := range columns {
		if columns[i].IsPrimaryKey {
			pkCol = &columns[i]
			break
		}
	}
	if pkCol == nil {
		return nil, &parseErr{"CREATE TABLE must designate one column as KEY or PRIMARY KEY"}
	}
	stmt.PrimaryKey = pkCol.Name
	if pkCol.IndexType != "" {
		stmt.PrimaryIndexType = pkCol.IndexType
	} else {
		stmt.PrimaryIndexType = types.IndexBTree
	}
	return stmt, nil
}

// parseColumnDef handles:
//
//	<name> <type>[\[<n>\]] [ KEY | PRIMARY KEY ] [ INDEX <idx_type> ]
func (p *Parser) parseColumnDef() (ColumnDef, error) {
	name, err := p.expectIdent()
	if err != nil {
		return ColumnDef{}, err
	}
	typeName, err := p.expectIdent()
	if err != nil {
		return ColumnDef{}, err
	}
	dataType, ok := types.ParseDataType(typeName)
	if !ok {
		return ColumnDef{}, &parseErr{fmt.Sprintf("unsupported data type %q", typeName)}
	}

	size := 0
	if p.cur().kind == tokLBracket {
		p.advance()
		sizeTok, err := p.expectKind(tokNumber, "column size")
		if err != nil {
			return ColumnDef{}, err
		}
		n, convErr := strconv.Atoi(sizeTok.text)
		if convErr != nil {
			return ColumnDef{}, &parseErr{fmt.Sprintf("invalid column size %q", sizeTok.text)}
		}
		size = n
		if _, err := p.expectKind(tokRBracket, "']'"); err != nil {
			return ColumnDef{}, err
		}
	}
	if dataType == types.VARCHAR && size <= 0 {
		return ColumnDef{}, &parseErr{fmt.Sprintf("VARCHAR column %q requires a size", name)}
	}

	col := ColumnDef{Name: name, DataType: dataType, Size: size}

	if isKeyword(p.cur(), "PRIMARY") {
		p.advance()
		if err := p.expectKeyword("KEY"); err != nil {
			return ColumnDef{}, err
		}
		col.IsPrimaryKey = true
		col.HasIndex = true
	} else if isKeyword(p.cur(), "KEY") {
		p.advance()
		col.IsPrimaryKey = true
		col.HasIndex = true
	}

	if isKeyword(p.cur(), "INDEX") {
		p.advance()
		idxName, err := p.expectIdent()
		if err != nil {
			return ColumnDef{}, err
		}
		idxType, ok := types.ParseIndexType(idxName)
		if !ok {
			return ColumnDef{}, &parseErr{fmt.Sprintf("unknown index type %q", idxName)}
		}
		col.IndexType = idxType
		col.HasIndex = true
	}

	if dataType == types.ARRAY_FLOAT && col.HasIndex && col.IndexType != types.IndexRTree && col.IndexType != "" {
		return ColumnDef{}, &parseErr{fmt.Sprintf("ARRAY column %q may only use an rtree index", name)}
	}

	return col, nil
}

// parseInsert handles:
//
//	INSERT INTO <name> [( <col> , … )] VALUES ( <v> , … ) [, ( <v>, … )]*
func (p *Parser) parseInsert() (*InsertStatement, error) {
	if err := p.expectKeyword("INSERT"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	var columns []string
	if p.cur().kind == tokLParen {
		p.advance()
		for {
			colName, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			columns = append(columns, colName)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expectKind(tokRParen, "')'"); err != nil {
			return nil, err
		}
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}

	var valueRows [][]Literal
	for {
		row, err := p.parseValueTuple()
		if err != nil {
			return nil, err
		}
		valueRows = append(valueRows, row)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		break
	}

	return &InsertStatement{TableName: name, Columns: columns, Values: valueRows}, nil
}

func (p *Parser) parseValueTuple() ([]Literal, error) {
	if _, err := p.expectKind(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var values []Literal
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expectKind(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return values, nil
}

// parseLiteral handles integer, float, quoted-string, and ARRAY[f,f]
// value literals, per §6's "Value literals" list.
func (p *Parser) parseLiteral() (Literal, error) {
	t := p.cur()
	switch {
	case isKeyword(t, "ARRAY"):
		return p.parseArrayLiteral()
	case t.kind == tokString:
		p.advance()
		return Literal{Kind: LiteralString, Str: t.text}, nil
	case t.kind == tokNumber:
		p.advance()
		if strings.Contains(t.text, ".") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return Literal{}, &parseErr{fmt.Sprintf("invalid float literal %q", t.text)}
			}
			return Literal{Kind: LiteralFloat, Float: f}, nil
		}
		i, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return Literal{}, &parseErr{fmt.Sprintf("invalid integer literal %q", t.text)}
		}
		return Literal{Kind: LiteralInt, Int: i}, nil
	default:
		return Literal{}, &parseErr{fmt.Sprintf("expected a value literal, got %q", t.text)}
	}
}

func (p *Parser) parseArrayLiteral() (Literal, error) {
	if err := p.expectKeyword("ARRAY"); err != nil {
		return Literal{}, err
	}
	if _, err := p.expectKind(tokLBracket, "'['"); err != nil {
		return Literal{}, err
	}
	x, err := p.parseFloatToken()
	if err != nil {
		return Literal{}, err
	}
	if _, err := p.expectKind(tokComma, "','"); err != nil {
		return Literal{}, err
	}
	y, err := p.parseFloatToken()
	if err != nil {
		return Literal{}, err
	}
	if _, err := p.expectKind(tokRBracket, "']'"); err != nil {
		return Literal{}, err
	}
	return Literal{Kind: LiteralArray, ArrX: x, ArrY: y}, nil
}

func (p *Parser) parseFloatToken() (float64, error) {
	t, err := p.expectKind(tokNumber, "a number")
	if err != nil {
		return 0, err
	}
	f, convErr := strconv.ParseFloat(t.text, 64)
	if convErr != nil {
		return 0, &parseErr{fmt.Sprintf("invalid number %q", t.text)}
	}
	return f, nil
}

// parseDelete handles: DELETE FROM <name> [ WHERE <cond> ]
func (p *Parser) parseDelete() (*DeleteStatement, error) {
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{TableName: name}
	if isKeyword(p.cur(), "WHERE") {
		p.advance()
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		stmt.Where = cond
	}
	return stmt, nil
}

// parseSelect handles: SELECT (* | <col> , …) FROM <name> [ WHERE <cond> ]
func (p *Parser) parseSelect() (*SelectStatement, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}

	var columns []string
	if p.isStar() {
		p.advance()
		columns = []string{"*"}
	} else {
		for {
			colName, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			columns = append(columns, colName)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	stmt := &SelectStatement{Columns: columns, TableName: name}
	if isKeyword(p.cur(), "WHERE") {
		p.advance()
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		stmt.Where = cond
	}
	return stmt, nil
}

// isStar reports whether the current token is a lone "*" — the lexer
// tokenizes it as tokIdent text "*" since '*' is otherwise unused syntax.
func (p *Parser) isStar() bool {
	return p.cur().kind == tokIdent && p.cur().text == "*"
}

// parseCondition handles the three WHERE forms §6 allows, trying equal,
// then between, then spatial — the same precedence
// parser_sql.py's _parse_where_condition uses.
func (p *Parser) parseCondition() (*Condition, error) {
	colName, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	switch {
	case p.cur().kind == tokEqual:
		p.advance()
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &Condition{Kind: CondEqual, Column: colName, Value: v}, nil

	case isKeyword(p.cur(), "BETWEEN"):
		p.advance()
		lo, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &Condition{Kind: CondBetween, Column: colName, MinValue: lo, MaxValue: hi}, nil

	case isKeyword(p.cur(), "IN"):
		p.advance()
		if _, err := p.expectKind(tokLParen, "'('"); err != nil {
			return nil, err
		}
		point, err := p.parseArrayLiteral()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(tokComma, "','"); err != nil {
			return nil, err
		}
		radius, err := p.parseFloatToken()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return &Condition{Kind: CondSpatial, Column: colName, PointX: point.ArrX, PointY: point.ArrY, Radius: radius}, nil

	default:
		return nil, &parseErr{fmt.Sprintf("unsupported WHERE condition near %q", p.cur().text)}
	}
}
