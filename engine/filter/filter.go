// Package filter implements the engine's predicate language for row
// selection.
//
// The grammar is a conjunction of comparisons:
//
//	predicate  = comparison { "AND" comparison }
//	comparison = column op literal
//	op         = "=" | "==" | "!=" | "<>" | "<" | "<=" | ">" | ">="
//	literal    = 'string' | number | "true" | "false"
//
// A predicate is compiled once and evaluated against record batches,
// producing a roaring bitmap of the matching row positions. NULL cells
// never match any comparison.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

// SyntaxError reports a malformed predicate string.
type SyntaxError struct {
	Predicate string
	Reason    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid predicate %q: %s", e.Predicate, e.Reason)
}

// UnknownColumnError reports a predicate referencing a column that is not
// part of the batch schema.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q in predicate", e.Column)
}

// TypeError reports a comparison between incompatible column and literal
// types.
type TypeError struct {
	Column string
	Reason string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("predicate type error on column %q: %s", e.Column, e.Reason)
}

type compareOp int

const (
	opEq compareOp = iota
	opNe
	opLt
	opLe
	opGt
	opGe
)

type literalKind int

const (
	litString literalKind = iota
	litNumber
	litBool
)

type literal struct {
	kind literalKind
	str  string
	num  float64
	b    bool
}

type comparison struct {
	column string
	op     compareOp
	lit    literal
}

// Predicate is a compiled filter expression.
type Predicate struct {
	source      string
	comparisons []comparison
}

// Parse compiles a predicate string. Empty or all-whitespace input yields a
// nil predicate, which matches every row.
func Parse(s string) (*Predicate, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}

	p := &Predicate{source: s}
	i := 0
	for {
		cmp, n, err := parseComparison(s, toks[i:])
		if err != nil {
			return nil, err
		}
		p.comparisons = append(p.comparisons, cmp)
		i += n

		if i == len(toks) {
			return p, nil
		}
		if !strings.EqualFold(toks[i], "AND") {
			return nil, &SyntaxError{Predicate: s, Reason: fmt.Sprintf("expected AND, got %q", toks[i])}
		}
		i++
		if i == len(toks) {
			return nil, &SyntaxError{Predicate: s, Reason: "dangling AND"}
		}
	}
}

// Eval computes the set of row positions in rec that satisfy the predicate.
// A nil *Predicate matches all rows.
func (p *Predicate) Eval(rec arrow.Record) (*roaring.Bitmap, error) {
	sel := roaring.New()
	if p == nil {
		sel.AddRange(0, uint64(rec.NumRows()))
		return sel, nil
	}

	for i, cmp := range p.comparisons {
		bm, err := evalComparison(cmp, rec)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			sel = bm
		} else {
			sel.And(bm)
		}
		if sel.IsEmpty() {
			return sel, nil
		}
	}
	return sel, nil
}

func parseComparison(src string, toks []string) (comparison, int, error) {
	if len(toks) < 3 {
		return comparison{}, 0, &SyntaxError{Predicate: src, Reason: "incomplete comparison"}
	}

	col := toks[0]
	if !isIdent(col) {
		return comparison{}, 0, &SyntaxError{Predicate: src, Reason: fmt.Sprintf("expected column name, got %q", col)}
	}

	var op compareOp
	switch toks[1] {
	case "=", "==":
		op = opEq
	case "!=", "<>":
		op = opNe
	case "<":
		op = opLt
	case "<=":
		op = opLe
	case ">":
		op = opGt
	case ">=":
		op = opGe
	default:
		return comparison{}, 0, &SyntaxError{Predicate: src, Reason: fmt.Sprintf("unknown operator %q", toks[1])}
	}

	lit, err := parseLiteral(src, toks[2])
	if err != nil {
		return comparison{}, 0, err
	}

	return comparison{column: col, op: op, lit: lit}, 3, nil
}

func parseLiteral(src, tok string) (literal, error) {
	if strings.HasPrefix(tok, "'") {
		// The tokenizer has already validated the closing quote.
		body := tok[1 : len(tok)-1]
		return literal{kind: litString, str: strings.ReplaceAll(body, "''", "'")}, nil
	}
	if strings.EqualFold(tok, "true") {
		return literal{kind: litBool, b: true}, nil
	}
	if strings.EqualFold(tok, "false") {
		return literal{kind: litBool, b: false}, nil
	}
	num, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return literal{}, &SyntaxError{Predicate: src, Reason: fmt.Sprintf("invalid literal %q", tok)}
	}
	return literal{kind: litNumber, num: num}, nil
}

func evalComparison(cmp comparison, rec arrow.Record) (*roaring.Bitmap, error) {
	idx := rec.Schema().FieldIndices(cmp.column)
	if len(idx) == 0 {
		return nil, &UnknownColumnError{Column: cmp.column}
	}
	col := rec.Column(idx[0])
	bm := roaring.New()

	switch c := col.(type) {
	case *array.Int32:
		if cmp.lit.kind != litNumber {
			return nil, &TypeError{Column: cmp.column, Reason: "numeric column compared to non-numeric literal"}
		}
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) && matchNumber(float64(c.Value(i)), cmp.op, cmp.lit.num) {
				bm.Add(uint32(i))
			}
		}
	case *array.Int64:
		if cmp.lit.kind != litNumber {
			return nil, &TypeError{Column: cmp.column, Reason: "numeric column compared to non-numeric literal"}
		}
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) && matchNumber(float64(c.Value(i)), cmp.op, cmp.lit.num) {
				bm.Add(uint32(i))
			}
		}
	case *array.Float32:
		if cmp.lit.kind != litNumber {
			return nil, &TypeError{Column: cmp.column, Reason: "numeric column compared to non-numeric literal"}
		}
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) && matchNumber(float64(c.Value(i)), cmp.op, cmp.lit.num) {
				bm.Add(uint32(i))
			}
		}
	case *array.Float64:
		if cmp.lit.kind != litNumber {
			return nil, &TypeError{Column: cmp.column, Reason: "numeric column compared to non-numeric literal"}
		}
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) && matchNumber(c.Value(i), cmp.op, cmp.lit.num) {
				bm.Add(uint32(i))
			}
		}
	case *array.String:
		if cmp.lit.kind != litString {
			return nil, &TypeError{Column: cmp.column, Reason: "string column compared to non-string literal"}
		}
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) && matchString(c.Value(i), cmp.op, cmp.lit.str) {
				bm.Add(uint32(i))
			}
		}
	case *array.Boolean:
		if cmp.lit.kind != litBool {
			return nil, &TypeError{Column: cmp.column, Reason: "boolean column compared to non-boolean literal"}
		}
		if cmp.op != opEq && cmp.op != opNe {
			return nil, &TypeError{Column: cmp.column, Reason: "boolean columns support only = and !="}
		}
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) && ((cmp.op == opEq) == (c.Value(i) == cmp.lit.b)) {
				bm.Add(uint32(i))
			}
		}
	default:
		return nil, &TypeError{Column: cmp.column, Reason: fmt.Sprintf("unsupported column type %s", col.DataType())}
	}

	return bm, nil
}

func matchNumber(v float64, op compareOp, lit float64) bool {
	switch op {
	case opEq:
		return v == lit
	case opNe:
		return v != lit
	case opLt:
		return v < lit
	case opLe:
		return v <= lit
	case opGt:
		return v > lit
	case opGe:
		return v >= lit
	}
	return false
}

func matchString(v string, op compareOp, lit string) bool {
	switch op {
	case opEq:
		return v == lit
	case opNe:
		return v != lit
	case opLt:
		return v < lit
	case opLe:
		return v <= lit
	case opGt:
		return v > lit
	case opGe:
		return v >= lit
	}
	return false
}

func isIdent(s string) bool {
	if s == "" || strings.HasPrefix(s, "'") {
		return false
	}
	for i, r := range s {
		if unicode.IsLetter(r) || r == '_' {
			continue
		}
		if i > 0 && (unicode.IsDigit(r) || r == '.') {
			continue
		}
		return false
	}
	return true
}

func tokenize(s string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(s) {
		r := s[i]
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			i++
		case r == '\'':
			j := i + 1
			for {
				if j >= len(s) {
					return nil, &SyntaxError{Predicate: s, Reason: "unterminated string literal"}
				}
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						j += 2 // escaped quote
						continue
					}
					break
				}
				j++
			}
			toks = append(toks, s[i:j+1])
			i = j + 1
		case r == '=' || r == '!' || r == '<' || r == '>':
			j := i + 1
			for j < len(s) && (s[j] == '=' || s[j] == '>') {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		default:
			j := i
			for j < len(s) && !isBoundary(s[j]) {
				j++
			}
			if j == i {
				return nil, &SyntaxError{Predicate: s, Reason: fmt.Sprintf("unexpected character %q", s[i])}
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	if len(toks) == 0 {
		return nil, &SyntaxError{Predicate: s, Reason: "empty predicate"}
	}
	return toks, nil
}

func isBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '=', '!', '<', '>', '\'':
		return true
	}
	return false
}
