// Package textkernel reads and writes SPICE text kernels, in particular
// metakernels listing the files to load.
//
// Only the data sections are interpreted. Each assignment is NAME = value
// or NAME += value, where value is a single item or a parenthesized list.
// Strings are single-quoted with '' as the escaped quote; any other item
// (numbers, @dates) is kept as raw text.
package textkernel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	beginData = `\begindata`
	beginText = `\begintext`
)

// ErrSyntax wraps every parse failure.
var ErrSyntax = errors.New("text kernel syntax error")

// Value is one item of an assignment.
type Value struct {
	Text   string
	Quoted bool
}

// Document holds the variables of a text kernel in first-assignment order.
type Document struct {
	vars  map[string][]Value
	order []string
}

// Names returns variable names in the order they were first assigned.
func (d *Document) Names() []string { return append([]string(nil), d.order...) }

// Get returns a variable's values, or nil.
func (d *Document) Get(name string) []Value { return d.vars[name] }

// Strings returns a variable's values, requiring every one to be quoted.
func (d *Document) Strings(name string) ([]string, error) {
	vals := d.vars[name]
	out := make([]string, len(vals))
	for i, v := range vals {
		if !v.Quoted {
			return nil, fmt.Errorf("%s[%d] is not a string: %s", name, i, v.Text)
		}
		out[i] = v.Text
	}
	return out, nil
}

// ParseFile parses the text kernel at path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse reads a text kernel.
func Parse(r io.Reader) (*Document, error) {
	var data strings.Builder
	inData := false
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch strings.TrimSpace(line) {
		case beginData:
			inData = true
			continue
		case beginText:
			inData = false
			continue
		}
		if inData {
			data.WriteString(line)
			data.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	toks, err := tokenize(data.String())
	if err != nil {
		return nil, err
	}
	return assemble(toks)
}

type tokenKind int

const (
	tokName tokenKind = iota
	tokAssign
	tokAppend
	tokOpen
	tokClose
	tokString
	tokBare
)

type token struct {
	kind tokenKind
	text string
	line int
}

func tokenize(s string) ([]token, error) {
	var toks []token
	line := 1
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r' || c == ',':
			i++
		case c == '=':
			toks = append(toks, token{tokAssign, "=", line})
			i++
		case c == '+' && i+1 < len(s) && s[i+1] == '=':
			toks = append(toks, token{tokAppend, "+=", line})
			i += 2
		case c == '(':
			toks = append(toks, token{tokOpen, "(", line})
			i++
		case c == ')':
			toks = append(toks, token{tokClose, ")", line})
			i++
		case c == '\'':
			var b strings.Builder
			j := i + 1
			for {
				if j >= len(s) || s[j] == '\n' {
					return nil, fmt.Errorf("%w: line %d: unterminated string", ErrSyntax, line)
				}
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						b.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				b.WriteByte(s[j])
				j++
			}
			toks = append(toks, token{tokString, b.String(), line})
			i = j + 1
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\r\n,=()'", rune(s[j])) {
				if s[j] == '+' && j+1 < len(s) && s[j+1] == '=' {
					break
				}
				j++
			}
			toks = append(toks, token{tokBare, s[i:j], line})
			i = j
		}
	}
	return toks, nil
}

func assemble(toks []token) (*Document, error) {
	d := &Document{vars: make(map[string][]Value)}
	for i := 0; i < len(toks); {
		name := toks[i]
		if name.kind != tokBare {
			return nil, fmt.Errorf("%w: line %d: expected variable name, got %q", ErrSyntax, name.line, name.text)
		}
		if i+1 >= len(toks) || (toks[i+1].kind != tokAssign && toks[i+1].kind != tokAppend) {
			return nil, fmt.Errorf("%w: line %d: expected = or += after %s", ErrSyntax, name.line, name.text)
		}
		appendMode := toks[i+1].kind == tokAppend
		i += 2
		if i >= len(toks) {
			return nil, fmt.Errorf("%w: line %d: missing value for %s", ErrSyntax, name.line, name.text)
		}

		var vals []Value
		if toks[i].kind == tokOpen {
			i++
			for ; i < len(toks) && toks[i].kind != tokClose; i++ {
				v, err := value(toks[i])
				if err != nil {
					return nil, err
				}
				vals = append(vals, v)
			}
			if i >= len(toks) {
				return nil, fmt.Errorf("%w: line %d: unclosed list for %s", ErrSyntax, name.line, name.text)
			}
			i++
		} else {
			v, err := value(toks[i])
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
			i++
		}

		if _, ok := d.vars[name.text]; !ok {
			d.order = append(d.order, name.text)
		}
		if appendMode {
			d.vars[name.text] = append(d.vars[name.text], vals...)
		} else {
			d.vars[name.text] = vals
		}
	}
	return d, nil
}

func value(t token) (Value, error) {
	switch t.kind {
	case tokString:
		return Value{Text: t.text, Quoted: true}, nil
	case tokBare:
		return Value{Text: t.text}, nil
	}
	return Value{}, fmt.Errorf("%w: line %d: unexpected %q in value", ErrSyntax, t.line, t.text)
}
