package cfgfile

import (
	"fmt"
)

// Entry is a single "key = value" pair inside a section.
type Entry struct {
	Key   string
	Value string
	Line  int
}

// Section is a named (and optionally titled) block: `type ["title"] { ... }`.
type Section struct {
	Type     string
	Title    string // empty if the section has no title
	Entries  []Entry
	Sections []*Section
	Line     int
}

// Get returns the value of the first entry with the given key, if any.
func (s *Section) Get(key string) (string, bool) {
	for _, e := range s.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// All returns every child section with the given type, in document order.
func (s *Section) All(typ string) []*Section {
	var out []*Section
	for _, c := range s.Sections {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// One returns the first (and expected-only) child section with the given
// type. ok is false if none exists.
func (s *Section) One(typ string) (*Section, bool) {
	all := s.All(typ)
	if len(all) == 0 {
		return nil, false
	}
	return all[0], true
}

// Document is a fully parsed configuration file (after include expansion).
type Document struct {
	Top *Section
}

// Include is called by the parser whenever it encounters `include "path"`.
// It must return the raw text of the included file. The returned text is
// parsed as if it were spliced in at that point (matching genimage's
// cfg_include, which textually includes the file's sections into the
// parent).
type Include func(path string) (string, error)

type parser struct {
	lex     *lexer
	tok     token
	include Include
}

// Parse parses src into a Document, resolving `include` directives via inc.
func Parse(src string, inc Include) (*Document, error) {
	p := &parser{lex: newLexer(src), include: inc}
	if err := p.advance(); err != nil {
		return nil, err
	}

	top := &Section{Type: "__top__"}
	if err := p.parseBody(top); err != nil {
		return nil, err
	}

	return &Document{Top: top}, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

// parseBody parses entries/sections/includes until EOF or a closing brace,
// which the caller consumes.
func (p *parser) parseBody(into *Section) error {
	for {
		switch p.tok.kind {
		case tokEOF, tokRBrace:
			return nil
		case tokWord:
			if err := p.parseStatement(into); err != nil {
				return err
			}
		default:
			return fmt.Errorf("cfgfile: line %d: unexpected token %q", p.tok.line, p.tok.text)
		}
	}
}

func (p *parser) parseStatement(into *Section) error {
	name := p.tok.text
	line := p.tok.line
	if err := p.advance(); err != nil {
		return err
	}

	if name == "include" {
		return p.parseInclude(into)
	}

	switch p.tok.kind {
	case tokEquals:
		// key = value
		if err := p.advance(); err != nil {
			return err
		}
		val, err := p.parseValue()
		if err != nil {
			return err
		}
		into.Entries = append(into.Entries, Entry{Key: name, Value: val, Line: line})
		return nil
	case tokWord, tokString:
		// Could be "key value" (no '=') or "type title {". Decide by
		// looking for a following '{'.
		first := p.tok
		if err := p.advance(); err != nil {
			return err
		}
		if p.tok.kind == tokLBrace {
			return p.parseSection(into, name, first.text, line)
		}
		into.Entries = append(into.Entries, Entry{Key: name, Value: first.text, Line: line})
		return nil
	case tokLBrace:
		return p.parseSection(into, name, "", line)
	default:
		return fmt.Errorf("cfgfile: line %d: expected value or '{' after %q", p.tok.line, name)
	}
}

func (p *parser) parseValue() (string, error) {
	if p.tok.kind != tokWord && p.tok.kind != tokString {
		return "", fmt.Errorf("cfgfile: line %d: expected value", p.tok.line)
	}
	v := p.tok.text
	if err := p.advance(); err != nil {
		return "", err
	}
	return v, nil
}

func (p *parser) parseSection(into *Section, typ, title string, line int) error {
	if err := p.advance(); err != nil { // consume '{'
		return err
	}
	sec := &Section{Type: typ, Title: title, Line: line}
	if err := p.parseBody(sec); err != nil {
		return err
	}
	if p.tok.kind != tokRBrace {
		return fmt.Errorf("cfgfile: line %d: expected '}'", p.tok.line)
	}
	if err := p.advance(); err != nil { // consume '}'
		return err
	}
	into.Sections = append(into.Sections, sec)
	return nil
}

func (p *parser) parseInclude(into *Section) error {
	if p.tok.kind != tokString && p.tok.kind != tokWord {
		return fmt.Errorf("cfgfile: line %d: expected path after include", p.tok.line)
	}
	path := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}

	if p.include == nil {
		return fmt.Errorf("cfgfile: include %q: no include resolver configured", path)
	}
	text, err := p.include(path)
	if err != nil {
		return fmt.Errorf("cfgfile: include %q: %w", path, err)
	}

	sub := &parser{lex: newLexer(text), include: p.include}
	if err := sub.advance(); err != nil {
		return err
	}
	if err := sub.parseBody(into); err != nil {
		return err
	}
	return nil
}
