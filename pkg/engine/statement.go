package engine

import (
	"strings"

	"github.com/ha1tch/callbind/pkg/param"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// Statement is a prepared CALL. It describes every parameter with the
// procedure's declared type and mode.
type Statement struct {
	engine *Engine
	text   string
	name   string
	proc   *Procedure
}

// NumInput returns the number of parameter markers.
func (s *Statement) NumInput() int { return len(s.proc.Params) }

// Text returns the statement text.
func (s *Statement) Text() string { return s.text }

// Procedure returns the procedure resolved at prepare time.
func (s *Statement) Procedure() *Procedure { return s.proc }

// DescribeParam returns the declared type and mode of parameter i.
func (s *Statement) DescribeParam(i int) (sqltype.Descriptor, param.Direction, bool) {
	if i < 0 || i >= len(s.proc.Params) {
		return sqltype.Descriptor{}, param.In, false
	}
	d := s.proc.Params[i]
	return d.Type, d.Mode, true
}

// parseCall reads "CALL [schema.]name[(?, ...)]" and returns the routine
// name and the number of markers.
func parseCall(text string) (string, int, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))

	if len(s) < 5 || !strings.EqualFold(s[:4], "CALL") || !isSpace(s[4]) {
		return "", 0, syntaxError(text, firstToken(s))
	}
	rest := strings.TrimSpace(s[4:])

	name, args := rest, ""
	hasParens := false
	if open := strings.IndexByte(rest, '('); open >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return "", 0, syntaxError(text, "(")
		}
		name = strings.TrimSpace(rest[:open])
		args = rest[open+1 : len(rest)-1]
		hasParens = true
	}
	if !validRoutineName(name) {
		return "", 0, syntaxError(text, name)
	}

	n := 0
	if hasParens && strings.TrimSpace(args) != "" {
		for _, a := range strings.Split(args, ",") {
			if strings.TrimSpace(a) != "?" {
				return "", 0, syntaxError(text, strings.TrimSpace(a))
			}
			n++
		}
	}
	return name, n, nil
}

func syntaxError(text, token string) error {
	return engineError("Engine.Prepare", sqlSyntax, stateSyntax,
		"token %s was not valid in %q", token, text)
}

func firstToken(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return "*N"
}

func validRoutineName(name string) bool {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for i := 0; i < len(p); i++ {
			c := p[i]
			switch {
			case c == '_' || c == '#' || c == '$' || c == '@':
			case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
			case c >= '0' && c <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
