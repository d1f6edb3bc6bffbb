// Package format resolves scoped variable references in template format
// strings. A format string contains {{...}} placeholders; resolution is
// literal substring substitution, so a resolved value is never re-scanned
// for further placeholders.
package format

import (
	"fmt"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// UnresolvedReferenceError names the offending placeholder text and the
// scope it failed to resolve in.
type UnresolvedReferenceError struct {
	Placeholder string
	Scope       string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference %s in %s scope", e.Placeholder, e.Scope)
}

// Scope is a named, immutable-once-built set of reference bindings.
// Sessions build task scopes by extending the job scope rather than
// mutating it, so concurrent sessions never share mutable state.
type Scope struct {
	name string
	vars map[string]string
}

func NewScope(name string) *Scope {
	return &Scope{name: name, vars: map[string]string{}}
}

func (s *Scope) Name() string { return s.name }

// Bind sets a reference binding, e.g. Bind("Param.Frame", "12").
func (s *Scope) Bind(key, value string) {
	s.vars[key] = value
}

// Lookup returns the bound value for a reference key.
func (s *Scope) Lookup(key string) (string, bool) {
	v, ok := s.vars[key]
	return v, ok
}

// Extend returns a new scope with the given name carrying all of s's
// bindings. The receiver is unchanged.
func (s *Scope) Extend(name string) *Scope {
	next := &Scope{name: name, vars: make(map[string]string, len(s.vars))}
	for k, v := range s.vars {
		next.vars[k] = v
	}
	return next
}

// References returns the reference keys of every placeholder in s, in
// order of appearance. An opening delimiter with no closing delimiter is
// literal text, not a reference.
func References(s string) []string {
	var refs []string
	for {
		open := strings.Index(s, openDelim)
		if open < 0 {
			return refs
		}
		rest := s[open+len(openDelim):]
		close := strings.Index(rest, closeDelim)
		if close < 0 {
			return refs
		}
		refs = append(refs, strings.TrimSpace(rest[:close]))
		s = rest[close+len(closeDelim):]
	}
}

// Resolve substitutes every placeholder in s with its bound value from
// scope. The result's placeholders are replaced left to right in a single
// pass; substituted values are emitted verbatim.
func Resolve(s string, scope *Scope) (string, error) {
	var b strings.Builder
	for {
		open := strings.Index(s, openDelim)
		if open < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		rest := s[open+len(openDelim):]
		close := strings.Index(rest, closeDelim)
		if close < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		key := strings.TrimSpace(rest[:close])
		v, ok := scope.Lookup(key)
		if !ok {
			return "", &UnresolvedReferenceError{
				Placeholder: s[open : open+len(openDelim)+close+len(closeDelim)],
				Scope:       scope.Name(),
			}
		}
		b.WriteString(s[:open])
		b.WriteString(v)
		s = rest[close+len(closeDelim):]
	}
}

// ResolveAll resolves each string in ss against scope, in order.
func ResolveAll(ss []string, scope *Scope) ([]string, error) {
	out := make([]string, len(ss))
	for i, s := range ss {
		r, err := Resolve(s, scope)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
