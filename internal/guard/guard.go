// Package guard evaluates handler guards against stanzas.
//
// A guard set is a list of guards combined with AND. The variants are:
//   - Attr: passes when the named attribute is truthy
//   - Fields: passes when every entry matches (regexp values match the
//     string form of the attribute, other values compare for equality)
//   - Any: passes when at least one sub-guard passes
//   - Predicate: an arbitrary function over the stanza
//
// Evaluation short-circuits on the first failing AND term and the first
// passing OR term.
package guard

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/danmuck/stanzactl/internal/stanza"
	"mellium.im/xmpp/jid"
)

var (
	ErrBadGuard  = errors.New("guard: bad guard")
	ErrGuardEval = errors.New("guard: evaluation failed")
)

// Guard is one of Attr, Fields, Any or Predicate.
type Guard interface {
	isGuard()
}

// Attr passes when the named stanza attribute is truthy.
type Attr string

// Fields passes when every attribute matches its expected value. Integer
// values of any width compare by numeric value.
type Fields map[string]any

// Any passes when at least one of its guards passes. An empty Any never
// passes.
type Any []Guard

// Predicate passes when the function returns true.
type Predicate func(s *stanza.Stanza) bool

func (Attr) isGuard()      {}
func (Fields) isGuard()    {}
func (Any) isGuard()       {}
func (Predicate) isGuard() {}

// Validate reports the first malformed guard in set.
func Validate(set []Guard) error {
	for i, g := range set {
		if err := validate(g); err != nil {
			return fmt.Errorf("guard[%d]: %w", i, err)
		}
	}
	return nil
}

func validate(g Guard) error {
	switch g := g.(type) {
	case nil:
		return fmt.Errorf("%w: nil guard", ErrBadGuard)
	case Attr:
		if strings.TrimSpace(string(g)) == "" {
			return fmt.Errorf("%w: empty attribute name", ErrBadGuard)
		}
	case Fields:
		for name, want := range g {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("%w: empty field name", ErrBadGuard)
			}
			if err := validateExpected(name, want); err != nil {
				return err
			}
		}
	case Any:
		for i, sub := range g {
			if err := validate(sub); err != nil {
				return fmt.Errorf("any[%d]: %w", i, err)
			}
		}
	case Predicate:
		if g == nil {
			return fmt.Errorf("%w: nil predicate", ErrBadGuard)
		}
	default:
		return fmt.Errorf("%w: %T", ErrBadGuard, g)
	}
	return nil
}

func validateExpected(name string, want any) error {
	switch w := want.(type) {
	case nil:
		return nil
	case *regexp.Regexp:
		if w == nil {
			return fmt.Errorf("%w: nil pattern for %q", ErrBadGuard, name)
		}
		return nil
	case jid.JID:
		return nil
	}
	if !reflect.TypeOf(want).Comparable() {
		return fmt.Errorf("%w: incomparable value %T for %q", ErrBadGuard, want, name)
	}
	return nil
}

// Passes reports whether every guard in set passes for s. An empty set
// always passes. Errors are configuration errors and must not be ignored.
func Passes(set []Guard, s *stanza.Stanza) (bool, error) {
	for _, g := range set {
		ok, err := pass(g, s)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func pass(g Guard, s *stanza.Stanza) (bool, error) {
	switch g := g.(type) {
	case Attr:
		v, ok := s.Attr(string(g))
		if !ok {
			return false, fmt.Errorf("%w: unknown attribute %q on %s", ErrGuardEval, string(g), s.Element)
		}
		return truthy(v), nil
	case Fields:
		names := make([]string, 0, len(g))
		for name := range g {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			want := g[name]
			if err := validateExpected(name, want); err != nil {
				return false, err
			}
			got, ok := s.Attr(name)
			if !ok {
				return false, fmt.Errorf("%w: unknown attribute %q on %s", ErrGuardEval, name, s.Element)
			}
			if !matches(got, want) {
				return false, nil
			}
		}
		return true, nil
	case Any:
		for _, sub := range g {
			ok, err := pass(sub, s)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Predicate:
		if g == nil {
			return false, fmt.Errorf("%w: nil predicate", ErrBadGuard)
		}
		return g(s), nil
	case nil:
		return false, fmt.Errorf("%w: nil guard", ErrBadGuard)
	default:
		return false, fmt.Errorf("%w: %T", ErrBadGuard, g)
	}
}

func matches(got, want any) bool {
	switch w := want.(type) {
	case *regexp.Regexp:
		return w.MatchString(stringOf(got))
	case string:
		switch v := got.(type) {
		case string:
			return v == w
		case fmt.Stringer:
			return v.String() == w
		}
		return false
	case jid.JID:
		v, ok := got.(jid.JID)
		return ok && v.Equal(w)
	}
	if a, ok := integer(got); ok {
		if b, ok := integer(want); ok {
			return a == b
		}
	}
	return got == want
}

func integer(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint()), true
	}
	return 0, false
}

func stringOf(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int8:
		return v != 0
	case int64:
		return v != 0
	case fmt.Stringer:
		return v.String() != ""
	}
	return true
}
