package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/stanzactl/internal/guard"
	"github.com/danmuck/stanzactl/internal/stanza"
)

var (
	ErrInvalidTag       = errors.New("dispatch: invalid handler tag")
	ErrNilHandler       = errors.New("dispatch: nil handler")
	ErrInvalidOneShotID = errors.New("dispatch: invalid one-shot id")
	ErrReadyGuards      = errors.New("dispatch: ready handlers take no guards")
)

// Handler handles one stanza. A non-nil error is fatal for the session and
// stops dispatch. Ready handlers receive a nil stanza.
type Handler func(s *stanza.Stanza) error

type entry struct {
	guards  []guard.Guard
	handler Handler
}

type oneShot struct {
	handler      Handler
	registeredAt time.Time
}

// PendingOneShot describes a one-shot handler still awaiting its reply.
type PendingOneShot struct {
	ID           string
	RegisteredAt time.Time
}

// Registry stores guarded handlers per tag in registration order plus the
// one-shot table keyed by correlation id. Each tag also has observers,
// which see every stanza reaching that tag, and fallbacks, which are
// consulted only after every ordinary handler for the tag failed to match.
// It is owned by a single client and is not safe for concurrent use.
type Registry struct {
	handlers  map[stanza.Tag][]entry
	fallbacks map[stanza.Tag][]entry
	observers map[stanza.Tag][]Handler
	oneShots  map[string]oneShot
	now       func() time.Time
}

type RegistryOption func(*Registry)

// WithClock overrides the clock used to stamp one-shot registrations.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		handlers:  make(map[stanza.Tag][]entry),
		fallbacks: make(map[stanza.Tag][]entry),
		observers: make(map[stanza.Tag][]Handler),
		oneShots:  make(map[string]oneShot),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends a handler for tag. Existing entries are never replaced;
// an identical guard set registered later is shadowed by the earlier one.
func (r *Registry) Register(tag stanza.Tag, guards []guard.Guard, h Handler) error {
	e, err := newEntry(tag, guards, h)
	if err != nil {
		return err
	}
	r.handlers[tag] = append(r.handlers[tag], e)
	return nil
}

// RegisterFallback appends a handler that is only tried when no ordinary
// handler for tag matched.
func (r *Registry) RegisterFallback(tag stanza.Tag, guards []guard.Guard, h Handler) error {
	e, err := newEntry(tag, guards, h)
	if err != nil {
		return err
	}
	r.fallbacks[tag] = append(r.fallbacks[tag], e)
	return nil
}

// Observe adds a handler that runs for every stanza whose dispatch reaches
// tag, before the first matching handler. Observers count as handlers for
// the single-response stop rule.
func (r *Registry) Observe(tag stanza.Tag, h Handler) error {
	if strings.TrimSpace(string(tag)) == "" {
		return ErrInvalidTag
	}
	if h == nil {
		return fmt.Errorf("%w: observer tag=%s", ErrNilHandler, tag)
	}
	r.observers[tag] = append(r.observers[tag], h)
	return nil
}

func newEntry(tag stanza.Tag, guards []guard.Guard, h Handler) (entry, error) {
	if strings.TrimSpace(string(tag)) == "" {
		return entry{}, ErrInvalidTag
	}
	if h == nil {
		return entry{}, fmt.Errorf("%w: tag=%s", ErrNilHandler, tag)
	}
	if tag == stanza.TagReady && len(guards) > 0 {
		return entry{}, ErrReadyGuards
	}
	if err := guard.Validate(guards); err != nil {
		return entry{}, fmt.Errorf("dispatch: register %s: %w", tag, err)
	}
	set := make([]guard.Guard, len(guards))
	copy(set, guards)
	return entry{guards: set, handler: h}, nil
}

// FirstMatch returns the first handler for tag whose guards pass,
// ordinary handlers before fallbacks. had reports whether tag has anything
// registered at all, matching or not.
func (r *Registry) FirstMatch(tag stanza.Tag, s *stanza.Stanza) (h Handler, had bool, err error) {
	had = len(r.handlers[tag])+len(r.fallbacks[tag])+len(r.observers[tag]) > 0
	if !had {
		return nil, false, nil
	}
	for _, list := range [][]entry{r.handlers[tag], r.fallbacks[tag]} {
		for _, e := range list {
			ok, err := guard.Passes(e.guards, s)
			if err != nil {
				return nil, true, fmt.Errorf("dispatch: tag %s: %w", tag, err)
			}
			if ok {
				return e.handler, true, nil
			}
		}
	}
	return nil, true, nil
}

func (r *Registry) Observers(tag stanza.Tag) []Handler {
	return r.observers[tag]
}

// Each calls fn with every ordinary handler registered for tag, in order,
// stopping at the first error.
func (r *Registry) Each(tag stanza.Tag, fn func(Handler) error) error {
	for _, e := range r.handlers[tag] {
		if err := fn(e.handler); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of ordinary handlers registered for tag.
func (r *Registry) Count(tag stanza.Tag) int {
	return len(r.handlers[tag])
}

// RegisterOneShot stores a single-use handler for id, replacing any
// previous one.
func (r *Registry) RegisterOneShot(id string, h Handler) error {
	key := strings.TrimSpace(id)
	if key == "" {
		return ErrInvalidOneShotID
	}
	if h == nil {
		return fmt.Errorf("%w: one-shot id=%q", ErrNilHandler, key)
	}
	r.oneShots[key] = oneShot{handler: h, registeredAt: r.now()}
	return nil
}

// TakeOneShot removes and returns the handler for id.
func (r *Registry) TakeOneShot(id string) (Handler, bool) {
	key := strings.TrimSpace(id)
	if key == "" {
		return nil, false
	}
	item, ok := r.oneShots[key]
	if !ok {
		return nil, false
	}
	delete(r.oneShots, key)
	return item.handler, true
}

// RemoveOneShot drops the handler for id without calling it.
func (r *Registry) RemoveOneShot(id string) bool {
	key := strings.TrimSpace(id)
	if _, ok := r.oneShots[key]; !ok {
		return false
	}
	delete(r.oneShots, key)
	return true
}

// ExpireOneShots removes handlers registered before the cutoff and
// returns their ids in sorted order.
func (r *Registry) ExpireOneShots(before time.Time) []string {
	var expired []string
	for id, item := range r.oneShots {
		if item.registeredAt.Before(before) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(r.oneShots, id)
	}
	sort.Strings(expired)
	return expired
}

func (r *Registry) PendingOneShots() []PendingOneShot {
	out := make([]PendingOneShot, 0, len(r.oneShots))
	for id, item := range r.oneShots {
		out = append(out, PendingOneShot{ID: id, RegisteredAt: item.registeredAt})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
