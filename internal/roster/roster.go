// Package roster keeps the session's view of its peers: one item per bare
// address plus the last status seen from each of the peer's resources.
package roster

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/stanzactl/internal/stanza"
	"mellium.im/xmpp/jid"
)

var ErrNotRoster = errors.New("roster: not a roster stanza")

// Item is a read-only snapshot of one roster entry.
type Item struct {
	JID          jid.JID
	Name         string
	Subscription string
	Ask          string
	Groups       []string
	Statuses     map[string]stanza.Status
}

// Status returns the best current status: the highest priority status of
// an online resource, or unavailable when none is online.
func (it Item) Status() stanza.Status {
	var (
		best  stanza.Status
		found bool
	)
	resources := make([]string, 0, len(it.Statuses))
	for res := range it.Statuses {
		resources = append(resources, res)
	}
	sort.Strings(resources)
	for _, res := range resources {
		st := it.Statuses[res]
		if st.State == stanza.StateUnavailable {
			continue
		}
		if !found || st.Priority > best.Priority {
			best = st
			found = true
		}
	}
	if !found {
		return stanza.Status{State: stanza.StateUnavailable}
	}
	return best
}

type item struct {
	name         string
	subscription string
	ask          string
	groups       []string
	statuses     map[string]stanza.Status
}

// Roster is owned by a single session and is not safe for concurrent use.
type Roster struct {
	items map[string]*item
}

func New() *Roster {
	return &Roster{items: make(map[string]*item)}
}

func key(j jid.JID) string {
	return j.Bare().String()
}

// Process applies a roster result or push. Items with subscription
// "remove" are deleted; everything else is upserted and keeps any
// statuses already recorded for the peer.
func (r *Roster) Process(s *stanza.Stanza) error {
	if s == nil || s.Namespace != stanza.NSRoster {
		return ErrNotRoster
	}
	for _, ri := range s.Items {
		k := key(ri.JID)
		if k == "" {
			return fmt.Errorf("roster: item without address in %s", s.ID)
		}
		if ri.Subscription == stanza.SubscriptionRemove {
			delete(r.items, k)
			continue
		}
		cur, ok := r.items[k]
		if !ok {
			cur = &item{statuses: make(map[string]stanza.Status)}
			r.items[k] = cur
		}
		cur.name = ri.Name
		cur.subscription = ri.Subscription
		cur.ask = ri.Ask
		cur.groups = append([]string(nil), ri.Groups...)
	}
	return nil
}

// Has reports whether the bare form of j is on the roster.
func (r *Roster) Has(j jid.JID) bool {
	_, ok := r.items[key(j)]
	return ok
}

// UpdateStatus records st for the sending resource. It reports false when
// the sender is not on the roster.
func (r *Roster) UpdateStatus(from jid.JID, st stanza.Status) bool {
	cur, ok := r.items[key(from)]
	if !ok {
		return false
	}
	cur.statuses[from.Resourcepart()] = st
	return true
}

func (r *Roster) Get(j jid.JID) (Item, bool) {
	k := key(j)
	cur, ok := r.items[k]
	if !ok {
		return Item{}, false
	}
	return snapshot(k, cur), true
}

// Items returns every entry ordered by address.
func (r *Roster) Items() []Item {
	keys := make([]string, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, snapshot(k, r.items[k]))
	}
	return out
}

func (r *Roster) Len() int {
	return len(r.items)
}

func snapshot(k string, cur *item) Item {
	statuses := make(map[string]stanza.Status, len(cur.statuses))
	for res, st := range cur.statuses {
		statuses[res] = st
	}
	return Item{
		JID:          jid.MustParse(k),
		Name:         cur.name,
		Subscription: cur.subscription,
		Ask:          cur.ask,
		Groups:       append([]string(nil), cur.groups...),
		Statuses:     statuses,
	}
}
