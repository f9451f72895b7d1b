package dispatch

import (
	"github.com/danmuck/stanzactl/internal/observability"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/rs/zerolog/log"
)

// Dispatch routes s through r. A one-shot handler registered for the
// stanza id wins outright. Otherwise the hierarchy is walked from most
// specific to most general; at each level every observer runs, then the
// first matching handler. Single-response kinds stop at the first level that has any
// handlers; other kinds visit every level.
//
// The first handler or guard error aborts dispatch and is returned as is.
func Dispatch(r *Registry, s *stanza.Stanza) error {
	observability.RecordDispatch(string(s.Kind))

	if h, ok := r.TakeOneShot(s.ID); ok {
		observability.RecordOneShot(observability.OneShotDelivered)
		log.Debug().Str("id", s.ID).Msg("dispatch.Dispatch one_shot")
		return h(s)
	}

	for _, tag := range s.Hierarchy {
		for _, o := range r.Observers(tag) {
			if err := o(s); err != nil {
				return err
			}
		}
		h, had, err := r.FirstMatch(tag, s)
		if err != nil {
			return err
		}
		if h != nil {
			observability.RecordHandlerCall(string(tag))
			log.Debug().
				Str("tag", string(tag)).
				Str("kind", string(s.Kind)).
				Str("id", s.ID).
				Msg("dispatch.Dispatch handler")
			if err := h(s); err != nil {
				return err
			}
		}
		if had && s.Kind.SingleResponse() {
			return nil
		}
	}
	return nil
}
