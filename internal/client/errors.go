package client

import (
	"errors"
	"fmt"

	"github.com/danmuck/stanzactl/internal/stanza"
)

var (
	ErrNotConnected  = errors.New("client: not connected")
	ErrNilStanza     = errors.New("client: nil stanza")
	ErrInvalidConfig = errors.New("client: invalid config")
)

// FatalError is returned from Dispatch when an error stanza reached the
// default error handler. The session should not keep running.
type FatalError struct {
	Stanza *stanza.Stanza
}

func (e *FatalError) Error() string {
	if e == nil || e.Stanza == nil {
		return "client: fatal error stanza"
	}
	if e.Stanza.Error == nil {
		return fmt.Sprintf("client: fatal error stanza: %s", e.Stanza)
	}
	return fmt.Sprintf("client: fatal %s error: %s", e.Stanza.Element, e.Stanza.Error.Error())
}
