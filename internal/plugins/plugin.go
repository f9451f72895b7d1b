// Package plugins holds named handler bundles that can be installed onto a
// client from configuration.
package plugins

import (
	"runtime"

	"github.com/danmuck/stanzactl/internal/client"
	"github.com/danmuck/stanzactl/internal/guard"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/rs/zerolog/log"
)

type Plugin interface {
	Name() string
	Install(c *client.Client) error
}

type bundle struct {
	name    string
	install func(c *client.Client) error
}

func (b bundle) Name() string {
	return b.name
}

func (b bundle) Install(c *client.Client) error {
	return b.install(c)
}

// New wraps install as a named plugin.
func New(name string, install func(c *client.Client) error) Plugin {
	return bundle{name: name, install: install}
}

// reply writes out and logs a failed write. A reply that cannot be sent,
// for instance after Stop, does not end the session.
func reply(c *client.Client, plugin string, out *stanza.Stanza) {
	if err := c.Write(out); err != nil {
		log.Warn().Err(err).Str("plugin", plugin).Str("to", out.To.String()).Msg("plugins reply failed")
	}
}

// Echo answers every chat message that has a body with the same body.
func Echo() Plugin {
	return New("echo", func(c *client.Client) error {
		return c.Handle(stanza.TagMessage, func(s *stanza.Stanza) error {
			reply(c, "echo", stanza.NewMessage(s.From, s.Body, stanza.TypeChat))
			return nil
		}, guard.Attr(stanza.TypeChat), guard.Attr("body"))
	})
}

// Ping answers urn:xmpp:ping requests with an empty result.
func Ping() Plugin {
	return New("ping", func(c *client.Client) error {
		return c.Handle(stanza.TagPing, func(s *stanza.Stanza) error {
			reply(c, "ping", stanza.Reply(s))
			return nil
		}, guard.Attr(stanza.TypeGet))
	})
}

// Version answers jabber:iq:version requests. The reply carries name,
// version and os as extra attributes.
func Version(name, version string) Plugin {
	return New("version", func(c *client.Client) error {
		return c.Handle(stanza.TagVersion, func(s *stanza.Stanza) error {
			out := stanza.Reply(s)
			out.Extra = map[string]string{
				"name":    name,
				"version": version,
				"os":      runtime.GOOS,
			}
			reply(c, "version", out)
			return nil
		}, guard.Attr(stanza.TypeGet))
	})
}

// AutoAccept approves every subscription request.
func AutoAccept() Plugin {
	return New("autoaccept", func(c *client.Client) error {
		return c.Handle(stanza.TagSubscription, func(s *stanza.Stanza) error {
			approve := stanza.NewPresence(stanza.TypeSubscribed)
			approve.To = s.From.Bare()
			log.Info().Str("from", s.From.String()).Msg("plugins.AutoAccept subscription approved")
			reply(c, "autoaccept", approve)
			return nil
		}, guard.Attr(stanza.TypeSubscribe))
	})
}
