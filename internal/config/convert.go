package config

import (
	"fmt"
	"strings"

	"github.com/danmuck/stanzactl/internal/admin"
	"github.com/danmuck/stanzactl/internal/client"
	"github.com/danmuck/stanzactl/internal/protocol/handshake"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/danmuck/stanzactl/internal/stream"
	"mellium.im/xmpp/jid"
)

func (f TLSFields) handshake() handshake.Config {
	cfg := handshake.DefaultConfig()
	cfg.SecurityMode = handshake.NormalizeSecurityMode(handshake.SecurityMode(f.SecurityMode))
	cfg.TLS = handshake.TLSConfig{
		Enabled:            f.TLSEnabled,
		Mutual:             f.TLSMutual,
		CertFile:           strings.TrimSpace(f.TLSCertFile),
		KeyFile:            strings.TrimSpace(f.TLSKeyFile),
		CAFile:             strings.TrimSpace(f.TLSCAFile),
		ServerName:         strings.TrimSpace(f.TLSServerName),
		InsecureSkipVerify: f.TLSInsecureSkipVerify,
	}
	return cfg
}

// StreamConfig builds the dial configuration.
func (c ClientConfig) StreamConfig() (stream.Config, error) {
	addr, err := jid.Parse(c.JID)
	if err != nil {
		return stream.Config{}, fmt.Errorf("%w: jid %q: %v", ErrInvalidConfig, c.JID, err)
	}
	cfg := stream.DefaultConfig()
	cfg.Address = strings.TrimSpace(c.Address)
	cfg.Transport = c.Transport
	cfg.JID = addr
	cfg.Password = c.Password
	cfg.Handshake = c.TLSFields.handshake()
	if cfg.Handshake.ConnectTimeout, err = parseDuration(c.ConnectTimeout); err != nil {
		return stream.Config{}, err
	}
	if cfg.Handshake.HandshakeTimeout, err = parseDuration(c.HandshakeTimeout); err != nil {
		return stream.Config{}, err
	}
	if cfg.Handshake.ReadTimeout, err = parseDuration(c.ReadTimeout); err != nil {
		return stream.Config{}, err
	}
	if cfg.Handshake.WriteTimeout, err = parseDuration(c.WriteTimeout); err != nil {
		return stream.Config{}, err
	}
	cfg.QueueSize = c.QueueSize
	return cfg.WithDefaults(), nil
}

// ClientSettings builds the session configuration.
func (c ClientConfig) ClientSettings() (client.Config, error) {
	addr, err := jid.Parse(c.JID)
	if err != nil {
		return client.Config{}, fmt.Errorf("%w: jid %q: %v", ErrInvalidConfig, c.JID, err)
	}
	state, err := stanza.ParseState(c.InitialStatus)
	if err != nil {
		return client.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	ttl, err := parseDuration(c.OneShotTTL)
	if err != nil {
		return client.Config{}, err
	}
	cfg := client.DefaultConfig(addr)
	cfg.OneShotTTL = ttl
	cfg.InitialStatus = stanza.Status{
		State:    state,
		Message:  c.InitialMessage,
		Priority: int8(c.Priority),
	}
	return cfg, nil
}

func (c ClientConfig) AdminConfig() admin.Config {
	cfg := admin.DefaultConfig()
	cfg.Addr = strings.TrimSpace(c.AdminAddr)
	cfg.Token = strings.TrimSpace(c.AdminToken)
	if len(c.CorsOrigins) > 0 {
		cfg.CorsOrigins = c.CorsOrigins
	}
	return cfg
}

// StreamPeerConfig builds the loopback peer configuration.
func (c PeerConfig) StreamPeerConfig() (stream.PeerConfig, error) {
	items := make([]stanza.RosterItem, 0, len(c.Roster))
	for i, entry := range c.Roster {
		addr, err := jid.Parse(entry.JID)
		if err != nil {
			return stream.PeerConfig{}, fmt.Errorf("%w: roster[%d]: %v", ErrInvalidConfig, i, err)
		}
		sub := entry.Subscription
		if sub == "" {
			sub = stanza.SubscriptionNone
		}
		items = append(items, stanza.RosterItem{
			JID:          addr,
			Name:         entry.Name,
			Subscription: sub,
			Groups:       entry.Groups,
		})
	}
	return stream.PeerConfig{
		Handshake: c.TLSFields.handshake(),
		Password:  c.Password,
		Roster:    items,
	}.WithDefaults(), nil
}
