// Package config holds the TOML file models for stanzactl and stanzapeer,
// strict loading and validation, and the templates written by configgen.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/pelletier/go-toml/v2"
	"mellium.im/xmpp/jid"
)

var ErrInvalidConfig = errors.New("config: invalid")

// TLSFields are the flat tls_* keys shared by both file models.
type TLSFields struct {
	SecurityMode          string `toml:"security_mode"`
	TLSEnabled            bool   `toml:"tls_enabled"`
	TLSMutual             bool   `toml:"tls_mutual"`
	TLSCertFile           string `toml:"tls_cert_file"`
	TLSKeyFile            string `toml:"tls_key_file"`
	TLSCAFile             string `toml:"tls_ca_file"`
	TLSServerName         string `toml:"tls_server_name"`
	TLSInsecureSkipVerify bool   `toml:"tls_insecure_skip_verify"`
}

// ClientConfig is the stanzactl file model. Durations are Go duration
// strings.
type ClientConfig struct {
	JID       string `toml:"jid"`
	Password  string `toml:"password"`
	Address   string `toml:"address"`
	Transport string `toml:"transport"`
	TLSFields

	ConnectTimeout   string `toml:"connect_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	ReadTimeout      string `toml:"read_timeout"`
	WriteTimeout     string `toml:"write_timeout"`
	QueueSize        int    `toml:"queue_size"`

	OneShotTTL     string   `toml:"one_shot_ttl"`
	InitialStatus  string   `toml:"initial_status"`
	InitialMessage string   `toml:"initial_message"`
	Priority       int      `toml:"priority"`
	Plugins        []string `toml:"plugins"`

	AdminAddr   string   `toml:"admin_addr"`
	AdminToken  string   `toml:"admin_token"`
	CorsOrigins []string `toml:"cors_origins"`
}

// RosterEntry seeds the stanzapeer roster.
type RosterEntry struct {
	JID          string   `toml:"jid"`
	Name         string   `toml:"name"`
	Subscription string   `toml:"subscription"`
	Groups       []string `toml:"groups"`
}

// PeerConfig is the stanzapeer file model.
type PeerConfig struct {
	ListenAddr    string `toml:"listen_addr"`
	WebSocketAddr string `toml:"websocket_addr"`
	Password      string `toml:"password"`
	TLSFields
	Roster []RosterEntry `toml:"roster"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:          "127.0.0.1:5222",
		Transport:        "tcp",
		TLSFields:        TLSFields{SecurityMode: "development"},
		ConnectTimeout:   "5s",
		HandshakeTimeout: "5s",
		WriteTimeout:     "15s",
		QueueSize:        64,
		InitialStatus:    string(stanza.StateAvailable),
		AdminAddr:        "127.0.0.1:9180",
		CorsOrigins:      []string{"http://localhost:3000"},
	}
}

func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		ListenAddr: "127.0.0.1:5222",
		TLSFields:  TLSFields{SecurityMode: "development"},
	}
}

// LoadClientConfig reads path strictly: unknown keys are errors. Missing
// keys keep their defaults.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func LoadPeerConfig(path string) (PeerConfig, error) {
	cfg := DefaultPeerConfig()
	if err := loadToml(path, &cfg); err != nil {
		return PeerConfig{}, err
	}
	if err := ValidatePeerConfig(cfg); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return decodeToml(path, data, out)
}

func decodeToml(path string, data []byte, out any) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %w: %s", path, ErrInvalidConfig, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.JID) == "" {
		return fmt.Errorf("%w: jid is required", ErrInvalidConfig)
	}
	if _, err := jid.Parse(cfg.JID); err != nil {
		return fmt.Errorf("%w: jid %q: %v", ErrInvalidConfig, cfg.JID, err)
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}
	switch cfg.Transport {
	case "tcp", "websocket":
	default:
		return fmt.Errorf("%w: transport must be tcp or websocket, got %q", ErrInvalidConfig, cfg.Transport)
	}
	if err := validateTLS(cfg.TLSFields); err != nil {
		return err
	}
	for key, raw := range map[string]string{
		"connect_timeout":   cfg.ConnectTimeout,
		"handshake_timeout": cfg.HandshakeTimeout,
		"read_timeout":      cfg.ReadTimeout,
		"write_timeout":     cfg.WriteTimeout,
		"one_shot_ttl":      cfg.OneShotTTL,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
	}
	if cfg.QueueSize < 0 {
		return fmt.Errorf("%w: queue_size must be >= 0", ErrInvalidConfig)
	}
	if _, err := stanza.ParseState(cfg.InitialStatus); err != nil {
		return fmt.Errorf("%w: initial_status: %v", ErrInvalidConfig, err)
	}
	if cfg.Priority < -128 || cfg.Priority > 127 {
		return fmt.Errorf("%w: priority must be within -128..127", ErrInvalidConfig)
	}
	for i, name := range cfg.Plugins {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: plugins[%d] is empty", ErrInvalidConfig, i)
		}
	}
	return nil
}

func ValidatePeerConfig(cfg PeerConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" && strings.TrimSpace(cfg.WebSocketAddr) == "" {
		return fmt.Errorf("%w: listen_addr or websocket_addr is required", ErrInvalidConfig)
	}
	if err := validateTLS(cfg.TLSFields); err != nil {
		return err
	}
	for i, entry := range cfg.Roster {
		if _, err := jid.Parse(entry.JID); err != nil {
			return fmt.Errorf("%w: roster[%d] jid %q: %v", ErrInvalidConfig, i, entry.JID, err)
		}
		switch entry.Subscription {
		case "", stanza.SubscriptionNone, stanza.SubscriptionTo, stanza.SubscriptionFrom, stanza.SubscriptionBoth:
		default:
			return fmt.Errorf("%w: roster[%d] subscription %q", ErrInvalidConfig, i, entry.Subscription)
		}
	}
	return nil
}

func validateTLS(f TLSFields) error {
	switch strings.ToLower(strings.TrimSpace(f.SecurityMode)) {
	case "", "development", "production":
	default:
		return fmt.Errorf("%w: security_mode %q", ErrInvalidConfig, f.SecurityMode)
	}
	if f.TLSMutual && !f.TLSEnabled {
		return fmt.Errorf("%w: tls_mutual requires tls_enabled", ErrInvalidConfig)
	}
	return nil
}

// parseDuration treats the empty string as zero.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
