package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/stanzactl/internal/config"
)

type fileConfig struct {
	JID                   string   `toml:"jid"`
	Password              string   `toml:"password"`
	Address               string   `toml:"address"`
	Transport             string   `toml:"transport"`
	SecurityMode          string   `toml:"security_mode"`
	TLSEnabled            bool     `toml:"tls_enabled"`
	TLSMutual             bool     `toml:"tls_mutual"`
	TLSCertFile           string   `toml:"tls_cert_file"`
	TLSKeyFile            string   `toml:"tls_key_file"`
	TLSCAFile             string   `toml:"tls_ca_file"`
	TLSServerName         string   `toml:"tls_server_name"`
	TLSInsecureSkipVerify bool     `toml:"tls_insecure_skip_verify"`
	ConnectTimeout        string   `toml:"connect_timeout"`
	HandshakeTimeout      string   `toml:"handshake_timeout"`
	ReadTimeout           string   `toml:"read_timeout"`
	WriteTimeout          string   `toml:"write_timeout"`
	QueueSize             int      `toml:"queue_size"`
	OneShotTTL            string   `toml:"one_shot_ttl"`
	InitialStatus         string   `toml:"initial_status"`
	InitialMessage        string   `toml:"initial_message"`
	Priority              int      `toml:"priority"`
	Plugins               []string `toml:"plugins"`
	AdminAddr             string   `toml:"admin_addr"`
	AdminToken            string   `toml:"admin_token"`
	CorsOrigins           []string `toml:"cors_origins"`
}

// loadServiceConfig overlays the keys present in path onto the defaults.
func loadServiceConfig(path string) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.ClientConfig{}, fmt.Errorf("load stanzactl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.ClientConfig{}, fmt.Errorf("load stanzactl config: unknown key %q", undecoded[0].String())
	}

	str := func(key string, dst *string, v string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	str("jid", &cfg.JID, raw.JID)
	str("address", &cfg.Address, raw.Address)
	str("transport", &cfg.Transport, raw.Transport)
	str("security_mode", &cfg.SecurityMode, raw.SecurityMode)
	str("tls_cert_file", &cfg.TLSCertFile, raw.TLSCertFile)
	str("tls_key_file", &cfg.TLSKeyFile, raw.TLSKeyFile)
	str("tls_ca_file", &cfg.TLSCAFile, raw.TLSCAFile)
	str("tls_server_name", &cfg.TLSServerName, raw.TLSServerName)
	str("connect_timeout", &cfg.ConnectTimeout, raw.ConnectTimeout)
	str("handshake_timeout", &cfg.HandshakeTimeout, raw.HandshakeTimeout)
	str("read_timeout", &cfg.ReadTimeout, raw.ReadTimeout)
	str("write_timeout", &cfg.WriteTimeout, raw.WriteTimeout)
	str("one_shot_ttl", &cfg.OneShotTTL, raw.OneShotTTL)
	str("initial_status", &cfg.InitialStatus, raw.InitialStatus)
	str("admin_addr", &cfg.AdminAddr, raw.AdminAddr)
	str("admin_token", &cfg.AdminToken, raw.AdminToken)

	// Passwords and status messages keep surrounding whitespace.
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	if meta.IsDefined("initial_message") {
		cfg.InitialMessage = raw.InitialMessage
	}
	if meta.IsDefined("tls_enabled") {
		cfg.TLSEnabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_mutual") {
		cfg.TLSMutual = raw.TLSMutual
	}
	if meta.IsDefined("tls_insecure_skip_verify") {
		cfg.TLSInsecureSkipVerify = raw.TLSInsecureSkipVerify
	}
	if meta.IsDefined("queue_size") {
		cfg.QueueSize = raw.QueueSize
	}
	if meta.IsDefined("priority") {
		cfg.Priority = raw.Priority
	}
	if meta.IsDefined("plugins") {
		cfg.Plugins = normalizeList(raw.Plugins)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}

	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
