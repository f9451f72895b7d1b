package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "peer":
		return peerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Load validates the file at path as kind.
func Load(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		_, err := LoadClientConfig(path)
		return err
	case "peer":
		_, err := LoadPeerConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const clientTemplate = `jid = "bot@localhost"
password = "change-me"
address = "127.0.0.1:5222"
transport = "tcp"

security_mode = "development"
tls_enabled = false
tls_ca_file = ""

connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "15s"
queue_size = 64

one_shot_ttl = "2m"
initial_status = "available"
initial_message = ""
priority = 0
plugins = ["ping", "version"]

admin_addr = "127.0.0.1:9180"
admin_token = ""
cors_origins = ["http://localhost:3000"]
`

const peerTemplate = `listen_addr = "127.0.0.1:5222"
websocket_addr = "127.0.0.1:5280"
password = "change-me"
security_mode = "development"
tls_enabled = false

[[roster]]
jid = "alice@localhost"
name = "Alice"
subscription = "both"
groups = ["friends"]

[[roster]]
jid = "bob@localhost"
subscription = "to"
`
