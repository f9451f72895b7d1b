package plugins

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/stanzactl/internal/client"
	"github.com/rs/zerolog/log"
)

var ErrUnknownPlugin = errors.New("plugins: unknown plugin")

var (
	mu       sync.RWMutex
	registry = map[string]Plugin{}
)

func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name()] = p
}

// RegisterBuiltins registers echo, ping, version and autoaccept. The
// version plugin reports appName and appVersion.
func RegisterBuiltins(appName, appVersion string) {
	Register(Echo())
	Register(Ping())
	Register(Version(appName, appVersion))
	Register(AutoAccept())
}

// Names returns the registered plugin names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Get(name string) (Plugin, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[strings.TrimSpace(name)]
	return p, ok
}

// Install installs the named plugins onto c in order. Unknown names fail
// before anything is installed.
func Install(c *client.Client, names ...string) error {
	selected := make([]Plugin, 0, len(names))
	for _, name := range names {
		p, ok := Get(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPlugin, name)
		}
		selected = append(selected, p)
	}
	for _, p := range selected {
		if err := p.Install(c); err != nil {
			return fmt.Errorf("plugins: install %s: %w", p.Name(), err)
		}
		log.Debug().Str("plugin", p.Name()).Msg("plugins.Install")
	}
	return nil
}
