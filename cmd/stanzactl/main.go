package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/stanzactl/internal/admin"
	"github.com/danmuck/stanzactl/internal/client"
	"github.com/danmuck/stanzactl/internal/config"
	"github.com/danmuck/stanzactl/internal/logging"
	"github.com/danmuck/stanzactl/internal/observability"
	"github.com/danmuck/stanzactl/internal/plugins"
	"github.com/danmuck/stanzactl/internal/stream"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "cmd/stanzactl/config.toml", "path to the stanzactl config file")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("stanzactl")

	cfg, err := loadServiceConfig(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stanzactl: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "stanzactl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.ClientConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.RegisterMetrics()
	plugins.RegisterBuiltins("stanzactl", admin.Version)

	settings, err := cfg.ClientSettings()
	if err != nil {
		return err
	}
	c, err := client.New(settings)
	if err != nil {
		return err
	}
	if err := plugins.Install(c, cfg.Plugins...); err != nil {
		return err
	}

	streamCfg, err := cfg.StreamConfig()
	if err != nil {
		return err
	}
	s, err := stream.Open(ctx, streamCfg)
	if err != nil {
		return err
	}
	reactor := stream.NewReactor(s, c, streamCfg.QueueSize)

	adminErr := make(chan error, 1)
	if cfg.AdminAddr != "" {
		srv := admin.New(cfg.AdminConfig(), reactor)
		go func() {
			adminErr <- srv.Serve(ctx)
		}()
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- reactor.Run(ctx)
	}()

	select {
	case err := <-runErr:
		stop()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case err := <-adminErr:
		if err != nil {
			log.Error().Err(err).Msg("stanzactl admin server failed")
		}
		stop()
		err = <-runErr
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}
