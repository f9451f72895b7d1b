package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/stanzactl/internal/config"
	"github.com/danmuck/stanzactl/internal/logging"
	"github.com/danmuck/stanzactl/internal/observability"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/danmuck/stanzactl/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "cmd/stanzapeer/config.toml", "path to the stanzapeer config file")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("stanzapeer")

	cfg, err := config.LoadPeerConfig(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stanzapeer: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "stanzapeer: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.PeerConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	peerCfg, err := cfg.StreamPeerConfig()
	if err != nil {
		return err
	}
	peerCfg.OnStanza = func(ps *stream.PeerSession, s *stanza.Stanza) {
		log.Info().Str("bound", ps.Bound().String()).Str("stanza", s.String()).Str("body", s.Body).Msg("stanzapeer received")
		if s.Kind == stanza.KindIQ && (s.Type == stanza.TypeGet || s.Type == stanza.TypeSet) {
			_ = ps.Send(stanza.ErrorReply(s, stanza.ErrorCancel, stanza.ServiceUnavailable))
		}
	}
	peer := stream.NewPeer(peerCfg)

	errCh := make(chan error, 2)
	if cfg.ListenAddr != "" {
		ln, err := peer.Listen(cfg.ListenAddr)
		if err != nil {
			return err
		}
		log.Info().Str("addr", ln.Addr().String()).Msg("stanzapeer listening")
		go func() {
			errCh <- peer.Serve(ctx, ln)
		}()
	}
	if cfg.WebSocketAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery())
		r.Use(observability.RequestLogger(log.Logger))
		r.GET("/ws", gin.WrapF(peer.ServeWS))
		srv := &http.Server{Addr: cfg.WebSocketAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go func() {
			log.Info().Str("addr", cfg.WebSocketAddr).Msg("stanzapeer websocket listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
