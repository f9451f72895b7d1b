// Package admin serves the HTTP surface of a running client: health,
// session readiness, roster and presence, and Prometheus metrics.
//
// Every read or write of session state goes through Session.Do so it runs
// on the reactor goroutine.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/stanzactl/internal/auth"
	"github.com/danmuck/stanzactl/internal/client"
	"github.com/danmuck/stanzactl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Session runs fn against the live client on its owning goroutine.
type Session interface {
	Do(ctx context.Context, fn func(c *client.Client) error) error
}

type Config struct {
	Addr        string
	Token       string
	CorsOrigins []string
	// RequestTimeout bounds each Session.Do call.
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:9180",
		CorsOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
	}
}

type Server struct {
	cfg     Config
	session Session
	router  *gin.Engine
	started time.Time
}

func New(cfg Config, session Session) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		session: session,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on cfg.Addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("admin.Server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requireToken rejects requests without the configured bearer token. An
// empty token disables the check.
func (s *Server) requireToken() gin.HandlerFunc {
	token := strings.TrimSpace(s.cfg.Token)
	validator := auth.StaticToken{Token: token}
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if err := auth.CheckHeader(validator, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
