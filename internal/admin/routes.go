package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/stanzactl/internal/client"
	"github.com/danmuck/stanzactl/internal/roster"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/danmuck/stanzactl/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"mellium.im/xmpp/jid"
)

type StatusView struct {
	State    string `json:"state"`
	Message  string `json:"message,omitempty"`
	To       string `json:"to,omitempty"`
	Priority int8   `json:"priority,omitempty"`
}

type RosterItemView struct {
	JID          string     `json:"jid"`
	Name         string     `json:"name,omitempty"`
	Subscription string     `json:"subscription,omitempty"`
	Ask          string     `json:"ask,omitempty"`
	Groups       []string   `json:"groups,omitempty"`
	Status       StatusView `json:"status"`
}

type OneShotView struct {
	ID           string    `json:"id"`
	RegisteredAt time.Time `json:"registered_at"`
}

type SetStatusRequest struct {
	State   string `json:"state"`
	Message string `json:"message"`
	To      string `json:"to"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/", s.requireToken())

	api.GET("/ready", func(c *gin.Context) {
		var state SessionInfo
		err := s.do(c, func(cl *client.Client) error {
			state = sessionInfo(cl)
			return nil
		})
		if err != nil {
			respondError(c, err)
			return
		}
		code := http.StatusOK
		if !state.Ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, state)
	})

	api.GET("/roster", func(c *gin.Context) {
		var items []RosterItemView
		err := s.do(c, func(cl *client.Client) error {
			items = rosterView(cl.Roster().Items())
			return nil
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	})

	api.GET("/status", func(c *gin.Context) {
		var view StatusView
		err := s.do(c, func(cl *client.Client) error {
			view = statusView(cl.Status())
			return nil
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	api.POST("/status", func(c *gin.Context) {
		var req SetStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		state, err := stanza.ParseState(req.State)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var to jid.JID
		if req.To != "" {
			if to, err = jid.Parse(req.To); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		var view StatusView
		err = s.do(c, func(cl *client.Client) error {
			if err := cl.SetStatus(state, req.Message, to); err != nil {
				return err
			}
			view = statusView(cl.Status())
			return nil
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	api.GET("/one-shots", func(c *gin.Context) {
		var pending []OneShotView
		err := s.do(c, func(cl *client.Client) error {
			for _, p := range cl.PendingOneShots() {
				pending = append(pending, OneShotView{ID: p.ID, RegisteredAt: p.RegisteredAt})
			}
			return nil
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": pending})
	})
}

type SessionInfo struct {
	Ready bool   `json:"ready"`
	State string `json:"state"`
	JID   string `json:"jid"`
}

func sessionInfo(cl *client.Client) SessionInfo {
	return SessionInfo{
		Ready: cl.State() == client.StateReady,
		State: string(cl.State()),
		JID:   cl.JID().String(),
	}
}

func (s *Server) do(c *gin.Context, fn func(cl *client.Client) error) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()
	return s.session.Do(ctx, fn)
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, client.ErrNotConnected),
		errors.Is(err, stream.ErrReactorStopped),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusView(st stanza.Status) StatusView {
	return StatusView{
		State:    string(st.State),
		Message:  st.Message,
		To:       st.To.String(),
		Priority: st.Priority,
	}
}

func rosterView(items []roster.Item) []RosterItemView {
	out := make([]RosterItemView, 0, len(items))
	for _, it := range items {
		out = append(out, RosterItemView{
			JID:          it.JID.String(),
			Name:         it.Name,
			Subscription: it.Subscription,
			Ask:          it.Ask,
			Groups:       it.Groups,
			Status:       statusView(it.Status()),
		})
	}
	return out
}
