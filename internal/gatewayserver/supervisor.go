// Package gatewayserver implements the Supervisor of §4.7: process-wide
// construction of every singleton collaborator, the transport bind, and
// the background idle sweeper, grounded on the teacher's gin-based API
// server and its websocket hub.
package gatewayserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jgtux/convogateway/internal/agentcache"
	"github.com/jgtux/convogateway/internal/agentmanager"
	"github.com/jgtux/convogateway/internal/chatcache"
	"github.com/jgtux/convogateway/internal/config"
	"github.com/jgtux/convogateway/internal/connregistry"
	"github.com/jgtux/convogateway/internal/llmclient"
	"github.com/jgtux/convogateway/internal/metrics"
	"github.com/jgtux/convogateway/internal/sessionhandler"
	"github.com/jgtux/convogateway/internal/wsconn"
)

// idleSweepInterval is the period of the background cleanup_stale task
// (§4.7).
const idleSweepInterval = 60 * time.Second

// Supervisor owns every singleton collaborator and the HTTP/websocket
// bind. Construct with New, then Run to block until ctx is cancelled.
type Supervisor struct {
	cfg *config.Config
	log zerolog.Logger

	router   *gin.Engine
	handler  *sessionhandler.Handler
	registry *connregistry.Registry

	upgrader websocket.Upgrader
}

// New constructs every cache, client and registry the gateway needs and
// wires them into the session handler.
func New(cfg *config.Config, log zerolog.Logger) *Supervisor {
	agents := agentmanager.New(agentcache.New(cfg.AgentCache.MaxSize, log), log)
	chats := chatcache.New(chatcache.Config{
		Capacity:    cfg.ChatCache.MaxSize,
		MaxMessages: cfg.ChatCache.MaxMessages,
		MaxTokens:   cfg.ChatCache.MaxTokens,
		Window:      cfg.Context.MaxMessages,
	}, log)

	breaker := llmclient.NewBreaker(llmclient.DefaultBreakerSettings())
	llm := llmclient.New(llmclient.Config{
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, breaker, log)

	registry := connregistry.New(log)
	handler := sessionhandler.New(agents, chats, llm, registry, cfg.Context, cfg.Stream, log)

	s := &Supervisor{
		cfg:      cfg,
		log:      log.With().Str("component", "supervisor").Logger(),
		handler:  handler,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	if cfg.Log.Format == "console" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Supervisor) setupMiddleware() {
	s.router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
	}))
	s.router.Use(gin.Recovery())
}

func (s *Supervisor) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/ws", s.handleWebSocket)
}

func (s *Supervisor) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Supervisor) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	connectionID := uuid.NewString()
	conn := wsconn.New(ws, config.NewConnectionLogger(connectionID))
	s.registry.Register(connectionID, conn)
	metrics.ConnectionsTotal.Inc()
	metrics.ActiveConnections.Inc()

	stopHeartbeat := make(chan struct{})
	go conn.Heartbeat(s.cfg.Heartbeat.Interval, stopHeartbeat)

	defer func() {
		close(stopHeartbeat)
		s.registry.Unregister(connectionID)
		s.handler.ForgetConnection(connectionID)
		conn.Close()
		metrics.ActiveConnections.Dec()
	}()

	ctx := c.Request.Context()
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.handler.HandleMessage(ctx, connectionID, conn, raw)
	}
}

// Run starts the idle sweeper and the HTTP server, blocking until ctx is
// cancelled, then shuts both down gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:         s.cfg.Transport.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses may run long
	}

	group.Go(func() error {
		s.log.Info().Str("addr", srv.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		s.runIdleSweeper(groupCtx)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func (s *Supervisor) runIdleSweeper(ctx context.Context) {
	timeout := s.cfg.Heartbeat.ConnectionTimeout
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.registry.CleanupStale(timeout)
			if len(evicted) > 0 {
				// ActiveConnections is decremented by each swept
				// connection's own teardown in handleWebSocket.
				metrics.StaleConnectionsEvicted.Add(float64(len(evicted)))
			}
		}
	}
}
