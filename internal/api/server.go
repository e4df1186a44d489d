// Package api exposes the notification service over HTTP.
//
// Every route under /api/v1 requires an HS256 bearer token. /health is open.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"pivotflow/internal/eventbus"
	"pivotflow/internal/model"
	rtsup "pivotflow/internal/runtime/supervisor"
	logx "pivotflow/pkg/logx"
)

var ErrNoSecret = errors.New("api: jwt secret is required")

const defaultAddr = "127.0.0.1:8780"

type Config struct {
	Addr       string
	JWTSecret  string
	Issuer     string
	RatePerSec int
	Burst      int
	// Pprof mounts net/http/pprof under /debug/pprof behind the same auth.
	Pprof bool
}

// Notifications is the part of notifier.Service the API drives.
type Notifications interface {
	Submit(ctx context.Context, req model.PendingRequest) error
	SubmitMany(ctx context.Context, reqs []model.PendingRequest) error
	MarkRead(ctx context.Context, id string) (bool, error)
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) (bool, error)
	DeleteAll(ctx context.Context) error
	Clear(ctx context.Context, main model.MainCategory) (int, error)
	UnreadCount(main model.MainCategory) int
	Filtered(main model.MainCategory, sub string) []model.Notification
	Get(id string) (model.Notification, bool)
	SoundEnabled() bool
	SetSoundEnabled(ctx context.Context, enabled bool) error
	QueueLen() int
	Len() int
}

// Server owns the gin engine and its http.Server.
type Server struct {
	log    logx.Logger
	cfg    Config
	svc    Notifications
	bus    eventbus.Bus
	health func() rtsup.Snapshot
	engine *gin.Engine

	mu   sync.Mutex
	srv  *http.Server
	addr string
	done chan struct{}

	// quit ends open event streams so Shutdown does not wait on them.
	quit     chan struct{}
	quitOnce sync.Once
}

// New builds the router. health may be nil; when set, /health includes its
// goroutine snapshot.
func New(cfg Config, svc Notifications, bus eventbus.Bus, health func() rtsup.Snapshot, log logx.Logger) (*Server, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, ErrNoSecret
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	s := &Server{
		log:    log.With(logx.String("comp", "api")),
		cfg:    cfg,
		svc:    svc,
		bus:    bus,
		health: health,
		quit:   make(chan struct{}),
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr is the bound listen address once Start has returned.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.log))

	r.GET("/health", s.handleHealth())

	v1 := r.Group("/api/v1")
	v1.Use(JWTAuth(s.cfg.JWTSecret, s.cfg.Issuer))
	if s.cfg.RatePerSec > 0 {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = s.cfg.RatePerSec
		}
		v1.Use(RateLimit(rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), burst)))
	}
	{
		n := v1.Group("/notifications")
		n.POST("", s.handleSubmit())
		n.POST("/batch", s.handleSubmitMany())
		n.GET("", s.handleList())
		n.GET("/unread-count", s.handleUnreadCount())
		n.PUT("/read-all", s.handleMarkAllRead())
		n.POST("/clear", s.handleClear())
		n.DELETE("", s.handleDeleteAll())
		n.GET("/:id", s.handleGet())
		n.PUT("/:id/read", s.handleMarkRead())
		n.DELETE("/:id", s.handleDelete())

		v1.GET("/settings/sound", s.handleGetSound())
		v1.PUT("/settings/sound", s.handleSetSound())
		v1.GET("/events", s.handleEvents())
	}

	if s.cfg.Pprof {
		d := r.Group("/debug/pprof", JWTAuth(s.cfg.JWTSecret, s.cfg.Issuer))
		d.GET("/", gin.WrapF(hpprof.Index))
		d.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
		d.GET("/profile", gin.WrapF(hpprof.Profile))
		d.GET("/symbol", gin.WrapF(hpprof.Symbol))
		d.GET("/trace", gin.WrapF(hpprof.Trace))
		d.GET("/:name", func(c *gin.Context) {
			hpprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request)
		})
	}
	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	s.srv, s.addr, s.done = srv, ln.Addr().String(), done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server stopped", logx.Err(err))
		}
	}()
	s.log.Info("api listening", logx.String("addr", s.addr))
	return nil
}

// Stop shuts the server down gracefully, closing it hard if ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.done = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.quitOnce.Do(func() { close(s.quit) })
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}
