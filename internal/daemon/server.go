package daemon

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/caiofmo/zapdesk/internal/cache"
	"github.com/caiofmo/zapdesk/internal/crm"
	"github.com/caiofmo/zapdesk/internal/inbox"
	"github.com/caiofmo/zapdesk/internal/outbound"
	"github.com/caiofmo/zapdesk/internal/push"
	"github.com/caiofmo/zapdesk/internal/store"
	intsync "github.com/caiofmo/zapdesk/internal/sync"
)

// Server exposes the daemon's local HTTP bridge. Frontends talk to
// this loopback API instead of the CRM directly, so every read comes
// from the synchronized local state and every write goes through the
// optimistic pipelines.
type Server struct {
	store    *inbox.Store
	rec      *inbox.Reconciler
	engine   *intsync.Engine
	pipeline *outbound.Pipeline
	crm      *crm.Client
	machine  *push.Machine
	db       *store.DB
	cache    *cache.Cache
	logger   *zap.Logger

	router *gin.Engine
	server *http.Server
}

func NewServer(
	listen string,
	st *inbox.Store,
	rec *inbox.Reconciler,
	engine *intsync.Engine,
	pipeline *outbound.Pipeline,
	client *crm.Client,
	machine *push.Machine,
	db *store.DB,
	c *cache.Cache,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		store:    st,
		rec:      rec,
		engine:   engine,
		pipeline: pipeline,
		crm:      client,
		machine:  machine,
		db:       db,
		cache:    c,
		logger:   logger.Named("bridge"),
		router:   router,
		server: &http.Server{
			Addr:    listen,
			Handler: router,
		},
	}
	s.registerRoutes()
	return s
}

// Handler exposes the route tree for in-process testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop. Blocks.
func (s *Server) Start() error {
	s.logger.Info("bridge listening", zap.String("addr", s.server.Addr))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
