package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/browser"
	"github.com/tabwatch/tabwatch/capture"
	"github.com/tabwatch/tabwatch/config"
	"github.com/tabwatch/tabwatch/queue"
	"github.com/tabwatch/tabwatch/schedule"
	"github.com/tabwatch/tabwatch/watch"
)

// TabLister exposes the open tabs of the connected browser.
// Implemented by *browser.Session.
type TabLister interface {
	ListTabs(ctx context.Context) ([]*browser.TabInfo, error)
}

// TabwatchServer serves the HTTP API and the websocket status stream.
type TabwatchServer struct {
	alarms  *schedule.Store
	execs   *schedule.ExecutionStore
	regions *capture.RegionStore
	status  *watch.StatusBoard
	tabs    TabLister
	queue   *queue.Queue
	cfg     config.ServerConfig
	logger  *zap.SugaredLogger

	mux  *http.ServeMux
	http *http.Server

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewServer creates the API server and registers its routes.
func NewServer(alarms *schedule.Store, execs *schedule.ExecutionStore, regions *capture.RegionStore, status *watch.StatusBoard, tabs TabLister, q *queue.Queue, cfg config.ServerConfig, log *zap.SugaredLogger) *TabwatchServer {
	s := &TabwatchServer{
		alarms:  alarms,
		execs:   execs,
		regions: regions,
		status:  status,
		tabs:    tabs,
		queue:   q,
		cfg:     cfg,
		logger:  log,
		mux:     http.NewServeMux(),
		clients: make(map[*Client]bool),
	}
	s.setupHTTPRoutes()
	return s
}

// Handler returns the server's HTTP handler.
func (s *TabwatchServer) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured port and blocks until the server stops.
func (s *TabwatchServer) Start() error {
	port := config.DefaultServerPort
	if s.cfg.Port != nil {
		port = *s.cfg.Port
	}

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.mux,
	}

	s.logger.Infow("API server listening", "port", port)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server, closing websocket clients first.
func (s *TabwatchServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for client := range s.clients {
		client.close()
		delete(s.clients, client)
	}
	s.mu.Unlock()

	if s.http == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
