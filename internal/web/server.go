// Package web implements the HTTP server for the HoodHub chat UI. It serves
// the page, the JSON API, live websocket feeds, rendered docs and metrics.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"hoodhub.chat/hub/internal/api"
	"hoodhub.chat/hub/internal/chat"
	"hoodhub.chat/hub/internal/docs"
	"hoodhub.chat/hub/internal/logger"
)

// TemplateData holds the data to be passed to the HTML templates.
type TemplateData struct {
	CurrentVersion string
	DocList        []string
	DocContent     template.HTML
	CurrentDoc     string
}

// Feed is the live view the UI renders.
type Feed interface {
	View() chat.View
	Subscribe() (<-chan struct{}, func())
}

// Config collects the server's collaborators.
type Config struct {
	Port    int
	Version string
	Feed    Feed
	API     *api.Service
	Docs    *docs.Service
	Logger  *logger.Logger
}

// Server is the web server for the chat UI and API.
type Server struct {
	port       int
	version    string
	feed       Feed
	apiService *api.Service
	docService *docs.Service
	logger     *logger.Logger
	templates  *template.Template
	statusPoll time.Duration
	log        *logrus.Entry

	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new web server.
func NewServer(cfg Config) (*Server, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if cfg.Feed == nil || cfg.API == nil {
		return nil, errors.New("web: feed and api service are required")
	}
	if cfg.Docs == nil {
		cfg.Docs = docs.Bundled()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New(200)
	}

	return &Server{
		port:       cfg.Port,
		version:    cfg.Version,
		feed:       cfg.Feed,
		apiService: cfg.API,
		docService: cfg.Docs,
		logger:     cfg.Logger,
		templates:  templates,
		statusPoll: 500 * time.Millisecond,
		log:        logrus.WithField("component", "web"),
		closing:    make(chan struct{}),
	}, nil
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Page routes
	mux.HandleFunc("/", s.handlePageLoad)
	mux.HandleFunc("/docs", s.handleDocsView)

	// API routes (delegated to apiService)
	mux.HandleFunc("/api/health", s.apiService.HandleHealth)
	mux.HandleFunc("/api/version", s.apiService.HandleVersion)
	mux.HandleFunc("/api/sync", s.apiService.HandleSyncStatus)
	mux.HandleFunc("/api/sync/refresh", s.apiService.HandleRefresh)
	mux.HandleFunc("/api/messages", s.apiService.HandleMessages)
	mux.HandleFunc("/api/composer", s.apiService.HandleComposer)
	mux.HandleFunc("/api/draft", s.apiService.HandleDraft)
	mux.HandleFunc("/api/typing", s.apiService.HandleTyping)
	mux.HandleFunc("/api/session/connect", s.apiService.HandleConnect)
	mux.HandleFunc("/api/session/disconnect", s.apiService.HandleDisconnect)

	// WebSocket routes
	mux.HandleFunc("/ws/feed", s.handleFeedWS)
	mux.HandleFunc("/ws/status", s.handleStatusWS)

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start runs the server until ctx is cancelled. The returned channel
// yields the listener error, if any, and is closed once the server stops.
func (s *Server) Start(ctx context.Context) <-chan error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Infof("serving chat UI on http://localhost:%d", s.port)

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("shutdown did not complete cleanly")
		}
	}()

	return errCh
}

// Close ends open websocket streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) handlePageLoad(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.render(w, "index.html", TemplateData{CurrentVersion: s.version})
}

func (s *Server) handleDocsView(w http.ResponseWriter, r *http.Request) {
	docList, err := s.docService.ListDocs()
	if err != nil {
		s.log.WithError(err).Warn("failed to list docs")
	}

	docName := r.URL.Query().Get("doc")
	if docName == "" && len(docList) > 0 {
		docName = docList[0]
	}

	var docContent string
	if docName != "" {
		content, err := s.docService.GetDoc(r.Context(), docName)
		if err != nil {
			s.logger.Error(fmt.Sprintf("Failed to load doc %s: %v", docName, err))
			http.Error(w, "Document not found", http.StatusNotFound)
			return
		}
		docContent = content
	}

	s.render(w, "docs.html", TemplateData{
		CurrentVersion: s.version,
		DocList:        docList,
		DocContent:     template.HTML(docContent),
		CurrentDoc:     docName,
	})
}

// render executes a template into a buffer first so a failure can still
// produce a clean 500.
func (s *Server) render(w http.ResponseWriter, name string, data TemplateData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.WithError(err).WithField("template", name).Error("render failed")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s.setCacheHeaders(w)
	buf.WriteTo(w)
}

// handleFeedWS pushes the rendered view on connect and after every change
// to the message list, composer or typing set.
func (s *Server) handleFeedWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.feed.Subscribe()
	defer unsubscribe()
	closed := watchClose(conn)

	if err := writeJSON(conn, s.feed.View()); err != nil {
		return
	}

	keepAlive := time.NewTicker(keepAliveWait)
	defer keepAlive.Stop()

	for {
		select {
		case <-s.closing:
			return
		case <-closed:
			return
		case <-updates:
			if err := writeJSON(conn, s.feed.View()); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleStatusWS streams status bar messages from the log ring.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()
	closed := watchClose(conn)

	// Send initial history (last 50 logs), oldest first.
	initial, seq := s.logger.Since(0)
	if len(initial) > 50 {
		initial = initial[len(initial)-50:]
	}
	for _, msg := range initial {
		if err := writeJSON(conn, msg); err != nil {
			return
		}
	}

	ticker := time.NewTicker(s.statusPoll)
	defer ticker.Stop()

	for {
		select {
		case <-s.closing:
			return
		case <-closed:
			return
		case <-ticker.C:
			var msgs []logger.Message
			msgs, seq = s.logger.Since(seq)
			for _, msg := range msgs {
				if err := writeJSON(conn, msg); err != nil {
					return
				}
			}
		}
	}
}

// setCacheHeaders sets cache-busting headers to prevent browser caching.
func (s *Server) setCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
