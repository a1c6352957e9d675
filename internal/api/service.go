package api

import (
	"context"
	"encoding/json"
	"net/http"

	"hoodhub.chat/hub/internal/chat"
	"hoodhub.chat/hub/internal/identity"
	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/logger"
	"hoodhub.chat/hub/internal/syncer"
)

// ChatSession is the part of chat.Session the API drives.
type ChatSession interface {
	View() chat.View
	Account() ledger.Address
	Connect() (*identity.Identity, error)
	Disconnect()
	Keystroke(draft string)
	Submit(ctx context.Context, text string) error
}

// SyncStatus reports and nudges the poll loop.
type SyncStatus interface {
	Status() syncer.Status
	RequestRefresh()
}

// Service handles API requests
type Service struct {
	session ChatSession
	sync    SyncStatus
	logger  *logger.Logger
	version string
}

// NewService creates a new API service
func NewService(session ChatSession, sync SyncStatus, logger *logger.Logger, version string) *Service {
	return &Service{
		session: session,
		sync:    sync,
		logger:  logger,
		version: version,
	}
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// allow rejects requests whose method is not one of methods.
func (s *Service) allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}
