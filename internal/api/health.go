package api

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
)

// @Title: Get Health
// @Route: GET /api/health
// @Description: Returns server health status
// @Response: {"status": "ok"}
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// @Title: Get Version
// @Route: GET /api/version
// @Description: Returns the client version and the connected account
// @Response: {"version": "...", "status": "ok", "account": "0x..."}
func (s *Service) HandleVersion(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	response := map[string]string{
		"version":  s.version,
		"status":   "ok",
		"hostname": hostname,
		"go_ver":   runtime.Version(),
		"os_arch":  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if account := s.session.Account(); account != "" {
		response["account"] = string(account)
	}

	s.writeJSON(w, http.StatusOK, response)
}

// @Title: Get Sync Status
// @Route: GET /api/sync
// @Description: Returns the poll loop state and the last refresh error
// @Response: {"running": true, "refreshing": false, "interval": 5000000000, "lastRefresh": "...", "lastError": ""}
func (s *Service) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sync.Status())
}

// @Title: Request Refresh
// @Route: POST /api/sync/refresh
// @Description: Asks for one refresh outside the poll cadence; ignored while disconnected
// @Response: 202 Accepted
func (s *Service) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	s.sync.RequestRefresh()
	w.WriteHeader(http.StatusAccepted)
}
