package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"hoodhub.chat/hub/internal/composer"
	"hoodhub.chat/hub/internal/identity"
	"hoodhub.chat/hub/internal/ledger"
)

type submitRequest struct {
	Text  string `json:"text"`
	Async bool   `json:"async"`
}

type draftRequest struct {
	Draft string `json:"draft"`
}

// @Title: Messages
// @Route: GET /api/messages
// @Description: Returns the rendered view: messages oldest first, composer state and who is typing
// @Response: {"connected": true, "account": "0x...", "messages": [{"position": 0, "author": "0x...", "label": "alice.hood", "text": "gm", "mine": false}], "composer": {"state": "idle"}, "sendLabel": "Send", "typing": [], "version": 3}
//
// @Title: Send Message
// @Route: POST /api/messages
// @Description: Appends {"text": "..."} to the ledger and waits for confirmation. With "async": true it returns 202 at once and progress shows up in the composer state.
// @Response: 200 with composer status, 400 on empty text, 409 while a submission is outstanding, 422 when the ledger rejects the write, 504 when confirmation times out
func (s *Service) HandleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.session.View())
	case http.MethodPost:
		s.handleSubmit(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Confirmation outlives the request so a closed tab does not abandon it.
	ctx := context.WithoutCancel(r.Context())

	if req.Async {
		if err := s.precheck(req.Text); err != nil {
			s.writeSubmitError(w, err)
			return
		}
		go func() {
			if err := s.session.Submit(ctx, req.Text); err != nil && s.logger != nil {
				s.logger.Error("Send failed: " + err.Error())
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := s.session.Submit(ctx, req.Text); err != nil {
		s.writeSubmitError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.View().Composer)
}

// precheck applies the composer guards before an async submission is
// handed off, so the caller still sees 400 and 409.
func (s *Service) precheck(text string) error {
	if strings.TrimSpace(text) == "" {
		return composer.ErrEmptyText
	}
	if s.session.View().Composer.State.Busy() {
		return composer.ErrBusy
	}
	return nil
}

func (s *Service) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, composer.ErrEmptyText):
		s.writeError(w, http.StatusBadRequest, "Message text is empty")
	case errors.Is(err, composer.ErrBusy):
		s.writeError(w, http.StatusConflict, "A message is already being sent")
	case ledger.IsConfirmationTimeout(err):
		s.writeError(w, http.StatusGatewayTimeout, "Confirmation timed out; the message may still appear")
	case ledger.IsSubmission(err), ledger.IsTransport(err):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// @Title: Composer State
// @Route: GET /api/composer
// @Description: Returns the composer state (idle, submitting, confirming, failed), the failure reason and the draft
// @Response: {"state": "failed", "reason": "...", "draft": "gm", "txHash": "..."}
func (s *Service) HandleComposer(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.View().Composer)
}

// @Title: Update Draft
// @Route: POST /api/draft
// @Description: Records a keystroke: stores the draft and marks the connected account as typing. An empty draft clears the typing signal.
// @Response: 204 No Content
func (s *Service) HandleDraft(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.session.Keystroke(req.Draft)
	w.WriteHeader(http.StatusNoContent)
}

// @Title: Who Is Typing
// @Route: GET /api/typing
// @Description: Returns the labels of accounts with a live typing signal
// @Response: {"typing": ["alice.hood"]}
func (s *Service) HandleTyping(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"typing": s.session.View().Typing})
}

// @Title: Connect Wallet
// @Route: POST /api/session/connect
// @Description: Connects the local signing identity and starts polling
// @Response: {"account": "0x...", "label": "0x1234...abcd"}, 403 when the connection is declined
func (s *Service) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	id, err := s.session.Connect()
	if err != nil {
		if errors.Is(err, identity.ErrUserDeclined) {
			s.writeError(w, http.StatusForbidden, "Connection declined")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	v := s.session.View()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"account": string(id.Address()),
		"label":   v.AccountLabel,
	})
}

// @Title: Disconnect Wallet
// @Route: POST /api/session/disconnect
// @Description: Disconnects the identity, stops polling and clears typing signals
// @Response: 204 No Content
func (s *Service) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	s.session.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}
