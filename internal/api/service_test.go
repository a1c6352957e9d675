package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoodhub.chat/hub/internal/chat"
	"hoodhub.chat/hub/internal/composer"
	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/syncer"
)

func serve(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	svc, _, _ := setupTest(t)

	w := serve(svc.HandleHealth, http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleVersionIncludesAccount(t *testing.T) {
	svc, session, _ := setupTest(t)

	var body map[string]string
	w := serve(svc.HandleVersion, http.MethodGet, "/api/version", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "test", body["version"])
	assert.NotContains(t, body, "account")

	_, err := session.Connect()
	require.NoError(t, err)
	w = serve(svc.HandleVersion, http.MethodGet, "/api/version", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(session.Account()), body["account"])
}

func TestHandleSyncStatusAndRefresh(t *testing.T) {
	svc, _, sync := setupTest(t)
	sync.status = syncer.Status{Running: true, LastError: "boom"}

	var status syncer.Status
	w := serve(svc.HandleSyncStatus, http.MethodGet, "/api/sync", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Running)
	assert.Equal(t, "boom", status.LastError)

	w = serve(svc.HandleRefresh, http.MethodGet, "/api/sync/refresh", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = serve(svc.HandleRefresh, http.MethodPost, "/api/sync/refresh", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, sync.requests)
}

func TestHandleMessagesGet(t *testing.T) {
	svc, session, _ := setupTest(t)
	session.submitted = []string{"gm"}

	var view chat.View
	w := serve(svc.HandleMessages, http.MethodGet, "/api/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "gm", view.Messages[0].Text)
	assert.Equal(t, chat.SendLabel, view.SendLabel)
}

func TestHandleMessagesSubmit(t *testing.T) {
	svc, session, _ := setupTest(t)

	w := serve(svc.HandleMessages, http.MethodPost, "/api/messages", `{"text":"hello"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"hello"}, session.submissions())
}

func TestHandleMessagesSubmitAsync(t *testing.T) {
	svc, session, _ := setupTest(t)

	w := serve(svc.HandleMessages, http.MethodPost, "/api/messages", `{"text":"later","async":true}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool {
		return len(session.submissions()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandleMessagesSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		state  composer.State
		err    error
		status int
	}{
		{name: "malformed body", body: `{`, status: http.StatusBadRequest},
		{name: "empty text", body: `{"text":"  "}`, err: composer.ErrEmptyText, status: http.StatusBadRequest},
		{name: "empty text async", body: `{"text":"","async":true}`, status: http.StatusBadRequest},
		{name: "busy", body: `{"text":"x"}`, err: composer.ErrBusy, status: http.StatusConflict},
		{name: "busy async", body: `{"text":"x","async":true}`, state: composer.Confirming, status: http.StatusConflict},
		{name: "rejected", body: `{"text":"x"}`, err: &ledger.Error{Code: ledger.CodeSubmission, Op: "append", Message: "no signing identity connected"}, status: http.StatusUnprocessableEntity},
		{name: "timeout", body: `{"text":"x"}`, err: &ledger.Error{Code: ledger.CodeConfirmationTimeout, Op: "confirm", Message: "not observed"}, status: http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, session, _ := setupTest(t)
			session.state = tt.state
			session.submitErr = tt.err

			w := serve(svc.HandleMessages, http.MethodPost, "/api/messages", tt.body)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), "error")
			assert.Empty(t, session.submissions())
		})
	}
}

func TestHandleMessagesMethodNotAllowed(t *testing.T) {
	svc, _, _ := setupTest(t)

	w := serve(svc.HandleMessages, http.MethodDelete, "/api/messages", "")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleDraftAndTyping(t *testing.T) {
	svc, session, _ := setupTest(t)

	w := serve(svc.HandleDraft, http.MethodPost, "/api/draft", `{"draft":"hel"}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	var comp composer.Status
	w = serve(svc.HandleComposer, http.MethodGet, "/api/composer", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comp))
	assert.Equal(t, "hel", comp.Draft)
	assert.Equal(t, composer.Idle, comp.State)

	w = serve(svc.HandleTyping, http.MethodGet, "/api/typing", "")
	assert.JSONEq(t, `{"typing":["me"]}`, w.Body.String())

	serve(svc.HandleDraft, http.MethodPost, "/api/draft", `{"draft":""}`)
	w = serve(svc.HandleTyping, http.MethodGet, "/api/typing", "")
	assert.JSONEq(t, `{"typing":[]}`, w.Body.String())
	assert.Equal(t, "", session.View().Composer.Draft)

	w = serve(svc.HandleDraft, http.MethodPost, "/api/draft", `nope`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleConnectAndDisconnect(t *testing.T) {
	svc, session, _ := setupTest(t)

	w := serve(svc.HandleConnect, http.MethodPost, "/api/session/connect", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(session.Account()), body["account"])
	assert.Equal(t, "me", body["label"])

	w = serve(svc.HandleDisconnect, http.MethodPost, "/api/session/disconnect", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, session.Account())
}

func TestHandleConnectDeclined(t *testing.T) {
	svc, session, _ := setupTest(t)
	session.declined = true

	w := serve(svc.HandleConnect, http.MethodPost, "/api/session/connect", "")

	assert.Equal(t, http.StatusForbidden, w.Code)
}
