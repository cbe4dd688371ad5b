package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/predatorfx/hunter/internal/session"
)

type stubRunner struct {
	report session.Report
	err    error
}

func (r stubRunner) Run(ctx context.Context) (session.Report, error) {
	return r.report, r.err
}

func newTestServer(t *testing.T, runner Runner) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer(runner, zaptest.NewLogger(t))
}

func TestHandleHealth_ReturnsHealthyStatus(t *testing.T) {
	srv := newTestServer(t, stubRunner{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleRunSession_ReturnsReportOnSuccess(t *testing.T) {
	srv := newTestServer(t, stubRunner{report: session.Report{SignalsFired: 2}})

	req := httptest.NewRequest(http.MethodPost, "/sessions/run", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Report session.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Report.SignalsFired)
}

func TestHandleRunSession_RejectsConcurrentRun(t *testing.T) {
	srv := newTestServer(t, stubRunner{})
	srv.running = true

	req := httptest.NewRequest(http.MethodPost, "/sessions/run", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}
