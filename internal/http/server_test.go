package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/agent"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/secrets"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

type MockController struct {
	mock.Mock
	pool *agent.Pool
}

func (m *MockController) Session() *orchestrator.Session {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.(*orchestrator.Session)
	}
	return nil
}

func (m *MockController) PendingValidations() []string {
	args := m.Called()
	if ids := args.Get(0); ids != nil {
		return ids.([]string)
	}
	return nil
}

func (m *MockController) Resolve(stageID string, v orchestrator.Verdict) error {
	return m.Called(stageID, v).Error(0)
}

func (m *MockController) Stop() error {
	return m.Called().Error(0)
}

func (m *MockController) Pool() *agent.Pool {
	return m.pool
}

func setupTestServer(t *testing.T, ctrl Controller, cfg *Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.NewRegistry()
	}
	server, err := NewServer(ctrl, zap.NewNop(), cfg)
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func boolPtr(b bool) *bool { return &b }

func sampleSession() *orchestrator.Session {
	return &orchestrator.Session{
		ID:       "sess-1",
		Workflow: "feature",
		Status:   orchestrator.SessionRunning,
		Stages: []*workflow.Stage{
			{ID: "analyze", Phase: "analysis", Status: workflow.StageStatusCompleted},
			{ID: "design", Phase: "design", Status: workflow.StageStatusValidation},
			{ID: "deploy", Phase: "deployment", Status: workflow.StageStatusSkipped},
		},
		CurrentStage: "design",
		StartTime:    time.Now(),
	}
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(&MockController{}, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
		assert.NotNil(t, server.Echo())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&MockController{}, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when controller is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "controller cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, &MockController{}, nil)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleSession(t *testing.T) {
	t.Run("returns snapshot", func(t *testing.T) {
		ctrl := &MockController{}
		ctrl.On("Session").Return(sampleSession())
		server := setupTestServer(t, ctrl, nil)

		rec := doJSON(t, server, http.MethodGet, "/api/v1/session", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "sess-1", got["id"])
		assert.Equal(t, "running", got["status"])
		assert.Len(t, got["stages"], 3)
	})

	t.Run("404 without session", func(t *testing.T) {
		ctrl := &MockController{}
		ctrl.On("Session").Return(nil)
		server := setupTestServer(t, ctrl, nil)

		rec := doJSON(t, server, http.MethodGet, "/api/v1/session", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleStatus(t *testing.T) {
	pool := agent.NewPool(agent.PoolConfig{MaxConcurrentAgents: 2})
	_, err := pool.Create(agent.TypeDesign)
	require.NoError(t, err)

	ctrl := &MockController{pool: pool}
	ctrl.On("Session").Return(sampleSession())
	ctrl.On("PendingValidations").Return([]string{"design"})
	decider := orchestrator.NewChannelDecider(nil)
	server := setupTestServer(t, ctrl, &Config{Version: "1.2.3", Decisions: decider})

	rec := doJSON(t, server, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, "running", resp.SessionStatus)
	assert.Equal(t, "design", resp.CurrentStage)
	assert.Equal(t, StatusCounts{Validation: 1, Completed: 1, Skipped: 1}, resp.Counts)
	assert.Equal(t, []string{"design"}, resp.PendingValidations)
	assert.Empty(t, resp.PendingDecisions)
	assert.Equal(t, 1, resp.Agents["design"])
	assert.Equal(t, 0, resp.Agents["analysis"])
}

func TestHandleResolveValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		resolveErr error
		wantCode   int
		wantCall   bool
	}{
		{
			name:     "approve",
			body:     ValidationRequest{Approved: boolPtr(true)},
			wantCode: http.StatusNoContent,
			wantCall: true,
		},
		{
			name:     "reject with reason",
			body:     ValidationRequest{Approved: boolPtr(false), Reason: "too vague"},
			wantCode: http.StatusNoContent,
			wantCall: true,
		},
		{
			name:     "missing approved",
			body:     map[string]any{"reason": "x"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:       "unknown stage",
			body:       ValidationRequest{Approved: boolPtr(true)},
			resolveErr: fmt.Errorf("%w: design", orchestrator.ErrUnknownStage),
			wantCode:   http.StatusNotFound,
			wantCall:   true,
		},
		{
			name:       "already resolved",
			body:       ValidationRequest{Approved: boolPtr(true)},
			resolveErr: fmt.Errorf("%w: design", orchestrator.ErrAlreadyResolved),
			wantCode:   http.StatusConflict,
			wantCall:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &MockController{}
			if tt.wantCall {
				req := tt.body.(ValidationRequest)
				ctrl.On("Resolve", "design", orchestrator.Verdict{Approved: *req.Approved, Reason: req.Reason}).
					Return(tt.resolveErr)
			}
			server := setupTestServer(t, ctrl, nil)

			rec := doJSON(t, server, http.MethodPost, "/api/v1/validations/design", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			ctrl.AssertExpectations(t)
		})
	}
}

func TestHandleListValidations(t *testing.T) {
	ctrl := &MockController{}
	ctrl.On("PendingValidations").Return(nil)
	server := setupTestServer(t, ctrl, nil)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/validations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stages":[]}`, rec.Body.String())
}

func TestHandleStop(t *testing.T) {
	ctrl := &MockController{}
	ctrl.On("Stop").Return(nil).Once()
	ctrl.On("Stop").Return(orchestrator.ErrNoSession).Once()
	server := setupTestServer(t, ctrl, nil)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/session/stop", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/session/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDecisions(t *testing.T) {
	t.Run("not registered without resolver", func(t *testing.T) {
		server := setupTestServer(t, &MockController{}, nil)
		rec := doJSON(t, server, http.MethodPost, "/api/v1/decisions/design", DecisionRequest{Continue: boolPtr(true)})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("resolves pending decision", func(t *testing.T) {
		decider := orchestrator.NewChannelDecider(nil)
		server := setupTestServer(t, &MockController{}, &Config{Decisions: decider})

		result := make(chan orchestrator.Decision, 1)
		go func() {
			d, _ := decider.Decide(context.Background(), workflow.Stage{ID: "design"}, assert.AnError)
			result <- d
		}()
		require.Eventually(t, func() bool {
			return len(decider.Pending()) == 1
		}, time.Second, 5*time.Millisecond)

		rec := doJSON(t, server, http.MethodGet, "/api/v1/decisions", nil)
		assert.JSONEq(t, `{"stages":["design"]}`, rec.Body.String())

		rec = doJSON(t, server, http.MethodPost, "/api/v1/decisions/design", DecisionRequest{Continue: boolPtr(true)})
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, orchestrator.DecisionContinue, <-result)

		rec = doJSON(t, server, http.MethodPost, "/api/v1/decisions/design", DecisionRequest{Continue: boolPtr(false)})
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = doJSON(t, server, http.MethodPost, "/api/v1/decisions/other", DecisionRequest{Continue: boolPtr(false)})
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = doJSON(t, server, http.MethodPost, "/api/v1/decisions/design", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleScrub(t *testing.T) {
	t.Run("not registered without scrubber", func(t *testing.T) {
		server := setupTestServer(t, &MockController{}, nil)
		rec := doJSON(t, server, http.MethodPost, "/api/v1/scrub", ScrubRequest{Content: "x"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("handles content with no secrets", func(t *testing.T) {
		scrubber, err := secrets.New(nil)
		require.NoError(t, err)
		server := setupTestServer(t, &MockController{}, &Config{Scrubber: scrubber})

		rec := doJSON(t, server, http.MethodPost, "/api/v1/scrub", ScrubRequest{Content: "use postgres"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ScrubResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "use postgres", resp.Content)
		assert.Equal(t, 0, resp.FindingsCount)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		scrubber, err := secrets.New(nil)
		require.NoError(t, err)
		server := setupTestServer(t, &MockController{}, &Config{Scrubber: scrubber})

		rec := doJSON(t, server, http.MethodPost, "/api/v1/scrub", ScrubRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "agentflow_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	server := setupTestServer(t, &MockController{}, &Config{Gatherer: reg})

	rec := doJSON(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "agentflow_test_total 1"))
}

func TestServer_StartShutdown(t *testing.T) {
	server := setupTestServer(t, &MockController{}, &Config{Host: "127.0.0.1", Port: 0})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}
