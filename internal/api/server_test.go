package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"polyagent/internal/core"
	"polyagent/internal/events"
	"polyagent/internal/exchange"
	"polyagent/internal/lifecycle"
	"polyagent/internal/orchestrator"
	"polyagent/internal/risk"
	"polyagent/pkg/db"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ec := core.NewEngineContext(core.DefaultRiskLimits())
	bus := events.NewBus()
	paper := exchange.NewPaper(exchange.PaperConfig{})
	wallet := exchange.NewStaticWallet("0xtest")
	gate := risk.NewGate(ec, risk.NewCorrelationTable(nil), bus)

	store, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mcfg := lifecycle.DefaultConfig()
	mcfg.ReconcileInterval = 0
	mcfg.SweepInterval = 0
	manager := lifecycle.NewManager(ec, paper, wallet, store, bus, gate, mcfg)
	t.Cleanup(manager.Close)

	source := orchestrator.NewQueueSource()
	orch := orchestrator.New(ec, gate, nil, manager, paper, store, bus, source, orchestrator.Config{
		CycleInterval:  time.Hour,
		InitialBalance: 10000,
	})

	return NewServer(ec, orch, manager, source, store, bus, SystemMeta{
		DryRun:  true,
		Account: "0xtest",
		Version: "test",
	}, "test-secret")
}

func bearerToken(t *testing.T, s *Server) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"client_id": "tester", "secret": "test-secret"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("token endpoint status=%d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp.Token
}

func TestHealthOpen(t *testing.T) {
	s := testServer(t)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, expected 200", w.Code)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	s := testServer(t)

	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, expected 401 without a token", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, expected 401 with a bad token", w.Code)
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	s := testServer(t)
	body, _ := json.Marshal(map[string]string{"client_id": "tester", "secret": "wrong"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, expected 401 for a wrong secret", w.Code)
	}
}

func TestStatusWithToken(t *testing.T) {
	s := testServer(t)
	token := bearerToken(t, s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode status response: %v", err)
	}
	if resp["engine_state"] != string(orchestrator.StateStopped) {
		t.Fatalf("engine_state=%v, expected STOPPED before start", resp["engine_state"])
	}
	if resp["portfolio_value"].(float64) != 10000 {
		t.Fatalf("portfolio_value=%v, expected 10000", resp["portfolio_value"])
	}
}

func TestPostSignalQueuesForNextCycle(t *testing.T) {
	s := testServer(t)
	token := bearerToken(t, s)

	body, _ := json.Marshal(map[string]any{
		"market_id":  "mkt-1",
		"asset":      "TEST",
		"direction":  "BUY",
		"confidence": 0.7,
		"price":      0.5,
		"quantity":   10,
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/signals", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	s.Router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d: %s", w.Code, w.Body.String())
	}

	queued, err := s.Source.Next(req.Context())
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if len(queued) != 1 || queued[0].MarketID != "mkt-1" {
		t.Fatalf("queued=%+v, expected the posted signal", queued)
	}
	if queued[0].Outcome != core.OutcomeYes {
		t.Fatalf("outcome=%s, expected YES default", queued[0].Outcome)
	}
}

func TestPostSignalValidatesBody(t *testing.T) {
	s := testServer(t)
	token := bearerToken(t, s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/signals", bytes.NewReader([]byte(`{"price":0.5}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	s.Router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, expected 400 for a missing market_id", w.Code)
	}
}
