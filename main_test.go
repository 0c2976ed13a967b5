package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	alarmapp "leakwatch/internal/alarms/application"
	alarmhttp "leakwatch/internal/alarms/interfaces/http"
	"leakwatch/internal/auth"
	"leakwatch/internal/config"
	telemetryapp "leakwatch/internal/telemetry/application"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (http.Handler, *alarmapp.Controller) {
	t.Helper()
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Driver: "memory"}
	if mutate != nil {
		mutate(&cfg)
	}
	logger := log.New(io.Discard, "", 0)
	backend, err := openBackend(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	ingest, err := telemetryapp.NewIngestService(backend.repo, logger)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	controller, err := alarmapp.NewController(backend.repo, backend.repo, alarmapp.WithLogger(logger))
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	router, err := newRouter(cfg, backend, ingest, controller, alarmhttp.NewSSEBroker(), logger)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return loggingMiddleware(router, logger), controller
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestRouter_HealthAndCORS(t *testing.T) {
	handler, _ := newTestServer(t, nil)

	resp := serve(handler, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", resp.Code, resp.Body.String())
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/data", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	resp = serve(handler, req)
	if resp.Code != http.StatusNoContent || resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: %d %v", resp.Code, resp.Header())
	}

	resp = serve(handler, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header on api responses")
	}
}

func TestRouter_BurstDismissFlow(t *testing.T) {
	handler, controller := newTestServer(t, nil)

	body := `{"sensor1":300,"sensor2":280,"sensor3":20,"leak_confirmed":1,"burst_confirmed":1,"burst_type":"PIPELINE BURST"}`
	resp := serve(handler, httptest.NewRequest(http.MethodPost, "/api/data", strings.NewReader(body)))
	if resp.Code != http.StatusOK {
		t.Fatalf("append: %d %s", resp.Code, resp.Body.String())
	}
	if err := controller.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	resp = serve(handler, httptest.NewRequest(http.MethodGet, "/api/alert", nil))
	if !strings.Contains(resp.Body.String(), `"phase":"Active"`) {
		t.Fatalf("expected active alert, got %s", resp.Body.String())
	}

	resp = serve(handler, httptest.NewRequest(http.MethodPost, "/api/dismiss", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"effective":true`) {
		t.Fatalf("dismiss: %d %s", resp.Code, resp.Body.String())
	}

	resp = serve(handler, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if !strings.Contains(resp.Body.String(), `"burst_dismissed":true`) || !strings.Contains(resp.Body.String(), `"status":"Burst"`) {
		t.Fatalf("status after dismiss: %s", resp.Body.String())
	}
}

func TestRouter_OptionalAuth(t *testing.T) {
	secret := "jwt-secret"
	handler, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = secret
		cfg.Ingest.HMACSecret = "ingest-secret"
		cfg.Ingest.MaxSkew = time.Minute
	})

	resp := serve(handler, httptest.NewRequest(http.MethodPost, "/api/dismiss", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	token, err := auth.IssueJWT([]byte(secret), "op-7", auth.RoleOperator, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/dismiss", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := serve(handler, req); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with operator token, got %d", resp.Code)
	}

	body := `{"sensor1":1,"sensor2":2,"sensor3":3}`
	if resp := serve(handler, httptest.NewRequest(http.MethodPost, "/api/data", strings.NewReader(body))); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unsigned ingest to be rejected, got %d", resp.Code)
	}
	if resp := serve(handler, httptest.NewRequest(http.MethodGet, "/api/status", nil)); resp.Code != http.StatusOK {
		t.Fatalf("expected public status, got %d", resp.Code)
	}
}

func TestRouter_CustomPrefix(t *testing.T) {
	handler, _ := newTestServer(t, func(cfg *config.Config) { cfg.APIPrefix = "/v2/" })
	if resp := serve(handler, httptest.NewRequest(http.MethodGet, "/v2/history", nil)); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 under custom prefix, got %d", resp.Code)
	}
	if resp := serve(handler, httptest.NewRequest(http.MethodGet, "/api/history", nil)); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 under default prefix, got %d", resp.Code)
	}
}
