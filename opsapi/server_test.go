package opsapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/icij/taskworker/domain"
	"github.com/icij/taskworker/opsapi"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthz_AllChecksPass_Returns200(t *testing.T) {
	s := opsapi.New(opsapi.NewHub(), zerolog.Nop(), map[string]opsapi.HealthChecker{
		"store": func(ctx context.Context) error { return nil },
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthz_FailingCheck_Returns503(t *testing.T) {
	s := opsapi.New(opsapi.NewHub(), zerolog.Nop(), map[string]opsapi.HealthChecker{
		"store": func(ctx context.Context) error { return errors.New("connection refused") },
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMetrics_ServesPrometheusFormat(t *testing.T) {
	s := opsapi.New(opsapi.NewHub(), zerolog.Nop(), nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestWSEvents_BroadcastsTaskStatusChanged(t *testing.T) {
	hub := opsapi.NewHub()
	s := opsapi.New(hub, zerolog.Nop(), nil)
	srv := httptest.NewServer(s.Engine())
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	progress := 50.0
	hub.NotifyTaskStatus(context.Background(), &domain.Task{
		ID:       "t1",
		Project:  "proj1",
		Type:     "hello",
		Status:   domain.TaskRunning,
		Retries:  1,
		Progress: &progress,
	})

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var ev opsapi.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Type != opsapi.TaskStatusChanged {
		t.Fatalf("expected task_status_changed, got %q", ev.Type)
	}
}
