package state

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/waclerk/waclerk/internal/config"
	"github.com/waclerk/waclerk/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestAssemble_ServesInternalAPI wires the full component graph on in-memory
// stores and checks the API mux answers on its core routes.
func TestAssemble_ServesInternalAPI(t *testing.T) {
	app, err := assemble(config.Default(), memory.NewStores(), discardLogger())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/internal/bots", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/internal/bots = %d, want %d", rec.Code, http.StatusOK)
	}
}

// TestRun_StopsOnContextCancel starts every background loop against
// in-memory stores and checks cancellation unwinds them all.
func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Host = "127.0.0.1"
	cfg.Backend.Port = 0

	app, err := assemble(cfg, memory.NewStores(), discardLogger())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// Give the listener and loops a moment to come up before pulling the plug.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}
