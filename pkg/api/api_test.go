package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/checkinhq/checkind/pkg/config"
	"github.com/checkinhq/checkind/pkg/database"
	"github.com/checkinhq/checkind/pkg/service"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.UserConfig{
		AppPath: filepath.Join(t.TempDir(), "checkind"),
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return NewServer(cfg, service.NewState(), db)
}

func TestHandleStatus(t *testing.T) {
	srv := testServer(t)
	srv.st.AddReader("ACS ACR122U 00 00")
	srv.st.SetLastScan(service.LastScan{
		Time:    time.Now(),
		Reader:  "ACS ACR122U 00 00",
		User:    "7dd00021-89fd-49f1-9c17-bd0ba7dcf97e",
		Success: true,
	})

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}

	if status.Version != config.Version {
		t.Fatalf("unexpected version: %q", status.Version)
	}
	if len(status.Readers) != 1 {
		t.Fatalf("unexpected readers: %v", status.Readers)
	}
	if status.LastScan == nil || !status.LastScan.Success {
		t.Fatalf("unexpected last scan: %+v", status.LastScan)
	}
}

func TestHandleHistory(t *testing.T) {
	srv := testServer(t)

	err := srv.db.AddHistory(database.HistoryEntry{
		Time:    time.Now(),
		Reader:  "ACS ACR122U 00 00",
		User:    "7dd00021-89fd-49f1-9c17-bd0ba7dcf97e",
		Tag:     "lunch",
		Success: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.handleHistory(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var entries []database.HistoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Tag != "lunch" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
