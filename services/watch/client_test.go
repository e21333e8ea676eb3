package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func errorBody(code, message string) map[string]any {
	return map[string]any{"error": map[string]any{"code": code, "message": message}}
}

func TestStartRunParsesCreatedRun(t *testing.T) {
	runID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/runs/start" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req StartRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"run": map[string]any{
				"id":         runID,
				"status":     "running",
				"started_at": time.Now().UTC(),
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	run, err := client.StartRun(context.Background(), StartRunRequest{
		FlowVersionID:       uuid.New(),
		CollectionVersionID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.ID != runID {
		t.Errorf("run id = %s, want %s", run.ID, runID)
	}
	if run.Status != "running" {
		t.Errorf("status = %q, want running", run.Status)
	}
}

func TestStartRunQuotaRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusPaymentRequired, errorBody("QUOTA_EXCEEDED", "monthly quota reached"))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	_, err := client.StartRun(context.Background(), StartRunRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsQuotaExceeded(err) {
		t.Errorf("IsQuotaExceeded(%v) = false, want true", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, errorBody("RUN_NOT_FOUND", "run not found"))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	_, err := client.GetRun(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestListRunsParsesItemsAndCursor(t *testing.T) {
	projectID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if got := query.Get("project_id"); got != projectID.String() {
			t.Errorf("project_id = %q, want %q", got, projectID)
		}
		if got := query.Get("limit"); got != "5" {
			t.Errorf("limit = %q, want 5", got)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"items": []map[string]any{
				{"id": uuid.New(), "status": "succeeded"},
				{"id": uuid.New(), "status": "running"},
			},
			"cursor": map[string]any{"next": "YTpuZXh0"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	runs, page, err := client.ListRuns(context.Background(), projectID, "", 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if page.Next != "YTpuZXh0" {
		t.Errorf("next cursor = %q", page.Next)
	}
	if page.Previous != "" {
		t.Errorf("previous cursor = %q, want empty", page.Previous)
	}
}

func TestFetchLogsDownloadsAndDecodes(t *testing.T) {
	runID := uuid.New()

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		t.Fatal(err)
	}
	ndjson := `{"level":"info","msg":"step one"}` + "\n" +
		`{"level":"error","msg":"step two"}` + "\n"
	if _, err := encoder.Write([]byte(ndjson)); err != nil {
		t.Fatal(err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v1/runs/"+runID.String()+"/logs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"download_url": server.URL + "/objects/logs",
		})
	})
	mux.HandleFunc("/objects/logs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(compressed.Bytes())
	})

	client := NewClient(server.URL, server.Client())
	entries, err := client.FetchLogs(context.Background(), runID)
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0]["msg"] != "step one" || entries[1]["level"] != "error" {
		t.Errorf("unexpected entries: %v", entries)
	}
}

func TestUploadLogsCompressesAndPuts(t *testing.T) {
	runID := uuid.New()
	logsFileID := uuid.New()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	var uploaded []byte
	mux.HandleFunc("/v1/runs/"+runID.String()+"/logs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"logs_file_id": logsFileID,
			"upload_url":   server.URL + "/objects/upload",
		})
	})
	mux.HandleFunc("/objects/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r.Body); err != nil {
			t.Errorf("read upload: %v", err)
		}
		uploaded = buf.Bytes()
		w.WriteHeader(http.StatusOK)
	})

	client := NewClient(server.URL, server.Client())
	ndjson := `{"msg":"hello"}` + "\n"
	gotID, err := client.UploadLogs(context.Background(), runID, bytes.NewReader([]byte(ndjson)))
	if err != nil {
		t.Fatalf("UploadLogs: %v", err)
	}
	if gotID != logsFileID {
		t.Errorf("logs file id = %s, want %s", gotID, logsFileID)
	}

	decoder, err := zstd.NewReader(bytes.NewReader(uploaded))
	if err != nil {
		t.Fatalf("uploaded body is not zstd: %v", err)
	}
	defer decoder.Close()
	var decompressed bytes.Buffer
	if _, err := decompressed.ReadFrom(decoder); err != nil {
		t.Fatalf("decompress upload: %v", err)
	}
	if decompressed.String() != ndjson {
		t.Errorf("uploaded %q, want %q", decompressed.String(), ndjson)
	}
}

func TestDecodeAPIErrorFallsBackOnOpaqueBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	_, err := client.GetRun(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not an APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", apiErr.StatusCode)
	}
}
