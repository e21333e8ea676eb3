package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Error codes the client branches on. They mirror the codes the run API
// puts in its error envelope.
const (
	codeQuotaExceeded = "QUOTA_EXCEEDED"
	codeRunNotFound   = "RUN_NOT_FOUND"
	codeLogsNotFound  = "LOGS_NOT_FOUND"
)

// APIError is a decoded error envelope from the run API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Params     map[string]any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// IsQuotaExceeded reports whether err is the API rejecting a run start
// because the project exhausted its monthly quota.
func IsQuotaExceeded(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeQuotaExceeded
}

// IsNotFound reports whether err is a run or logs lookup miss.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeRunNotFound || apiErr.Code == codeLogsNotFound
}

// Run is the client-side view of a run as returned by the API.
type Run struct {
	ID                    uuid.UUID  `json:"id"`
	ProjectID             uuid.UUID  `json:"project_id"`
	CollectionID          uuid.UUID  `json:"collection_id"`
	CollectionVersionID   uuid.UUID  `json:"collection_version_id"`
	FlowID                uuid.UUID  `json:"flow_id"`
	FlowVersionID         uuid.UUID  `json:"flow_version_id"`
	InstanceID            *uuid.UUID `json:"instance_id"`
	FlowDisplayName       string     `json:"flow_display_name"`
	CollectionDisplayName string     `json:"collection_display_name"`
	Status                string     `json:"status"`
	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            *time.Time `json:"finished_at"`
	LogsFileID            *uuid.UUID `json:"logs_file_id"`
}

// Active reports whether the run may still change status.
func (r Run) Active() bool {
	return r.Status == "running" || r.Status == "paused"
}

// Page carries the opaque pagination cursors from a list response.
type Page struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// StartRunRequest is the payload for starting a run.
type StartRunRequest struct {
	InstanceID          *uuid.UUID     `json:"instance_id,omitempty"`
	FlowVersionID       uuid.UUID      `json:"flow_version_id"`
	CollectionVersionID uuid.UUID      `json:"collection_version_id"`
	Payload             map[string]any `json:"payload,omitempty"`
}

// LogEntry is one decoded line of a run's newline-delimited JSON log file.
type LogEntry map[string]any

// Client talks to the run API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the API at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// StartRun submits a run and returns it in its initial running state.
func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (Run, error) {
	var resp struct {
		Run Run `json:"run"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/runs/start", req, http.StatusCreated, &resp); err != nil {
		return Run{}, err
	}
	return resp.Run, nil
}

// GetRun fetches the current snapshot of a run.
func (c *Client) GetRun(ctx context.Context, runID uuid.UUID) (Run, error) {
	var resp struct {
		Run Run `json:"run"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+runID.String(), nil, http.StatusOK, &resp); err != nil {
		return Run{}, err
	}
	return resp.Run, nil
}

// ListRuns fetches one page of a project's runs, newest first.
func (c *Client) ListRuns(ctx context.Context, projectID uuid.UUID, cursor string, limit int) ([]Run, Page, error) {
	query := url.Values{}
	query.Set("project_id", projectID.String())
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Items  []Run `json:"items"`
		Cursor Page  `json:"cursor"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs?"+query.Encode(), nil, http.StatusOK, &resp); err != nil {
		return nil, Page{}, err
	}
	return resp.Items, resp.Cursor, nil
}

// FinishRun records a terminal status for the run.
func (c *Client) FinishRun(ctx context.Context, runID uuid.UUID, status string, logsFileID *uuid.UUID) (Run, error) {
	body := map[string]any{
		"run_id": runID,
		"status": status,
	}
	if logsFileID != nil {
		body["logs_file_id"] = logsFileID
	}

	var resp struct {
		Run Run `json:"run"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/runs/finish", body, http.StatusOK, &resp); err != nil {
		return Run{}, err
	}
	return resp.Run, nil
}

// UploadLogs compresses the log stream and uploads it through a presigned
// URL allocated by the API, returning the logs file id to pass to FinishRun.
func (c *Client) UploadLogs(ctx context.Context, runID uuid.UUID, logs io.Reader) (uuid.UUID, error) {
	var grant struct {
		LogsFileID uuid.UUID `json:"logs_file_id"`
		UploadURL  string    `json:"upload_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/runs/"+runID.String()+"/logs", nil, http.StatusCreated, &grant); err != nil {
		return uuid.Nil, err
	}

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return uuid.Nil, fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := io.Copy(encoder, logs); err != nil {
		encoder.Close()
		return uuid.Nil, fmt.Errorf("compress logs: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return uuid.Nil, fmt.Errorf("compress logs: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, grant.UploadURL, bytes.NewReader(compressed.Bytes()))
	if err != nil {
		return uuid.Nil, fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = int64(compressed.Len())

	resp, err := c.http.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upload logs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return uuid.Nil, fmt.Errorf("upload logs: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return grant.LogsFileID, nil
}

// FetchLogs downloads and decodes the run's log file. The API hands back a
// presigned URL; the object itself is zstd-compressed NDJSON.
func (c *Client) FetchLogs(ctx context.Context, runID uuid.UUID) ([]LogEntry, error) {
	var grant struct {
		DownloadURL string `json:"download_url"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+runID.String()+"/logs", nil, http.StatusOK, &grant); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, grant.DownloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download logs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download logs: status %d", resp.StatusCode)
	}

	decoder, err := zstd.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	return decodeLogLines(decoder)
}

func decodeLogLines(r io.Reader) ([]LogEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}

	var entries []LogEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode log line: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// do performs one API request and decodes either the expected success body
// or the error envelope.
func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Params  map[string]any `json:"params"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       "INTERNAL",
			Message:    fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
		Params:     envelope.Error.Params,
	}
}
