package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"flowrund/pkg/cursor"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// fakeStore is an in-memory Datastore for handler tests.
type fakeStore struct {
	mu sync.Mutex

	runs               map[uuid.UUID]Run
	flows              map[uuid.UUID]Flow
	flowVersions       map[uuid.UUID]FlowVersion
	collections        map[uuid.UUID]Collection
	collectionVersions map[uuid.UUID]CollectionVersion
	instances          map[uuid.UUID]Instance

	createRunErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:               map[uuid.UUID]Run{},
		flows:              map[uuid.UUID]Flow{},
		flowVersions:       map[uuid.UUID]FlowVersion{},
		collections:        map[uuid.UUID]Collection{},
		collectionVersions: map[uuid.UUID]CollectionVersion{},
		instances:          map[uuid.UUID]Instance{},
	}
}

func (s *fakeStore) CreateRun(ctx context.Context, run Run) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createRunErr != nil {
		return Run{}, s.createRunErr
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *fakeStore) GetRun(ctx context.Context, id uuid.UUID) (Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok, nil
}

func positionBefore(a, b cursor.Position) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.Before(b.StartedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (s *fakeStore) ListRuns(ctx context.Context, projectID uuid.UUID, req cursor.Request, limit int) ([]Run, cursor.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Run
	for _, run := range s.runs {
		if run.ProjectID != projectID || run.InstanceID == nil {
			continue
		}
		all = append(all, run)
	}
	// Descending (started_at, id), same order the real store queries in.
	sort.Slice(all, func(i, j int) bool {
		pi := cursor.Position{StartedAt: all[i].StartedAt, ID: all[i].ID}
		pj := cursor.Position{StartedAt: all[j].StartedAt, ID: all[j].ID}
		return positionBefore(pj, pi)
	})

	backward := req.Before != nil
	var window []Run
	switch {
	case backward:
		for i := len(all) - 1; i >= 0; i-- {
			pos := cursor.Position{StartedAt: all[i].StartedAt, ID: all[i].ID}
			if positionBefore(*req.Before, pos) {
				window = append(window, all[i])
			}
		}
	case req.After != nil:
		for _, run := range all {
			pos := cursor.Position{StartedAt: run.StartedAt, ID: run.ID}
			if positionBefore(pos, *req.After) {
				window = append(window, run)
			}
		}
	default:
		window = all
	}

	hasExtra := len(window) > limit
	if hasExtra {
		window = window[:limit]
	}
	if backward {
		for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
			window[i], window[j] = window[j], window[i]
		}
	}

	var page cursor.Page
	if len(window) > 0 {
		first := cursor.Position{StartedAt: window[0].StartedAt, ID: window[0].ID}
		last := cursor.Position{StartedAt: window[len(window)-1].StartedAt, ID: window[len(window)-1].ID}
		if backward {
			page.Next = cursor.EncodeNext(last)
			if hasExtra {
				page.Previous = cursor.EncodePrevious(first)
			}
		} else {
			if hasExtra {
				page.Next = cursor.EncodeNext(last)
			}
			if req.After != nil {
				page.Previous = cursor.EncodePrevious(first)
			}
		}
	}

	return window, page, nil
}

func (s *fakeStore) FinishRun(ctx context.Context, id uuid.UUID, status string, logsFileID *uuid.UUID, finishedAt time.Time) (Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false, nil
	}
	run.Status = status
	run.LogsFileID = logsFileID
	run.FinishedAt = &finishedAt
	s.runs[id] = run
	return run, true, nil
}

func (s *fakeStore) CountRunsStartedSince(ctx context.Context, projectID uuid.UUID, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, run := range s.runs {
		if run.ProjectID == projectID && !run.StartedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) GetFlow(ctx context.Context, id uuid.UUID) (Flow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	return f, ok, nil
}

func (s *fakeStore) GetFlowVersion(ctx context.Context, id uuid.UUID) (FlowVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.flowVersions[id]
	return v, ok, nil
}

func (s *fakeStore) GetCollectionVersion(ctx context.Context, id uuid.UUID) (CollectionVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.collectionVersions[id]
	return v, ok, nil
}

func (s *fakeStore) GetCollection(ctx context.Context, id uuid.UUID) (Collection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[id]
	return c, ok, nil
}

func (s *fakeStore) GetInstance(ctx context.Context, id uuid.UUID) (Instance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	return inst, ok, nil
}

func (s *fakeStore) CreateCollection(ctx context.Context, c Collection) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[c.ID] = c
	return c, nil
}

func (s *fakeStore) CreateCollectionVersion(ctx context.Context, v CollectionVersion) (CollectionVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectionVersions[v.ID] = v
	return v, nil
}

func (s *fakeStore) CreateFlow(ctx context.Context, f Flow) (Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = f
	return f, nil
}

func (s *fakeStore) CreateFlowVersion(ctx context.Context, v FlowVersion) (FlowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowVersions[v.ID] = v
	return v, nil
}

func (s *fakeStore) CreateInstance(ctx context.Context, inst Instance) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = inst
	return inst, nil
}

func (s *fakeStore) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// fakeSigner returns deterministic presigned URLs so tests can assert the
// object key.
type fakeSigner struct{}

func (fakeSigner) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://s3.test/%s/%s?verb=get", bucket, key), nil
}

func (fakeSigner) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://s3.test/%s/%s?verb=put", bucket, key), nil
}

type publishedEvent struct {
	Subject string
	Payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Subject: subject, Payload: v})
	return nil
}

func (p *fakePublisher) bySubject(subject string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, evt := range p.events {
		if evt.Subject == subject {
			out = append(out, evt)
		}
	}
	return out
}

type testHarness struct {
	store   *fakeStore
	pub     *fakePublisher
	api     *API
	handler http.Handler
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	if cfg.LogsBucket == "" {
		cfg.LogsBucket = "run-logs"
	}
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = time.Minute
	}

	store := newFakeStore()
	pub := &fakePublisher{}
	a := newAPI(store, fakeSigner{}, pub, cfg)
	a.now = func() time.Time { return testNow }

	handler, err := a.Routes()
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}

	return &testHarness{store: store, pub: pub, api: a, handler: handler}
}

func (h *testHarness) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error ErrorBody `json:"error"`
	}
	decodeBody(t, rec, &envelope)
	return envelope.Error.Code
}

// seedHierarchy creates a project-owned collection, version, flow, flow
// version and instance, returning them for use in run tests.
type seeded struct {
	projectID         uuid.UUID
	collection        Collection
	collectionVersion CollectionVersion
	flow              Flow
	flowVersion       FlowVersion
	instance          Instance
}

func seedHierarchy(t *testing.T, store *fakeStore) seeded {
	t.Helper()
	ctx := context.Background()

	projectID := uuid.New()
	collection, err := store.CreateCollection(ctx, Collection{
		ID:          uuid.New(),
		ProjectID:   projectID,
		DisplayName: "My Collection",
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	})
	if err != nil {
		t.Fatal(err)
	}
	version, err := store.CreateCollectionVersion(ctx, CollectionVersion{
		ID:           uuid.New(),
		CollectionID: collection.ID,
		DisplayName:  collection.DisplayName,
		Data:         map[string]any{},
		CreatedAt:    testNow,
	})
	if err != nil {
		t.Fatal(err)
	}
	flow, err := store.CreateFlow(ctx, Flow{
		ID:           uuid.New(),
		CollectionID: collection.ID,
		DisplayName:  "Sync Contacts",
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	})
	if err != nil {
		t.Fatal(err)
	}
	flowVersion, err := store.CreateFlowVersion(ctx, FlowVersion{
		ID:          uuid.New(),
		FlowID:      flow.ID,
		DisplayName: flow.DisplayName,
		Data:        map[string]any{},
		CreatedAt:   testNow,
	})
	if err != nil {
		t.Fatal(err)
	}
	instance, err := store.CreateInstance(ctx, Instance{
		ID:                  uuid.New(),
		ProjectID:           projectID,
		CollectionID:        collection.ID,
		CollectionVersionID: version.ID,
		CreatedAt:           testNow,
	})
	if err != nil {
		t.Fatal(err)
	}

	return seeded{
		projectID:         projectID,
		collection:        collection,
		collectionVersion: version,
		flow:              flow,
		flowVersion:       flowVersion,
		instance:          instance,
	}
}
