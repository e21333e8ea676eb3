package api

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultPresignTTL = 15 * time.Minute

	runBeginTopic    = "flowrund.runs.begin"
	runFinishedTopic = "flowrund.runs.finished"
)

// LogSigner issues presigned URLs for run log objects.
type LogSigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Publisher dispatches fire-and-forget lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	LogsBucket string
	PresignTTL time.Duration
	// RunQuota caps runs started per project per calendar month. Zero
	// disables the check.
	RunQuota int64
}

// API wires the datastore, log signer, event publisher, and configuration
// for the HTTP handlers.
type API struct {
	data   Datastore
	signer LogSigner
	bus    Publisher
	pool   *pgxpool.Pool
	config Config
	now    func() time.Time
}

// New initialises the API layer from a Store with defaults applied to the
// provided configuration.
func New(store *Store, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}

	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	if cfg.LogsBucket == "" {
		cfg.LogsBucket = os.Getenv("S3_BUCKET")
	}
	if cfg.LogsBucket == "" {
		return nil, errors.New("logs bucket is required")
	}
	if cfg.RunQuota == 0 {
		if v := os.Getenv("FLOWRUND_RUN_QUOTA"); v != "" {
			quota, err := strconv.ParseInt(v, 10, 64)
			if err != nil || quota < 0 {
				return nil, errors.New("invalid FLOWRUND_RUN_QUOTA")
			}
			cfg.RunQuota = quota
		}
	}

	var signer LogSigner
	if store.S3 != nil {
		signer = store.S3
	}
	var pub Publisher
	if store.Bus != nil {
		pub = store.Bus
	}

	a := newAPI(NewDatastore(store.ORM), signer, pub, cfg)
	a.pool = store.DB
	return a, nil
}

func newAPI(data Datastore, signer LogSigner, pub Publisher, cfg Config) *API {
	return &API{
		data:   data,
		signer: signer,
		bus:    pub,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}
