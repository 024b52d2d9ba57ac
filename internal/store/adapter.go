package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aoi-tools/aoi-workbench/internal/aoi"
)

// Fixed key suffixes; the configured namespace prefixes both.
const (
	areasKeySuffix       = "areas"
	projectNameKeySuffix = "project_name"
)

// Adapter serializes the AOI collection and the project name under two
// fixed keys. Loads treat missing or unparseable payloads as empty
// state rather than errors; the caller decides what to do with write
// failures (the repository logs and swallows them).
type Adapter struct {
	logger    *slog.Logger
	kv        KV
	namespace string
	opTimeout time.Duration
	durable   bool
}

func NewAdapter(logger *slog.Logger, kv KV, namespace string, opTimeout time.Duration) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = "aoi"
	}
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	_, noop := kv.(NoopKV)
	return &Adapter{
		logger:    logger,
		kv:        kv,
		namespace: namespace,
		opTimeout: opTimeout,
		durable:   !noop,
	}
}

// Durable reports whether writes actually reach a durable store.
func (a *Adapter) Durable() bool { return a.durable }

func (a *Adapter) key(suffix string) string {
	return a.namespace + ":" + suffix
}

// SaveAOIs writes the whole collection as one JSON document. Render
// handles never appear in the encoding; only serializable record
// fields are stored.
func (a *Adapter) SaveAOIs(ctx context.Context, aois []aoi.AOI) error {
	payload, err := json.Marshal(aois)
	if err != nil {
		return fmt.Errorf("encode aoi collection: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	if err := a.kv.Set(ctx, a.key(areasKeySuffix), payload); err != nil {
		return fmt.Errorf("write aoi collection: %w", err)
	}
	return nil
}

// LoadAOIs reads the collection back. A missing key or a payload that
// fails to parse yields an empty collection, not an error.
func (a *Adapter) LoadAOIs(ctx context.Context) ([]aoi.AOI, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	payload, found, err := a.kv.Get(ctx, a.key(areasKeySuffix))
	if err != nil {
		return nil, fmt.Errorf("read aoi collection: %w", err)
	}
	if !found {
		return nil, nil
	}
	var out []aoi.AOI
	if err := json.Unmarshal(payload, &out); err != nil {
		a.logger.Warn("stored aoi payload unparseable, treating as empty", "err", err)
		return nil, nil
	}
	return out, nil
}

func (a *Adapter) SaveProjectName(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	if err := a.kv.Set(ctx, a.key(projectNameKeySuffix), []byte(name)); err != nil {
		return fmt.Errorf("write project name: %w", err)
	}
	return nil
}

// LoadProjectName returns fallback when nothing is stored.
func (a *Adapter) LoadProjectName(ctx context.Context, fallback string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	payload, found, err := a.kv.Get(ctx, a.key(projectNameKeySuffix))
	if err != nil {
		return fallback, fmt.Errorf("read project name: %w", err)
	}
	if !found || len(payload) == 0 {
		return fallback, nil
	}
	return string(payload), nil
}

func (a *Adapter) Close() error {
	return a.kv.Close()
}
