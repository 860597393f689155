// Package store provides the key-value persistence adapters used by the
// reminder scheduler and the calendar subscription cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"smartcal/internal/config"
	appLog "smartcal/internal/log"
)

var ErrNotFound = errors.New("store: key not found")

// KV is a string key-value store. Load returns ErrNotFound when the key has
// never been saved.
type KV interface {
	Save(ctx context.Context, key, value string) error
	Load(ctx context.Context, key string) (string, error)
}

// Open builds the backend selected by cfg.Driver. The returned close func is
// never nil.
func Open(ctx context.Context, cfg config.StorageConfig) (KV, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Driver {
	case "memory":
		appLog.Info("storage: using in-memory store; reminders will not survive restarts")
		return NewMemory(), nop, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, nop, fmt.Errorf("store: postgres driver requires a DSN (%s)", config.EnvStorageDSN)
		}
		pg, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nop, err
		}
		return pg, pg.Close, nil
	default:
		fs, err := NewFile(cfg.Dir)
		if err != nil {
			return nil, nop, err
		}
		return fs, nop, nil
	}
}

// Memory is a process-local KV.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Save(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Load(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}
