// Package eventlog wraps the local ledger event store with a redis snapshot of each
// register's log. Appends go to the local store only. A failed read is served from the
// last snapshot when one exists.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/sirupsen/logrus"
)

const defaultSnapshotTTL = 24 * time.Hour

// Store is the local event log being wrapped.
type Store interface {
	AppendEvent(ctx context.Context, event *models.LedgerEvent) error
	ListEvents(ctx context.Context, registerId int) ([]*models.LedgerEvent, error)
	ListEventsByOperator(ctx context.Context, operatorId string) ([]*models.LedgerEvent, error)
	LatestEvent(ctx context.Context, registerId int) (*models.LedgerEvent, error)
	LastAppendId(ctx context.Context, registerId int) (int, error)
}

// SnapshotCache stores JSON snapshots. Load reports false for a missing key.
type SnapshotCache interface {
	Load(ctx context.Context, key string, dest interface{}) (bool, error)
	Save(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

type Log struct {
	store  Store
	cache  SnapshotCache
	ttl    time.Duration
	logger *logrus.Logger
}

type Option func(*Log)

func WithSnapshotTTL(ttl time.Duration) Option {
	return func(l *Log) { l.ttl = ttl }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

func New(store Store, cache SnapshotCache, opts ...Option) *Log {
	l := &Log{
		store:  store,
		cache:  cache,
		ttl:    defaultSnapshotTTL,
		logger: config.GetLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) AppendEvent(ctx context.Context, event *models.LedgerEvent) error {
	if err := l.store.AppendEvent(ctx, event); err != nil {
		return err
	}
	// the next successful read rewrites it
	if err := l.cache.Remove(ctx, snapshotKey(ctx, event.RegisterId)); err != nil {
		config.LogError(l.logger, "eventlog.go", "AppendEvent", "Removing ledger snapshot", event.RegisterId, err)
	}
	return nil
}

func (l *Log) ListEvents(ctx context.Context, registerId int) ([]*models.LedgerEvent, error) {
	events, err := l.store.ListEvents(ctx, registerId)
	if err == nil {
		if err := l.cache.Save(ctx, snapshotKey(ctx, registerId), events, l.ttl); err != nil {
			config.LogError(l.logger, "eventlog.go", "ListEvents", "Saving ledger snapshot", registerId, err)
		}
		return events, nil
	}

	snapshot, ok := l.loadSnapshot(ctx, registerId)
	if !ok {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"field":       "eventlog",
		"register_id": registerId,
		"events":      len(snapshot),
		"error":       err.Error(),
	}).Warn("local event store unavailable, serving ledger snapshot")
	return snapshot, nil
}

func (l *Log) ListEventsByOperator(ctx context.Context, operatorId string) ([]*models.LedgerEvent, error) {
	return l.store.ListEventsByOperator(ctx, operatorId)
}

// LatestEvent falls back to the tail of the snapshot.
func (l *Log) LatestEvent(ctx context.Context, registerId int) (*models.LedgerEvent, error) {
	latest, err := l.store.LatestEvent(ctx, registerId)
	if err == nil {
		return latest, nil
	}
	snapshot, ok := l.loadSnapshot(ctx, registerId)
	if !ok {
		return nil, err
	}
	if len(snapshot) == 0 {
		return nil, nil
	}
	return snapshot[len(snapshot)-1], nil
}

// LastAppendId falls back to the highest id in the snapshot.
func (l *Log) LastAppendId(ctx context.Context, registerId int) (int, error) {
	mark, err := l.store.LastAppendId(ctx, registerId)
	if err == nil {
		return mark, nil
	}
	snapshot, ok := l.loadSnapshot(ctx, registerId)
	if !ok {
		return 0, err
	}
	mark = 0
	for _, ev := range snapshot {
		if ev.ID > mark {
			mark = ev.ID
		}
	}
	return mark, nil
}

func (l *Log) loadSnapshot(ctx context.Context, registerId int) ([]*models.LedgerEvent, bool) {
	var snapshot []*models.LedgerEvent
	found, err := l.cache.Load(ctx, snapshotKey(ctx, registerId), &snapshot)
	if err != nil {
		config.LogError(l.logger, "eventlog.go", "loadSnapshot", "Reading ledger snapshot", registerId, err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	models.SortLedgerEvents(snapshot)
	return snapshot, true
}

func snapshotKey(ctx context.Context, registerId int) string {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	return fmt.Sprintf("LedgerSnapshot:%s:%d", businessId, registerId)
}

// RedisSnapshots keeps snapshots in the shared redis client from config.
type RedisSnapshots struct{}

func (RedisSnapshots) Load(ctx context.Context, key string, dest interface{}) (bool, error) {
	return config.GetRedisObject(ctx, key, dest)
}

func (RedisSnapshots) Save(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return config.SetRedisObject(ctx, key, value, ttl)
}

func (RedisSnapshots) Remove(ctx context.Context, key string) error {
	return config.RemoveRedisKey(ctx, key)
}
