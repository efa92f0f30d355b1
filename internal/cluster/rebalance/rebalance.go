// Package rebalance drives shard migration when shardmap.Map assignments
// change. The transport is left pluggable — TransferFunc — because a
// document account's data spans several kv families
// (values/index/bitmaps/blobs, see internal/store/keycodec), so the
// concrete transfer mechanism belongs to the server entry point wiring
// this package to its own replication transport, not to the migration
// bookkeeping itself.
package rebalance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nyxmail/corestore/internal/cluster/shardmap"
	"github.com/nyxmail/corestore/internal/telemetry/logger"
)

// TransferFunc migrates every document belonging to account to targetNode,
// respecting ctx cancellation. The server entry point supplies this,
// typically streaming the account's kv families to the target over the
// cluster's own RPC transport.
type TransferFunc func(ctx context.Context, account uint32, targetNode string) (bytesTransferred int64, err error)

// Config configures the rebalance manager.
type Config struct {
	// MaxRateBytesPerSec caps migration bandwidth across all in-flight
	// shard transfers.
	MaxRateBytesPerSec int64

	// ConcurrentShards bounds how many shards migrate in parallel.
	ConcurrentShards int

	Logger logger.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRateBytesPerSec: 20 * 1024 * 1024,
		ConcurrentShards:   3,
		Logger:             logger.Default(),
	}
}

// Manager drives shard data migration as shardmap.Map assignments change.
type Manager struct {
	cfg      Config
	transfer TransferFunc

	mu      sync.RWMutex
	tasks   map[uint32]*Task
	running atomic.Bool

	logger logger.Logger
}

// New creates a rebalance manager that moves accounts with transfer.
// The accounts routed to each shard are supplied per call, through
// Trigger's accountsForShard argument.
func New(cfg Config, transfer TransferFunc) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	return &Manager{
		cfg:      cfg,
		transfer: transfer,
		tasks:    make(map[uint32]*Task),
		logger:   cfg.Logger,
	}
}

// Task tracks a single shard's migration.
type Task struct {
	ShardID    uint32
	TargetNode string
	Status     TaskStatus
	Progress   TaskProgress

	startTime time.Time
	endTime   time.Time

	mu sync.RWMutex
}

// TaskStatus is a migration task's execution state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskProgress tracks task execution progress.
type TaskProgress struct {
	AccountsTotal       uint64
	AccountsTransferred uint64
	BytesTransferred    int64
	LastError           string
}

// Trigger computes the shard reassignments between oldMap and newMap and
// migrates each affected shard's accounts to its new owner, bounded by
// cfg.ConcurrentShards and a shared rate limiter.
func (m *Manager) Trigger(ctx context.Context, oldMap, newMap *shardmap.Map, accountsForShard func(shard uint32) []uint32) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("rebalance already in progress")
	}
	defer m.running.Store(false)

	m.logger.Info("rebalance triggered", "old_version", oldMap.Version(), "new_version", newMap.Version())

	migrations := computeMigrations(oldMap, newMap)
	if len(migrations) == 0 {
		m.logger.Info("no shard migrations needed")
		return nil
	}
	m.logger.Info("computed migrations", "count", len(migrations))

	m.mu.Lock()
	for shard, target := range migrations {
		m.tasks[shard] = &Task{ShardID: shard, TargetNode: target, Status: TaskPending, startTime: time.Now()}
	}
	m.mu.Unlock()

	limiter := rate.NewLimiter(rate.Limit(m.cfg.MaxRateBytesPerSec), int(m.cfg.MaxRateBytesPerSec))
	sem := make(chan struct{}, m.cfg.ConcurrentShards)
	var wg sync.WaitGroup

	for shard, target := range migrations {
		wg.Add(1)
		go func(shard uint32, target string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			accounts := accountsForShard(shard)
			if err := m.migrateShard(ctx, shard, target, accounts, limiter); err != nil {
				m.logger.Error("shard migration failed", "shard_id", shard, "error", err)
			}
		}(shard, target)
	}
	wg.Wait()

	m.logger.Info("rebalance completed", "migrated_shards", len(migrations))
	return nil
}

func computeMigrations(oldMap, newMap *shardmap.Map) map[uint32]string {
	migrations := make(map[uint32]string)
	for shard := uint32(0); shard < shardmap.ShardCount; shard++ {
		newOwner, newOK := newMap.OwnerOfShard(shard)
		if !newOK {
			continue
		}
		oldOwner, oldOK := oldMap.OwnerOfShard(shard)
		if !oldOK || oldOwner != newOwner {
			migrations[shard] = newOwner
		}
	}
	return migrations
}

func (m *Manager) migrateShard(ctx context.Context, shard uint32, target string, accounts []uint32, limiter *rate.Limiter) error {
	m.mu.RLock()
	task := m.tasks[shard]
	m.mu.RUnlock()
	if task == nil {
		return fmt.Errorf("task not found for shard %d", shard)
	}

	task.mu.Lock()
	task.Status = TaskRunning
	task.Progress.AccountsTotal = uint64(len(accounts))
	task.mu.Unlock()

	m.logger.Info("starting shard migration", "shard_id", shard, "target_node", target, "accounts", len(accounts))

	var transferred uint64
	var totalBytes int64
	for _, account := range accounts {
		n, err := m.transfer(ctx, account, target)
		if err != nil {
			m.failTask(task, fmt.Sprintf("account %d: %v", account, err))
			return fmt.Errorf("transfer account %d: %w", account, err)
		}
		if err := limiter.WaitN(ctx, int(max64(n, 1))); err != nil {
			m.failTask(task, err.Error())
			return fmt.Errorf("rate limiter: %w", err)
		}
		transferred++
		totalBytes += n

		task.mu.Lock()
		task.Progress.AccountsTransferred = transferred
		task.Progress.BytesTransferred = totalBytes
		task.mu.Unlock()
	}

	task.mu.Lock()
	task.Status = TaskCompleted
	task.endTime = time.Now()
	task.mu.Unlock()

	elapsed := time.Since(task.startTime)
	m.logger.Info("shard migration completed", "shard_id", shard, "accounts", transferred, "bytes", totalBytes, "elapsed", elapsed)
	return nil
}

func (m *Manager) failTask(task *Task, errMsg string) {
	task.mu.Lock()
	defer task.mu.Unlock()
	task.Status = TaskFailed
	task.endTime = time.Now()
	task.Progress.LastError = errMsg
}

// TaskStatus returns the status of shard's migration task, if any.
func (m *Manager) TaskStatus(shard uint32) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[shard]
	return task, ok
}

// Tasks returns every tracked migration task.
func (m *Manager) Tasks() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out
}

// IsRunning reports whether a rebalance is currently in progress.
func (m *Manager) IsRunning() bool { return m.running.Load() }

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
