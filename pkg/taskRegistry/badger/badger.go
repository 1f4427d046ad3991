package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	badgerv3 "github.com/dgraph-io/badger/v3"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/aggregator/aggregatorConfig"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/taskRegistry"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"go.uber.org/zap"
)

const (
	// zero padded so key order is index order
	prefixTask    = "task:"
	keyTaskFormat = prefixTask + "%010d"

	maxConflictRetries = 3
)

// taskRecord is the stored form of a task. Numbers are decimal strings.
type taskRecord struct {
	Index                     uint32 `json:"index"`
	NumberToBeSquared         string `json:"numberToBeSquared"`
	TaskCreatedBlock          uint32 `json:"taskCreatedBlock"`
	QuorumNumbers             []byte `json:"quorumNumbers"`
	QuorumThresholdPercentage uint32 `json:"quorumThresholdPercentage"`
}

func newTaskRecord(task *types.Task) *taskRecord {
	return &taskRecord{
		Index:                     task.Index,
		NumberToBeSquared:         task.NumberToBeSquared.String(),
		TaskCreatedBlock:          task.TaskCreatedBlock,
		QuorumNumbers:             task.QuorumNumbers,
		QuorumThresholdPercentage: task.QuorumThresholdPercentage,
	}
}

func (r *taskRecord) toTask() (*types.Task, error) {
	n, ok := new(big.Int).SetString(r.NumberToBeSquared, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt numberToBeSquared for task %d", r.Index)
	}
	return &types.Task{
		Index:                     r.Index,
		NumberToBeSquared:         n,
		TaskCreatedBlock:          r.TaskCreatedBlock,
		QuorumNumbers:             r.QuorumNumbers,
		QuorumThresholdPercentage: r.QuorumThresholdPercentage,
	}, nil
}

func taskKey(index uint32) []byte {
	return []byte(fmt.Sprintf(keyTaskFormat, index))
}

// BadgerTaskStore implements taskRegistry.TaskStore on BadgerDB so open tasks survive a restart.
type BadgerTaskStore struct {
	db       *badgerv3.DB
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
	closeCh  chan struct{}
	gcTicker *time.Ticker
}

func NewBadgerTaskStore(cfg *aggregatorConfig.BadgerConfig, logger *zap.Logger) (*BadgerTaskStore, error) {
	if cfg == nil {
		return nil, errors.New("badger config is nil")
	}

	opts := badgerv3.DefaultOptions(cfg.Dir)
	opts.Logger = nil

	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = cfg.NumVersionsToKeep
	}

	db, err := badgerv3.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerTaskStore{
		db:       db,
		logger:   logger,
		closeCh:  make(chan struct{}),
		gcTicker: time.NewTicker(5 * time.Minute),
	}
	if !cfg.InMemory {
		go s.runGC()
	}
	return s, nil
}

func (s *BadgerTaskStore) runGC() {
	for {
		select {
		case <-s.gcTicker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badgerv3.ErrNoRewrite) {
				s.logger.Sugar().Warnw("Badger value log GC failed", "error", err)
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *BadgerTaskStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return taskRegistry.ErrStoreClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *BadgerTaskStore) update(fn func(txn *badgerv3.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badgerv3.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerTaskStore) Register(ctx context.Context, task *types.Task) error {
	if err := taskRegistry.ValidateTask(task); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	value, err := json.Marshal(newTaskRecord(task))
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	err = s.update(func(txn *badgerv3.Txn) error {
		key := taskKey(task.Index)
		_, err := txn.Get(key)
		if err == nil {
			// tasks are immutable once registered
			return nil
		}
		if !errors.Is(err, badgerv3.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("failed to save task %d: %w", task.Index, err)
	}
	return nil
}

func (s *BadgerTaskStore) Get(ctx context.Context, index uint32) (*types.Task, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var task *types.Task
	err := s.db.View(func(txn *badgerv3.Txn) error {
		item, err := txn.Get(taskKey(index))
		if err != nil {
			if errors.Is(err, badgerv3.ErrKeyNotFound) {
				return taskRegistry.ErrNotFound
			}
			return err
		}
		task, err = decodeItem(item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *BadgerTaskStore) Retire(ctx context.Context, index uint32) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.update(func(txn *badgerv3.Txn) error {
		return txn.Delete(taskKey(index))
	})
}

func (s *BadgerTaskStore) PruneBefore(ctx context.Context, block uint32, window uint32) ([]uint32, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	tasks, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	pruned := make([]uint32, 0)
	for _, task := range tasks {
		if taskRegistry.Expired(task.TaskCreatedBlock, block, window) {
			pruned = append(pruned, task.Index)
		}
	}
	if len(pruned) == 0 {
		return pruned, nil
	}

	err = s.update(func(txn *badgerv3.Txn) error {
		for _, index := range pruned {
			if err := txn.Delete(taskKey(index)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prune tasks: %w", err)
	}
	return pruned, nil
}

func (s *BadgerTaskStore) List(ctx context.Context) ([]*types.Task, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	tasks := make([]*types.Task, 0)
	err := s.db.View(func(txn *badgerv3.Txn) error {
		opts := badgerv3.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTask)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			task, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

func (s *BadgerTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return taskRegistry.ErrStoreClosed
	}
	s.closed = true
	close(s.closeCh)
	s.gcTicker.Stop()
	return s.db.Close()
}

func decodeItem(item *badgerv3.Item) (*types.Task, error) {
	var record taskRecord
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal task record: %w", err)
	}
	return record.toTask()
}
