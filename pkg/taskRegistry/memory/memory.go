package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/taskRegistry"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

// InMemoryTaskStore implements taskRegistry.TaskStore with an in-memory map
type InMemoryTaskStore struct {
	mu     sync.RWMutex
	closed bool
	tasks  map[uint32]*types.Task
}

func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks: make(map[uint32]*types.Task),
	}
}

func (s *InMemoryTaskStore) Register(ctx context.Context, task *types.Task) error {
	if err := taskRegistry.ValidateTask(task); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return taskRegistry.ErrStoreClosed
	}

	// tasks are immutable once registered
	if _, exists := s.tasks[task.Index]; exists {
		return nil
	}
	s.tasks[task.Index] = copyTask(task)
	return nil
}

func (s *InMemoryTaskStore) Get(ctx context.Context, index uint32) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, taskRegistry.ErrStoreClosed
	}

	task, exists := s.tasks[index]
	if !exists {
		return nil, taskRegistry.ErrNotFound
	}
	return copyTask(task), nil
}

func (s *InMemoryTaskStore) Retire(ctx context.Context, index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return taskRegistry.ErrStoreClosed
	}
	delete(s.tasks, index)
	return nil
}

func (s *InMemoryTaskStore) PruneBefore(ctx context.Context, block uint32, window uint32) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, taskRegistry.ErrStoreClosed
	}

	pruned := make([]uint32, 0)
	for index, task := range s.tasks {
		if taskRegistry.Expired(task.TaskCreatedBlock, block, window) {
			pruned = append(pruned, index)
			delete(s.tasks, index)
		}
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i] < pruned[j] })
	return pruned, nil
}

func (s *InMemoryTaskStore) List(ctx context.Context) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, taskRegistry.ErrStoreClosed
	}

	tasks := make([]*types.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, copyTask(task))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Index < tasks[j].Index })
	return tasks, nil
}

func (s *InMemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return taskRegistry.ErrStoreClosed
	}
	s.closed = true
	s.tasks = nil
	return nil
}

func copyTask(task *types.Task) *types.Task {
	c := *task
	c.NumberToBeSquared = new(big.Int).Set(task.NumberToBeSquared)
	if task.QuorumNumbers != nil {
		c.QuorumNumbers = append([]byte{}, task.QuorumNumbers...)
	}
	return &c
}
