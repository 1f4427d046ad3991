package taskRegistry

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

// TestSuite defines a test suite that all task store implementations must pass
type TestSuite struct {
	NewStore func() (TaskStore, error)
}

// Run executes all task store compliance tests
func (s *TestSuite) Run(t *testing.T) {
	t.Run("RegisterAndGet", s.testRegisterAndGet)
	t.Run("RegisterIsIdempotent", s.testRegisterIsIdempotent)
	t.Run("RetireAndPrune", s.testRetireAndPrune)
	t.Run("Lifecycle", s.testLifecycle)
	t.Run("ConcurrentAccess", s.testConcurrentAccess)
}

func newTestTask(index uint32, n int64, createdBlock uint32) *types.Task {
	return &types.Task{
		Index:                     index,
		NumberToBeSquared:         big.NewInt(n),
		TaskCreatedBlock:          createdBlock,
		QuorumNumbers:             []byte{0},
		QuorumThresholdPercentage: 70,
	}
}

func (s *TestSuite) testRegisterAndGet(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, err = store.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	task := newTestTask(1, 7, 100)
	require.NoError(t, store.Register(ctx, task))

	retrieved, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, task, retrieved)

	// callers cannot mutate the stored task
	retrieved.NumberToBeSquared.SetInt64(8)
	again, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), again.NumberToBeSquared.Int64())

	assert.ErrorIs(t, store.Register(ctx, nil), ErrInvalidTask)
	assert.ErrorIs(t, store.Register(ctx, &types.Task{Index: 2}), ErrInvalidTask)
}

func (s *TestSuite) testRegisterIsIdempotent(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.Register(ctx, newTestTask(5, 3, 10)))
	require.NoError(t, store.Register(ctx, newTestTask(5, 4, 11)))

	task, err := store.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), task.NumberToBeSquared.Int64())
	assert.Equal(t, uint32(10), task.TaskCreatedBlock)

	tasks, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func (s *TestSuite) testRetireAndPrune(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	for i := uint32(0); i < 5; i++ {
		require.NoError(t, store.Register(ctx, newTestTask(i, int64(i), i*50)))
	}

	require.NoError(t, store.Retire(ctx, 4))
	_, err = store.Get(ctx, 4)
	assert.ErrorIs(t, err, ErrNotFound)

	// retiring twice is fine
	require.NoError(t, store.Retire(ctx, 4))

	// created at 0, 50, 100, 150; at block 200 with a 100 block window only 0 and 50 are out
	pruned, err := store.PruneBefore(ctx, 200, 100)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, pruned)

	tasks, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, uint32(2), tasks[0].Index)
	assert.Equal(t, uint32(3), tasks[1].Index)

	pruned, err = store.PruneBefore(ctx, 200, 100)
	require.NoError(t, err)
	assert.Empty(t, pruned)
}

func (s *TestSuite) testLifecycle(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Register(ctx, newTestTask(1, 2, 3)))
	require.NoError(t, store.Close())

	_, err = store.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Register(ctx, newTestTask(2, 2, 3)), ErrStoreClosed)
	assert.ErrorIs(t, store.Retire(ctx, 1), ErrStoreClosed)
	_, err = store.PruneBefore(ctx, 10, 1)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.List(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Close(), ErrStoreClosed)
}

func (s *TestSuite) testConcurrentAccess(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	numGoroutines := 10
	tasksPerGoroutine := 20

	var wg sync.WaitGroup
	errCh := make(chan error, numGoroutines*tasksPerGoroutine)

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < tasksPerGoroutine; i++ {
				index := uint32(g*tasksPerGoroutine + i)
				if err := store.Register(ctx, newTestTask(index, int64(index), index)); err != nil {
					errCh <- fmt.Errorf("register %d: %w", index, err)
					continue
				}
				if _, err := store.Get(ctx, index); err != nil {
					errCh <- fmt.Errorf("get %d: %w", index, err)
				}
			}
		}(g)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}

	tasks, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, numGoroutines*tasksPerGoroutine)
}
