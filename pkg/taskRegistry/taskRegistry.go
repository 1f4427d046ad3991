package taskRegistry

import (
	"context"
	"errors"

	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

var (
	// ErrNotFound is returned when a task index has never been registered or was retired
	ErrNotFound = errors.New("task not found")

	// ErrStoreClosed is returned when attempting to use a closed registry
	ErrStoreClosed = errors.New("task registry is closed")

	// ErrInvalidTask is returned when registering a task with missing fields
	ErrInvalidTask = errors.New("invalid task")
)

// TaskStore tracks tasks that are open for signing or still inside their challenge window.
type TaskStore interface {
	// Register stores a task. Registering the same index again is a no-op.
	Register(ctx context.Context, task *types.Task) error

	// Get returns the task for the given index or ErrNotFound
	Get(ctx context.Context, index uint32) (*types.Task, error)

	// Retire removes a task. Retiring an unknown index is a no-op.
	Retire(ctx context.Context, index uint32) error

	// PruneBefore retires every task created more than window blocks before block
	// and returns the retired indices.
	PruneBefore(ctx context.Context, block uint32, window uint32) ([]uint32, error)

	// List returns all registered tasks ordered by index
	List(ctx context.Context) ([]*types.Task, error)

	Close() error
}

// ValidateTask checks the fields every registered task must carry.
func ValidateTask(task *types.Task) error {
	if task == nil || task.NumberToBeSquared == nil {
		return ErrInvalidTask
	}
	if task.NumberToBeSquared.Sign() < 0 {
		return ErrInvalidTask
	}
	return nil
}

// Expired reports whether a task created at createdBlock has left its challenge window at block.
func Expired(createdBlock, block, window uint32) bool {
	return uint64(createdBlock)+uint64(window) < uint64(block)
}
