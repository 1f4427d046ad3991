package chainPoller

import (
	"context"

	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

type EventKind int

const (
	EventKindTaskCreated EventKind = iota
	EventKindTaskResponded
)

func (k EventKind) String() string {
	switch k {
	case EventKindTaskCreated:
		return "task_created"
	case EventKindTaskResponded:
		return "task_responded"
	default:
		return "unknown"
	}
}

// TaskEvent is one decoded task manager log. Exactly one of TaskCreated and TaskResponded is set.
type TaskEvent struct {
	Kind          EventKind
	BlockNumber   uint64
	LogIndex      uint
	TaskCreated   *types.NewTaskCreatedEvent
	TaskResponded *types.TaskRespondedEvent
}

// Subscription delivers events in chain order until it fails or is unsubscribed. At most one error is
// sent on Err, after which Events is closed.
type Subscription interface {
	Events() <-chan *TaskEvent
	Err() <-chan error
	Unsubscribe()
}

type IChainPoller interface {
	// Subscribe starts delivering events from fromBlock onwards. A fromBlock of 0 starts at the current head.
	Subscribe(ctx context.Context, fromBlock uint64) (Subscription, error)
}
