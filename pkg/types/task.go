package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Task is a number-squaring request as emitted by NewTaskCreated. It is never mutated after registration.
type Task struct {
	Index                     uint32
	NumberToBeSquared         *big.Int
	TaskCreatedBlock          uint32
	QuorumNumbers             []byte
	QuorumThresholdPercentage uint32
}

func (t *Task) String() string {
	return fmt.Sprintf("Task{index=%d, number=%s, createdBlock=%d, threshold=%d}",
		t.Index, t.NumberToBeSquared.String(), t.TaskCreatedBlock, t.QuorumThresholdPercentage)
}

// ExpectedAnswer returns NumberToBeSquared^2.
func (t *Task) ExpectedAnswer() *big.Int {
	return new(big.Int).Mul(t.NumberToBeSquared, t.NumberToBeSquared)
}

type TaskResponse struct {
	ReferenceTaskIndex uint32
	NumberSquared      *big.Int
}

type TaskResponseMetadata struct {
	TaskRespondedBlock uint32
	HashOfNonSigners   [32]byte
}

// TaskRespondedEvent is a decoded TaskResponded log together with its transaction coordinates.
type TaskRespondedEvent struct {
	TaskResponse         TaskResponse
	TaskResponseMetadata TaskResponseMetadata
	TransactionHash      common.Hash
	BlockNumber          uint64
}

// NewTaskCreatedEvent is a decoded NewTaskCreated log.
type NewTaskCreatedEvent struct {
	Task            *Task
	TransactionHash common.Hash
	BlockNumber     uint64
}
