package challenger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

// State is the position of a task in the challenge lifecycle.
type State int

const (
	StateUnknown State = iota
	StateAwaitingResponse
	StateHasResponse
	StateClean
	StateDisputed
)

func (s State) String() string {
	switch s {
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateHasResponse:
		return "HasResponse"
	case StateClean:
		return "Clean"
	case StateDisputed:
		return "Disputed"
	default:
		return "Unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateClean || s == StateDisputed
}

// Verdict is the result of one Evaluate call.
type Verdict int

const (
	// VerdictPending means the task or its response has not been seen yet
	VerdictPending Verdict = iota
	VerdictClean
	VerdictDisputed
	// VerdictAlreadyResolved means the task reached a terminal state earlier
	VerdictAlreadyResolved
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictDisputed:
		return "disputed"
	case VerdictAlreadyResolved:
		return "already_resolved"
	default:
		return "pending"
	}
}

// ChallengeRecord is everything known about one task index. A record may hold a response before its
// task when events arrive out of order.
type ChallengeRecord struct {
	TaskIndex            uint32
	Task                 *types.Task
	TaskResponse         *types.TaskResponse
	TaskResponseMetadata types.TaskResponseMetadata
	NonSignerPubkeys     []*bn254.G1Point
	ResponseTxHash       common.Hash
	State                State
	ChallengeTxHash      common.Hash
	ChallengeErr         error
}

// lastSeenBlock is the later of the task creation and response blocks known for the record.
func (r *ChallengeRecord) lastSeenBlock() (uint64, bool) {
	var block uint64
	seen := false
	if r.Task != nil {
		block = uint64(r.Task.TaskCreatedBlock)
		seen = true
	}
	if r.TaskResponse != nil {
		if responded := uint64(r.TaskResponseMetadata.TaskRespondedBlock); !seen || responded > block {
			block = responded
		}
		seen = true
	}
	return block, seen
}

func (r *ChallengeRecord) clone() *ChallengeRecord {
	out := *r
	out.NonSignerPubkeys = append([]*bn254.G1Point(nil), r.NonSignerPubkeys...)
	return &out
}

// Error is a rejected event or a failed challenge, classified by Kind.
type Error struct {
	Kind      types.ErrorKind
	TaskIndex uint32
	Err       error
}

func newError(kind types.ErrorKind, taskIndex uint32, err error) *Error {
	return &Error{Kind: kind, TaskIndex: taskIndex, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("challenger: task %d: %s: %v", e.TaskIndex, e.Kind.String(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) ErrorKind() types.ErrorKind {
	return e.Kind
}
