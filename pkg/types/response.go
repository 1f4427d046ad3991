package types

import (
	"math/big"

	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
)

// SignedResponse is one operator's signed answer for a task.
type SignedResponse struct {
	TaskIndex     uint32
	OperatorId    OperatorId
	NumberSquared *big.Int
	Signature     *bn254.Signature
	BlockNumber   uint32
}

func (r *SignedResponse) TaskResponse() TaskResponse {
	return TaskResponse{
		ReferenceTaskIndex: r.TaskIndex,
		NumberSquared:      r.NumberSquared,
	}
}

// CheckSignaturesIndices are the historical registry indices the signature checker needs to look up
// stake and aggregate key snapshots at the reference block.
type CheckSignaturesIndices struct {
	NonSignerQuorumBitmapIndices []uint32
	QuorumApkIndices             []uint32
	TotalStakeIndices            []uint32
	NonSignerStakeIndices        [][]uint32
}

// AggregateProof is everything respondToTask needs for a task that reached quorum.
type AggregateProof struct {
	Task           *Task
	TaskResponse   TaskResponse
	// ReferenceBlock is the block the registry indices are read at, the task's creation block
	ReferenceBlock uint32

	SignerIds          []OperatorId
	NonSignerIds       []OperatorId
	NonSignerPubkeysG1 []*bn254.G1Point

	QuorumApkG1    *bn254.G1Point
	SignersApkG2   *bn254.G2Point
	AggSignatureG1 *bn254.Signature

	SignedStake *big.Int
	TotalStake  *big.Int

	Indices *CheckSignaturesIndices
}
