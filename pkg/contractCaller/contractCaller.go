package contractCaller

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

// RaiseChallengeParams are the arguments of raiseAndResolveChallenge.
type RaiseChallengeParams struct {
	Task                 *types.Task
	TaskResponse         types.TaskResponse
	TaskResponseMetadata types.TaskResponseMetadata
	NonSignerPubkeys     []*bn254.G1Point
}

// ChainReader is the read side of the task manager and registry contracts.
type ChainReader interface {
	// GetCheckSignaturesIndices returns the registry indices the signature checker needs for the
	// given non-signers. nonSignerIds must be in ascending order.
	GetCheckSignaturesIndices(ctx context.Context, referenceBlock uint32, quorumNumbers []byte, nonSignerIds []types.OperatorId) (*types.CheckSignaturesIndices, error)

	GetTransactionInput(ctx context.Context, txHash common.Hash) ([]byte, error)

	BlockNumber(ctx context.Context) (uint64, error)

	// FilterTaskEvents returns task manager logs in the inclusive block range
	FilterTaskEvents(ctx context.Context, fromBlock, toBlock uint64) ([]ethTypes.Log, error)
}

// ChainWriter sends transactions to the task manager.
type ChainWriter interface {
	SubmitAggregate(ctx context.Context, proof *types.AggregateProof) (*ethTypes.Receipt, error)

	RaiseChallenge(ctx context.Context, params *RaiseChallengeParams) (*ethTypes.Receipt, error)

	CreateNewTask(ctx context.Context, numberToBeSquared *big.Int, quorumThresholdPercentage uint32, quorumNumbers []byte) (*types.NewTaskCreatedEvent, error)
}

type IContractCaller interface {
	ChainReader
	ChainWriter
}
