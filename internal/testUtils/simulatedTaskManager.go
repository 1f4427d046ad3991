package testUtils

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/contracts"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller/manualPushChainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/util"
)

// SimulatedTaskManager is an in-process stand-in for the task manager contract. Writes are held in a
// pending block until Mine publishes their events to the push poller.
type SimulatedTaskManager struct {
	abi    *abi.ABI
	poller *manualPushChainPoller.ManualPushChainPoller

	mu          sync.Mutex
	submitDelay time.Duration
	head        uint64
	nextIndex  uint32
	txCount    uint64
	pending    []*chainPoller.TaskEvent
	inputs     map[common.Hash][]byte
	responses  []*types.AggregateProof
	challenges []*contractCaller.RaiseChallengeParams
}

var (
	_ contractCaller.ChainReader = (*SimulatedTaskManager)(nil)
	_ contractCaller.ChainWriter = (*SimulatedTaskManager)(nil)
)

func NewSimulatedTaskManager(poller *manualPushChainPoller.ManualPushChainPoller) (*SimulatedTaskManager, error) {
	a, err := contracts.TaskManagerAbi()
	if err != nil {
		return nil, err
	}
	return &SimulatedTaskManager{
		abi:    a,
		poller: poller,
		inputs: make(map[common.Hash][]byte),
	}, nil
}

// nextTxHash must be called with the lock held
func (s *SimulatedTaskManager) nextTxHash() common.Hash {
	s.txCount++
	var h common.Hash
	binary.BigEndian.PutUint64(h[24:], s.txCount)
	return h
}

func receipt(txHash common.Hash, block uint64) *ethTypes.Receipt {
	return &ethTypes.Receipt{
		Status:      ethTypes.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(block),
	}
}

// Mine publishes every pending event in a new block and returns its number.
func (s *SimulatedTaskManager) Mine() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.head++
	for _, event := range s.pending {
		event.BlockNumber = s.head
		switch event.Kind {
		case chainPoller.EventKindTaskCreated:
			event.TaskCreated.BlockNumber = s.head
		case chainPoller.EventKindTaskResponded:
			event.TaskResponded.BlockNumber = s.head
		}
		if err := s.poller.Push(event); err != nil {
			return s.head, fmt.Errorf("failed to publish block %d: %w", s.head, err)
		}
	}
	s.pending = nil
	return s.head, nil
}

// SetSubmitDelay makes SubmitAggregate wait before the transaction is accepted, like waiting for a
// receipt on a real chain.
func (s *SimulatedTaskManager) SetSubmitDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitDelay = d
}

func (s *SimulatedTaskManager) Responses() []*types.AggregateProof {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.AggregateProof(nil), s.responses...)
}

func (s *SimulatedTaskManager) Challenges() []*contractCaller.RaiseChallengeParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*contractCaller.RaiseChallengeParams(nil), s.challenges...)
}

// GetCheckSignaturesIndices returns zero indices; the simulated registry never changes.
func (s *SimulatedTaskManager) GetCheckSignaturesIndices(ctx context.Context, referenceBlock uint32, quorumNumbers []byte, nonSignerIds []types.OperatorId) (*types.CheckSignaturesIndices, error) {
	nonSignerStakeIndices := make([][]uint32, len(quorumNumbers))
	for i := range nonSignerStakeIndices {
		nonSignerStakeIndices[i] = make([]uint32, len(nonSignerIds))
	}
	return &types.CheckSignaturesIndices{
		NonSignerQuorumBitmapIndices: make([]uint32, len(nonSignerIds)),
		QuorumApkIndices:             make([]uint32, len(quorumNumbers)),
		TotalStakeIndices:            make([]uint32, len(quorumNumbers)),
		NonSignerStakeIndices:        nonSignerStakeIndices,
	}, nil
}

func (s *SimulatedTaskManager) GetTransactionInput(ctx context.Context, txHash common.Hash) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	input, ok := s.inputs[txHash]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", txHash.Hex())
	}
	return input, nil
}

func (s *SimulatedTaskManager) BlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

// FilterTaskEvents has nothing to return; events reach subscribers through the push poller.
func (s *SimulatedTaskManager) FilterTaskEvents(ctx context.Context, fromBlock, toBlock uint64) ([]ethTypes.Log, error) {
	return nil, nil
}

func (s *SimulatedTaskManager) CreateNewTask(ctx context.Context, numberToBeSquared *big.Int, quorumThresholdPercentage uint32, quorumNumbers []byte) (*types.NewTaskCreatedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &types.Task{
		Index:                     s.nextIndex,
		NumberToBeSquared:         new(big.Int).Set(numberToBeSquared),
		TaskCreatedBlock:          uint32(s.head),
		QuorumNumbers:             append([]byte{}, quorumNumbers...),
		QuorumThresholdPercentage: quorumThresholdPercentage,
	}
	s.nextIndex++

	txHash := s.nextTxHash()
	s.pending = append(s.pending, &chainPoller.TaskEvent{
		Kind: chainPoller.EventKindTaskCreated,
		TaskCreated: &types.NewTaskCreatedEvent{
			Task:            task,
			TransactionHash: txHash,
		},
	})
	return &types.NewTaskCreatedEvent{
		Task:            task,
		TransactionHash: txHash,
		BlockNumber:     s.head + 1,
	}, nil
}

// SubmitAggregate encodes respondToTask like the real caller so the challenger can decode the input.
func (s *SimulatedTaskManager) SubmitAggregate(ctx context.Context, proof *types.AggregateProof) (*ethTypes.Receipt, error) {
	nonSignerStakesAndSignature, err := util.NonSignerStakesAndSignature(proof)
	if err != nil {
		return nil, err
	}
	input, err := s.abi.Pack(contracts.MethodRespondToTask,
		util.TaskToContract(proof.Task),
		util.TaskResponseToContract(proof.TaskResponse),
		nonSignerStakesAndSignature,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack respondToTask: %w", err)
	}

	s.mu.Lock()
	delay := s.submitDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txHash := s.nextTxHash()
	s.inputs[txHash] = input
	s.responses = append(s.responses, proof)
	s.pending = append(s.pending, &chainPoller.TaskEvent{
		Kind: chainPoller.EventKindTaskResponded,
		TaskResponded: &types.TaskRespondedEvent{
			TaskResponse: proof.TaskResponse,
			TaskResponseMetadata: types.TaskResponseMetadata{
				TaskRespondedBlock: uint32(s.head + 1),
			},
			TransactionHash: txHash,
		},
	})
	return receipt(txHash, s.head+1), nil
}

func (s *SimulatedTaskManager) RaiseChallenge(ctx context.Context, params *contractCaller.RaiseChallengeParams) (*ethTypes.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenges = append(s.challenges, params)
	return receipt(s.nextTxHash(), s.head+1), nil
}
