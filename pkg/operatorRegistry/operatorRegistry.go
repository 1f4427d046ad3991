package operatorRegistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

// RegistrySnapshot returns the registered operator set as of a block.
type RegistrySnapshot interface {
	GetOperatorSet(ctx context.Context, blockNumber uint32) (*types.OperatorSet, error)
}

// StaticRegistrySnapshot serves a fixed operator set for every block. Useful for devnets and tests.
type StaticRegistrySnapshot struct {
	mu        sync.RWMutex
	operators []*types.OperatorInfo
}

func NewStaticRegistrySnapshot(operators []*types.OperatorInfo) *StaticRegistrySnapshot {
	return &StaticRegistrySnapshot{operators: operators}
}

func (s *StaticRegistrySnapshot) GetOperatorSet(ctx context.Context, blockNumber uint32) (*types.OperatorSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.NewOperatorSet(blockNumber, s.operators), nil
}

// SetOperators replaces the served set.
func (s *StaticRegistrySnapshot) SetOperators(operators []*types.OperatorInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators = operators
}

// ValidateOperator checks that an operator carries both keys, a stake and the id derived from its G1 key.
func ValidateOperator(op *types.OperatorInfo) error {
	if op.PubkeyG1 == nil || op.PubkeyG2 == nil {
		return fmt.Errorf("operator %s is missing a public key", op.OperatorId)
	}
	if op.Stake == nil || op.Stake.Sign() < 0 {
		return fmt.Errorf("operator %s has an invalid stake", op.OperatorId)
	}
	if derived := types.OperatorIdFromG1(op.PubkeyG1); derived != op.OperatorId {
		return fmt.Errorf("operator id %s does not match G1 public key (expected %s)", op.OperatorId, derived)
	}
	return nil
}
