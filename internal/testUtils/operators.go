package testUtils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/operatorRegistry"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

// TestOperator is a registered operator with its BLS keys.
type TestOperator struct {
	KeyPair    *bn254.KeyPair
	OperatorId types.OperatorId
	Stake      *big.Int
}

func (o *TestOperator) Info() *types.OperatorInfo {
	return &types.OperatorInfo{
		OperatorId: o.OperatorId,
		Stake:      new(big.Int).Set(o.Stake),
		PubkeyG1:   o.KeyPair.PubkeyG1,
		PubkeyG2:   o.KeyPair.PubkeyG2,
	}
}

// GenerateOperators creates one operator per stake with a fresh key pair and returns them
// together with a registry snapshot holding all of them.
func GenerateOperators(t *testing.T, stakes ...int64) ([]*TestOperator, *operatorRegistry.StaticRegistrySnapshot) {
	ops := make([]*TestOperator, 0, len(stakes))
	infos := make([]*types.OperatorInfo, 0, len(stakes))
	for _, stake := range stakes {
		kp, err := bn254.GenerateKeyPair()
		require.NoError(t, err)

		op := &TestOperator{
			KeyPair:    kp,
			OperatorId: types.OperatorIdFromG1(kp.PubkeyG1),
			Stake:      big.NewInt(stake),
		}
		ops = append(ops, op)
		infos = append(infos, op.Info())
	}
	return ops, operatorRegistry.NewStaticRegistrySnapshot(infos)
}
