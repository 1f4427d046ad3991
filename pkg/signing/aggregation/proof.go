package aggregation

import (
	"math/big"

	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

// answerGroup is the set of registered operators that signed the same answer.
type answerGroup struct {
	numberSquared *big.Int
	signers       map[types.OperatorId]bool
	stake         *big.Int
}

// groupForAnswer collects recorded responses matching answer from operators registered in the snapshot.
// Responses from operators absent from the snapshot are ignored; they carry no stake at this block.
func groupForAnswer(responses map[types.OperatorId]*types.SignedResponse, operators *types.OperatorSet, answer *big.Int) *answerGroup {
	group := &answerGroup{
		numberSquared: answer,
		signers:       make(map[types.OperatorId]bool),
		stake:         new(big.Int),
	}
	for id, res := range responses {
		if res.NumberSquared.Cmp(answer) != 0 {
			continue
		}
		op, ok := operators.Get(id)
		if !ok {
			continue
		}
		group.signers[id] = true
		if op.Stake != nil {
			group.stake.Add(group.stake, op.Stake)
		}
	}
	return group
}

// thresholdMet reports signedStake/totalStake >= thresholdPercent/100 in integer arithmetic.
// A zero total never meets the threshold.
func thresholdMet(signedStake, totalStake *big.Int, thresholdPercent uint32) bool {
	if totalStake.Sign() == 0 {
		return false
	}
	lhs := new(big.Int).Mul(signedStake, big.NewInt(100))
	rhs := new(big.Int).Mul(totalStake, new(big.Int).SetUint64(uint64(thresholdPercent)))
	return lhs.Cmp(rhs) >= 0
}

// buildAggregateProof sums the signer signatures and G2 keys, the G1 keys of every registered
// operator, and lists the non-signers in ascending operator id order. No I/O.
func buildAggregateProof(
	task *types.Task,
	group *answerGroup,
	responses map[types.OperatorId]*types.SignedResponse,
	operators *types.OperatorSet,
	referenceBlock uint32,
) *types.AggregateProof {
	aggSig := bn254.NewZeroSignature()
	signersApkG2 := bn254.NewZeroG2Point()
	quorumApkG1 := bn254.NewZeroG1Point()

	signerIds := make([]types.OperatorId, 0, len(group.signers))
	nonSignerIds := make([]types.OperatorId, 0)
	nonSignerPubkeys := make([]*bn254.G1Point, 0)

	for _, id := range operators.SortedIds() {
		op, _ := operators.Get(id)
		quorumApkG1.Add(op.PubkeyG1)

		if group.signers[id] {
			signerIds = append(signerIds, id)
			signersApkG2.Add(op.PubkeyG2)
			aggSig.Add(responses[id].Signature)
			continue
		}
		nonSignerIds = append(nonSignerIds, id)
		nonSignerPubkeys = append(nonSignerPubkeys, op.PubkeyG1.Clone())
	}

	return &types.AggregateProof{
		Task: task,
		TaskResponse: types.TaskResponse{
			ReferenceTaskIndex: task.Index,
			NumberSquared:      new(big.Int).Set(group.numberSquared),
		},
		ReferenceBlock:     referenceBlock,
		SignerIds:          signerIds,
		NonSignerIds:       nonSignerIds,
		NonSignerPubkeysG1: nonSignerPubkeys,
		QuorumApkG1:        quorumApkG1,
		SignersApkG2:       signersApkG2,
		AggSignatureG1:     aggSig,
		SignedStake:        new(big.Int).Set(group.stake),
		TotalStake:         operators.TotalStake(),
	}
}
