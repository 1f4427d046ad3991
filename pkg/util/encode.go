package util

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zellular-xyz/incredible-squaring-avs-go/contracts"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

var taskResponseArguments abi.Arguments

func init() {
	uint32Type, err := abi.NewType("uint32", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	taskResponseArguments = abi.Arguments{
		{Type: uint32Type},
		{Type: uint256Type},
	}
}

// EncodeTaskResponse matches Solidity's abi.encode(uint32 referenceTaskIndex, uint256 numberSquared).
func EncodeTaskResponse(taskIndex uint32, numberSquared *big.Int) ([]byte, error) {
	if numberSquared == nil || numberSquared.Sign() < 0 {
		return nil, fmt.Errorf("numberSquared must be a non-negative integer")
	}
	encoded, err := taskResponseArguments.Pack(taskIndex, numberSquared)
	if err != nil {
		return nil, fmt.Errorf("failed to ABI encode task response: %w", err)
	}
	return encoded, nil
}

// TaskResponseDigest is the message operators sign: keccak256 of the encoded task response.
func TaskResponseDigest(taskIndex uint32, numberSquared *big.Int) ([32]byte, error) {
	encoded, err := EncodeTaskResponse(taskIndex, numberSquared)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

func G1ToContract(p *bn254.G1Point) contracts.BN254G1Point {
	x, y := p.BigInts()
	return contracts.BN254G1Point{X: x, Y: y}
}

func G1sToContract(points []*bn254.G1Point) []contracts.BN254G1Point {
	out := make([]contracts.BN254G1Point, 0, len(points))
	for _, p := range points {
		out = append(out, G1ToContract(p))
	}
	return out
}

func G2ToContract(p *bn254.G2Point) contracts.BN254G2Point {
	x, y := p.BigInts()
	return contracts.BN254G2Point{X: x, Y: y}
}

func G1FromContract(p contracts.BN254G1Point) *bn254.G1Point {
	return bn254.NewG1Point(p.X, p.Y)
}

func TaskToContract(t *types.Task) contracts.IIncredibleSquaringTaskManagerTask {
	return contracts.IIncredibleSquaringTaskManagerTask{
		NumberToBeSquared:         t.NumberToBeSquared,
		TaskCreatedBlock:          t.TaskCreatedBlock,
		QuorumNumbers:             t.QuorumNumbers,
		QuorumThresholdPercentage: t.QuorumThresholdPercentage,
	}
}

func TaskFromContract(index uint32, t contracts.IIncredibleSquaringTaskManagerTask) *types.Task {
	return &types.Task{
		Index:                     index,
		NumberToBeSquared:         t.NumberToBeSquared,
		TaskCreatedBlock:          t.TaskCreatedBlock,
		QuorumNumbers:             t.QuorumNumbers,
		QuorumThresholdPercentage: t.QuorumThresholdPercentage,
	}
}

func TaskResponseToContract(r types.TaskResponse) contracts.IIncredibleSquaringTaskManagerTaskResponse {
	return contracts.IIncredibleSquaringTaskManagerTaskResponse{
		ReferenceTaskIndex: r.ReferenceTaskIndex,
		NumberSquared:      r.NumberSquared,
	}
}

func TaskResponseMetadataToContract(m types.TaskResponseMetadata) contracts.IIncredibleSquaringTaskManagerTaskResponseMetadata {
	return contracts.IIncredibleSquaringTaskManagerTaskResponseMetadata{
		TaskResponsedBlock: m.TaskRespondedBlock,
		HashOfNonSigners:   m.HashOfNonSigners,
	}
}

// NonSignerStakesAndSignature assembles the third respondToTask argument from an aggregate proof.
func NonSignerStakesAndSignature(proof *types.AggregateProof) (contracts.IBLSSignatureCheckerTypesNonSignerStakesAndSignature, error) {
	if proof.Indices == nil {
		return contracts.IBLSSignatureCheckerTypesNonSignerStakesAndSignature{}, fmt.Errorf("aggregate proof for task %d has no signature indices", proof.TaskResponse.ReferenceTaskIndex)
	}
	return contracts.IBLSSignatureCheckerTypesNonSignerStakesAndSignature{
		NonSignerQuorumBitmapIndices: nonNilUint32s(proof.Indices.NonSignerQuorumBitmapIndices),
		NonSignerPubkeys:             G1sToContract(proof.NonSignerPubkeysG1),
		QuorumApks:                   []contracts.BN254G1Point{G1ToContract(proof.QuorumApkG1)},
		ApkG2:                        G2ToContract(proof.SignersApkG2),
		Sigma:                        G1ToContract(proof.AggSignatureG1.G1Point),
		QuorumApkIndices:             nonNilUint32s(proof.Indices.QuorumApkIndices),
		TotalStakeIndices:            nonNilUint32s(proof.Indices.TotalStakeIndices),
		NonSignerStakeIndices:        nonNilNested(proof.Indices.NonSignerStakeIndices),
	}, nil
}

func nonNilUint32s(v []uint32) []uint32 {
	if v == nil {
		return []uint32{}
	}
	return v
}

func nonNilNested(v [][]uint32) [][]uint32 {
	if v == nil {
		return [][]uint32{}
	}
	return v
}
