package contracts

import "math/big"

// Go mirrors of the task manager's Solidity structs. Field names follow abi.ToCamelCase of the ABI
// component names so they can be packed and unpacked directly.

type IIncredibleSquaringTaskManagerTask struct {
	NumberToBeSquared         *big.Int
	TaskCreatedBlock          uint32
	QuorumNumbers             []byte
	QuorumThresholdPercentage uint32
}

type IIncredibleSquaringTaskManagerTaskResponse struct {
	ReferenceTaskIndex uint32
	NumberSquared      *big.Int
}

type IIncredibleSquaringTaskManagerTaskResponseMetadata struct {
	TaskResponsedBlock uint32
	HashOfNonSigners   [32]byte
}

type BN254G1Point struct {
	X *big.Int
	Y *big.Int
}

// BN254G2Point uses the EVM ordering X = [A1, A0], Y = [A1, A0].
type BN254G2Point struct {
	X [2]*big.Int
	Y [2]*big.Int
}

type IBLSSignatureCheckerTypesNonSignerStakesAndSignature struct {
	NonSignerQuorumBitmapIndices []uint32
	NonSignerPubkeys             []BN254G1Point
	QuorumApks                   []BN254G1Point
	ApkG2                        BN254G2Point
	Sigma                        BN254G1Point
	QuorumApkIndices             []uint32
	TotalStakeIndices            []uint32
	NonSignerStakeIndices        [][]uint32
}

type OperatorStateRetrieverCheckSignaturesIndices struct {
	NonSignerQuorumBitmapIndices []uint32
	QuorumApkIndices             []uint32
	TotalStakeIndices            []uint32
	NonSignerStakeIndices        [][]uint32
}

// RespondToTaskArgs is the decoded input of a respondToTask call.
type RespondToTaskArgs struct {
	Task                        IIncredibleSquaringTaskManagerTask
	TaskResponse                IIncredibleSquaringTaskManagerTaskResponse
	NonSignerStakesAndSignature IBLSSignatureCheckerTypesNonSignerStakesAndSignature
}

const (
	MethodCreateNewTask             = "createNewTask"
	MethodRespondToTask             = "respondToTask"
	MethodRaiseAndResolveChallenge  = "raiseAndResolveChallenge"
	MethodGetCheckSignaturesIndices = "getCheckSignaturesIndices"

	EventNewTaskCreated               = "NewTaskCreated"
	EventTaskResponded                = "TaskResponded"
	EventTaskChallengedSuccessfully   = "TaskChallengedSuccessfully"
	EventTaskChallengedUnsuccessfully = "TaskChallengedUnsuccessfully"
)
