package caller

import (
	"context"
	"fmt"
	"math/big"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/zellular-xyz/incredible-squaring-avs-go/contracts"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/transactionLogParser"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/transactionSigner"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/util"
	"go.uber.org/zap"
)

// EthClient is the subset of ethclient.Client the caller uses.
type EthClient interface {
	bind.ContractBackend
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethTypes.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type ContractCaller struct {
	ethclient              EthClient
	taskManager            *bind.BoundContract
	operatorStateRetriever *bind.BoundContract
	taskManagerAbi         *abi.ABI
	logParser              *transactionLogParser.TransactionLogParser
	contracts              *config.AvsContracts
	signer                 transactionSigner.TransactionSigner
	logger                 *zap.Logger
}

var _ contractCaller.IContractCaller = (*ContractCaller)(nil)

// NewContractCaller binds the task manager and operator state retriever. signer may be nil for a
// read-only caller.
func NewContractCaller(
	ethclient EthClient,
	avsContracts *config.AvsContracts,
	signer transactionSigner.TransactionSigner,
	logger *zap.Logger,
) (*ContractCaller, error) {
	logger.Sugar().Debugw("Creating contract caller",
		"taskManager", avsContracts.TaskManager,
		"operatorStateRetriever", avsContracts.OperatorStateRetriever,
	)

	taskManagerAbi, err := contracts.TaskManagerAbi()
	if err != nil {
		return nil, fmt.Errorf("failed to load task manager ABI: %w", err)
	}
	retrieverAbi, err := contracts.OperatorStateRetrieverAbi()
	if err != nil {
		return nil, fmt.Errorf("failed to load operator state retriever ABI: %w", err)
	}

	taskManager := bind.NewBoundContract(
		common.HexToAddress(avsContracts.TaskManager), *taskManagerAbi, ethclient, ethclient, ethclient,
	)
	retriever := bind.NewBoundContract(
		common.HexToAddress(avsContracts.OperatorStateRetriever), *retrieverAbi, ethclient, ethclient, ethclient,
	)

	return &ContractCaller{
		ethclient:              ethclient,
		taskManager:            taskManager,
		operatorStateRetriever: retriever,
		taskManagerAbi:         taskManagerAbi,
		logParser:              transactionLogParser.NewTransactionLogParser(taskManagerAbi, logger),
		contracts:              avsContracts,
		signer:                 signer,
		logger:                 logger,
	}, nil
}

func (cc *ContractCaller) LogParser() *transactionLogParser.TransactionLogParser {
	return cc.logParser
}

func (cc *ContractCaller) GetCheckSignaturesIndices(
	ctx context.Context,
	referenceBlock uint32,
	quorumNumbers []byte,
	nonSignerIds []types.OperatorId,
) (*types.CheckSignaturesIndices, error) {
	ids := make([][32]byte, len(nonSignerIds))
	for i, id := range nonSignerIds {
		ids[i] = id
	}

	var out []interface{}
	err := cc.operatorStateRetriever.Call(
		&bind.CallOpts{Context: ctx},
		&out,
		contracts.MethodGetCheckSignaturesIndices,
		common.HexToAddress(cc.contracts.RegistryCoordinator),
		referenceBlock,
		quorumNumbers,
		ids,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call %s at block %d", contracts.MethodGetCheckSignaturesIndices, referenceBlock)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s output length %d", contracts.MethodGetCheckSignaturesIndices, len(out))
	}

	indices := *abi.ConvertType(out[0], new(contracts.OperatorStateRetrieverCheckSignaturesIndices)).(*contracts.OperatorStateRetrieverCheckSignaturesIndices)
	return &types.CheckSignaturesIndices{
		NonSignerQuorumBitmapIndices: indices.NonSignerQuorumBitmapIndices,
		QuorumApkIndices:             indices.QuorumApkIndices,
		TotalStakeIndices:            indices.TotalStakeIndices,
		NonSignerStakeIndices:        indices.NonSignerStakeIndices,
	}, nil
}

func (cc *ContractCaller) GetTransactionInput(ctx context.Context, txHash common.Hash) ([]byte, error) {
	tx, _, err := cc.ethclient.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get transaction %s", txHash.String())
	}
	return tx.Data(), nil
}

func (cc *ContractCaller) BlockNumber(ctx context.Context) (uint64, error) {
	return cc.ethclient.BlockNumber(ctx)
}

func (cc *ContractCaller) FilterTaskEvents(ctx context.Context, fromBlock, toBlock uint64) ([]ethTypes.Log, error) {
	query := geth.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(cc.contracts.TaskManager)},
	}
	logs, err := cc.ethclient.FilterLogs(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to filter logs %d-%d", fromBlock, toBlock)
	}
	return logs, nil
}

// SubmitAggregate sends respondToTask for a finalized aggregate and waits for the receipt.
func (cc *ContractCaller) SubmitAggregate(ctx context.Context, proof *types.AggregateProof) (*ethTypes.Receipt, error) {
	if proof.Task == nil {
		return nil, fmt.Errorf("aggregate proof for task %d has no task", proof.TaskResponse.ReferenceTaskIndex)
	}
	nonSignerStakesAndSignature, err := util.NonSignerStakesAndSignature(proof)
	if err != nil {
		return nil, err
	}

	cc.logger.Sugar().Infow("Submitting aggregated response",
		"taskIndex", proof.TaskResponse.ReferenceTaskIndex,
		"numberSquared", proof.TaskResponse.NumberSquared.String(),
		"nonSigners", len(proof.NonSignerIds),
	)

	return cc.transact(ctx, contracts.MethodRespondToTask,
		util.TaskToContract(proof.Task),
		util.TaskResponseToContract(proof.TaskResponse),
		nonSignerStakesAndSignature,
	)
}

func (cc *ContractCaller) RaiseChallenge(ctx context.Context, params *contractCaller.RaiseChallengeParams) (*ethTypes.Receipt, error) {
	if params.Task == nil {
		return nil, fmt.Errorf("challenge for task %d has no task", params.TaskResponse.ReferenceTaskIndex)
	}
	cc.logger.Sugar().Infow("Raising challenge",
		"taskIndex", params.TaskResponse.ReferenceTaskIndex,
		"numberSquared", params.TaskResponse.NumberSquared.String(),
	)
	return cc.transact(ctx, contracts.MethodRaiseAndResolveChallenge,
		util.TaskToContract(params.Task),
		util.TaskResponseToContract(params.TaskResponse),
		util.TaskResponseMetadataToContract(params.TaskResponseMetadata),
		util.G1sToContract(params.NonSignerPubkeys),
	)
}

// CreateNewTask sends createNewTask and returns the task parsed from the NewTaskCreated log.
func (cc *ContractCaller) CreateNewTask(
	ctx context.Context,
	numberToBeSquared *big.Int,
	quorumThresholdPercentage uint32,
	quorumNumbers []byte,
) (*types.NewTaskCreatedEvent, error) {
	receipt, err := cc.transact(ctx, contracts.MethodCreateNewTask, numberToBeSquared, quorumThresholdPercentage, quorumNumbers)
	if err != nil {
		return nil, err
	}
	event, err := cc.logParser.ParseNewTaskCreatedFromReceipt(receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse NewTaskCreated: %w", err)
	}
	return event, nil
}

func (cc *ContractCaller) transact(ctx context.Context, method string, args ...interface{}) (*ethTypes.Receipt, error) {
	if cc.signer == nil {
		return nil, fmt.Errorf("contract caller has no signer, cannot send %s", method)
	}
	noSendTxOpts, err := cc.signer.GetTransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction options: %w", err)
	}

	tx, err := cc.taskManager.Transact(noSendTxOpts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transaction: %w", method, err)
	}

	receipt, err := cc.signer.SignAndSendTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s transaction: %w", method, err)
	}
	cc.logger.Sugar().Infow("Transaction mined",
		"method", method,
		"transactionHash", receipt.TxHash.Hex(),
	)
	return receipt, nil
}
