package transactionLogParser

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/zellular-xyz/incredible-squaring-avs-go/contracts"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/util"
	"go.uber.org/zap"
)

var (
	// ErrUnexpectedEvent is returned when a log decodes to a different event than requested
	ErrUnexpectedEvent = errors.New("unexpected event")

	// ErrEventNotInReceipt is returned when a receipt carries no log for the requested event
	ErrEventNotInReceipt = errors.New("event not found in receipt")

	// ErrUnknownMethod is returned when calldata does not start with a known method selector
	ErrUnknownMethod = errors.New("unknown method selector")
)

// TransactionLogParser decodes task manager logs and calldata using the contract ABI.
type TransactionLogParser struct {
	abi    *abi.ABI
	logger *zap.Logger
}

func NewTransactionLogParser(abi *abi.ABI, logger *zap.Logger) *TransactionLogParser {
	return &TransactionLogParser{
		abi:    abi,
		logger: logger,
	}
}

// DecodeLog extracts the event name, the indexed arguments from the topics and the non-indexed
// arguments from the data section of a log.
func (tlp *TransactionLogParser) DecodeLog(lg *ethTypes.Log) (*DecodedLog, error) {
	if tlp.abi == nil {
		return nil, errors.New("no ABI provided for decoding log")
	}
	if lg == nil {
		return nil, errors.New("log is nil")
	}
	tlp.logger.Sugar().Debugw("Decoding log",
		"txHash", lg.TxHash.String(),
		"address", lg.Address.String(),
	)

	decodedLog := &DecodedLog{
		Address:  lg.Address.String(),
		LogIndex: uint64(lg.Index),
	}

	// anonymous events have no signature topic
	topicHash := common.Hash{}
	if len(lg.Topics) > 0 {
		topicHash = lg.Topics[0]
	}

	event, err := tlp.abi.EventByID(topicHash)
	if err != nil {
		return decodedLog, errors.Wrapf(err, "failed to find event by ID '%s'", topicHash.String())
	}

	decodedLog.EventName = event.RawName
	decodedLog.Arguments = make([]Argument, len(event.Inputs))

	topicIdx := 1
	for i, input := range event.Inputs {
		decodedLog.Arguments[i] = Argument{
			Name:    input.Name,
			Type:    input.Type.String(),
			Indexed: input.Indexed,
		}
		if !input.Indexed {
			continue
		}
		if topicIdx >= len(lg.Topics) {
			return decodedLog, fmt.Errorf("log for %s is missing topic for indexed argument %s", event.Name, input.Name)
		}
		v, err := parseLogValueForType(input, lg.Topics[topicIdx].Bytes())
		if err != nil {
			tlp.logger.Sugar().Errorw("Failed to parse log value for type",
				"argument", input.Name,
				"error", err,
			)
		} else {
			decodedLog.Arguments[i].Value = v
		}
		topicIdx++
	}

	if len(lg.Data) > 0 {
		outputDataMap := make(map[string]interface{})
		if err := tlp.abi.UnpackIntoMap(outputDataMap, event.Name, lg.Data); err != nil {
			tlp.logger.Sugar().Errorw("Failed to unpack data",
				"error", err,
				"eventName", event.Name,
				"transactionHash", lg.TxHash.String(),
			)
			return nil, errors.Wrap(err, "failed to unpack data")
		}
		decodedLog.OutputData = outputDataMap
	}
	return decodedLog, nil
}

// EventName returns the name of the ABI event matching the log's signature topic.
func (tlp *TransactionLogParser) EventName(lg *ethTypes.Log) (string, error) {
	if lg == nil || len(lg.Topics) == 0 {
		return "", errors.New("log has no signature topic")
	}
	event, err := tlp.abi.EventByID(lg.Topics[0])
	if err != nil {
		return "", errors.Wrapf(ErrUnexpectedEvent, "topic %s", lg.Topics[0].String())
	}
	return event.Name, nil
}

func (tlp *TransactionLogParser) decodeEvent(lg *ethTypes.Log, eventName string) (*DecodedLog, error) {
	decoded, err := tlp.DecodeLog(lg)
	if err != nil {
		return nil, err
	}
	if decoded.EventName != eventName {
		return nil, errors.Wrapf(ErrUnexpectedEvent, "expected %s, got %s", eventName, decoded.EventName)
	}
	return decoded, nil
}

// ParseNewTaskCreated decodes a NewTaskCreated(uint32 indexed taskIndex, Task task) log.
func (tlp *TransactionLogParser) ParseNewTaskCreated(lg *ethTypes.Log) (*types.NewTaskCreatedEvent, error) {
	decoded, err := tlp.decodeEvent(lg, contracts.EventNewTaskCreated)
	if err != nil {
		return nil, err
	}

	indexArg, ok := decoded.FindArgument("taskIndex")
	if !ok {
		return nil, errors.New("NewTaskCreated log has no taskIndex")
	}
	taskIndex, ok := indexArg.Value.(uint32)
	if !ok {
		return nil, fmt.Errorf("unexpected taskIndex type %T", indexArg.Value)
	}

	task, err := convertOutput[contracts.IIncredibleSquaringTaskManagerTask](decoded.OutputData, "task")
	if err != nil {
		return nil, err
	}

	return &types.NewTaskCreatedEvent{
		Task:            util.TaskFromContract(taskIndex, *task),
		TransactionHash: lg.TxHash,
		BlockNumber:     lg.BlockNumber,
	}, nil
}

// ParseTaskResponded decodes a TaskResponded(TaskResponse, TaskResponseMetadata) log.
func (tlp *TransactionLogParser) ParseTaskResponded(lg *ethTypes.Log) (*types.TaskRespondedEvent, error) {
	decoded, err := tlp.decodeEvent(lg, contracts.EventTaskResponded)
	if err != nil {
		return nil, err
	}

	response, err := convertOutput[contracts.IIncredibleSquaringTaskManagerTaskResponse](decoded.OutputData, "taskResponse")
	if err != nil {
		return nil, err
	}
	metadata, err := convertOutput[contracts.IIncredibleSquaringTaskManagerTaskResponseMetadata](decoded.OutputData, "taskResponseMetadata")
	if err != nil {
		return nil, err
	}

	return &types.TaskRespondedEvent{
		TaskResponse: types.TaskResponse{
			ReferenceTaskIndex: response.ReferenceTaskIndex,
			NumberSquared:      response.NumberSquared,
		},
		TaskResponseMetadata: types.TaskResponseMetadata{
			TaskRespondedBlock: metadata.TaskResponsedBlock,
			HashOfNonSigners:   metadata.HashOfNonSigners,
		},
		TransactionHash: lg.TxHash,
		BlockNumber:     lg.BlockNumber,
	}, nil
}

// ParseNewTaskCreatedFromReceipt finds the NewTaskCreated log emitted by a createNewTask transaction.
func (tlp *TransactionLogParser) ParseNewTaskCreatedFromReceipt(receipt *ethTypes.Receipt) (*types.NewTaskCreatedEvent, error) {
	event, ok := tlp.abi.Events[contracts.EventNewTaskCreated]
	if !ok {
		return nil, errors.New("ABI has no NewTaskCreated event")
	}
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		return tlp.ParseNewTaskCreated(lg)
	}
	return nil, errors.Wrapf(ErrEventNotInReceipt, "tx %s", receipt.TxHash.String())
}

// DecodeRespondToTaskCalldata selects the method by its 4 byte selector and decodes a respondToTask call.
func (tlp *TransactionLogParser) DecodeRespondToTaskCalldata(input []byte) (*contracts.RespondToTaskArgs, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(input))
	}
	method, err := tlp.abi.MethodById(input[:4])
	if err != nil {
		return nil, errors.Wrapf(ErrUnknownMethod, "selector %x", input[:4])
	}
	if method.Name != contracts.MethodRespondToTask {
		return nil, errors.Wrapf(ErrUnknownMethod, "expected %s, got %s", contracts.MethodRespondToTask, method.Name)
	}

	values := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(values, input[4:]); err != nil {
		return nil, errors.Wrap(err, "failed to unpack respondToTask calldata")
	}

	task, err := convertOutput[contracts.IIncredibleSquaringTaskManagerTask](values, "task")
	if err != nil {
		return nil, err
	}
	response, err := convertOutput[contracts.IIncredibleSquaringTaskManagerTaskResponse](values, "taskResponse")
	if err != nil {
		return nil, err
	}
	nss, err := convertOutput[contracts.IBLSSignatureCheckerTypesNonSignerStakesAndSignature](values, "nonSignerStakesAndSignature")
	if err != nil {
		return nil, err
	}

	return &contracts.RespondToTaskArgs{
		Task:                        *task,
		TaskResponse:                *response,
		NonSignerStakesAndSignature: *nss,
	}, nil
}

// convertOutput turns the anonymous struct go-ethereum produces for a tuple into its binding type.
func convertOutput[T any](values map[string]interface{}, name string) (t *T, err error) {
	v, ok := values[name]
	if !ok {
		return nil, fmt.Errorf("decoded data has no field %s", name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to convert %s: %v", name, r)
		}
	}()
	converted, ok := abi.ConvertType(v, new(T)).(*T)
	if !ok {
		return nil, fmt.Errorf("failed to convert %s to %T", name, t)
	}
	return converted, nil
}

// parseLogValueForType converts a 32 byte topic to a Go value based on the ABI argument type.
func parseLogValueForType(argument abi.Argument, valueBytes []byte) (interface{}, error) {
	switch argument.Type.T {
	case abi.IntTy, abi.UintTy:
		return abi.ReadInteger(argument.Type, valueBytes)
	case abi.BoolTy:
		return readBool(valueBytes)
	case abi.AddressTy:
		return common.BytesToAddress(valueBytes), nil
	default:
		// strings, bytes and tuples are hashed into the topic
		return common.BytesToHash(valueBytes), nil
	}
}

var (
	errBadBool = fmt.Errorf("abi: improperly encoded boolean value")
)

// readBool converts a 32-byte word to a boolean value.
func readBool(word []byte) (bool, error) {
	if len(word) != 32 {
		return false, errBadBool
	}
	for _, b := range word[:31] {
		if b != 0 {
			return false, errBadBool
		}
	}
	switch word[31] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errBadBool
	}
}
