package challenger

import (
	"context"
	"fmt"
	"sync"

	"github.com/zellular-xyz/incredible-squaring-avs-go/contracts"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/metrics"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/util"
	"go.uber.org/zap"
)

// CalldataDecoder decodes respondToTask transaction input.
type CalldataDecoder interface {
	DecodeRespondToTaskCalldata(input []byte) (*contracts.RespondToTaskArgs, error)
}

// Challenger watches task creation and responses and disputes wrong answers on chain.
type Challenger struct {
	config  *ChallengerConfig
	reader  contractCaller.ChainReader
	writer  contractCaller.ChainWriter
	decoder CalldataDecoder
	metrics *metrics.ChallengerMetrics
	logger  *zap.Logger

	mu        sync.Mutex
	records   map[uint32]*ChallengeRecord
	lastBlock uint64
}

func NewChallenger(
	cfg *ChallengerConfig,
	reader contractCaller.ChainReader,
	writer contractCaller.ChainWriter,
	decoder CalldataDecoder,
	m *metrics.ChallengerMetrics,
	logger *zap.Logger,
) *Challenger {
	if cfg == nil {
		cfg = DefaultChallengerConfig()
	}
	return &Challenger{
		config:  cfg,
		reader:  reader,
		writer:  writer,
		decoder: decoder,
		metrics: m,
		logger:  logger,
		records: make(map[uint32]*ChallengeRecord),
	}
}

func (c *Challenger) record(taskIndex uint32) *ChallengeRecord {
	r, ok := c.records[taskIndex]
	if !ok {
		r = &ChallengeRecord{TaskIndex: taskIndex, State: StateUnknown}
		c.records[taskIndex] = r
	}
	return r
}

// Record returns a copy of the record for taskIndex.
func (c *Challenger) Record(taskIndex uint32) (*ChallengeRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[taskIndex]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

func (c *Challenger) State(taskIndex uint32) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.records[taskIndex]; ok {
		return r.State
	}
	return StateUnknown
}

// OnTaskCreated records a task and evaluates it if its response arrived first.
func (c *Challenger) OnTaskCreated(ctx context.Context, task *types.Task) (Verdict, error) {
	c.metrics.ObserveEvent(contracts.EventNewTaskCreated)

	c.mu.Lock()
	r := c.record(task.Index)
	if r.Task != nil {
		c.mu.Unlock()
		c.logger.Sugar().Debugw("Ignoring duplicate NewTaskCreated", "taskIndex", task.Index)
		return c.Evaluate(ctx, task.Index)
	}
	t := *task
	r.Task = &t
	if r.State == StateUnknown {
		r.State = StateAwaitingResponse
	}
	c.mu.Unlock()

	c.logger.Sugar().Debugw("Processed new task",
		"taskIndex", task.Index,
		"numberToBeSquared", task.NumberToBeSquared.String(),
		"taskCreatedBlock", task.TaskCreatedBlock,
	)
	return c.Evaluate(ctx, task.Index)
}

// OnTaskResponded reads the responding transaction to recover the non-signer keys, records the response
// and evaluates it. Read or decode failures leave the record untouched.
func (c *Challenger) OnTaskResponded(ctx context.Context, event *types.TaskRespondedEvent) (Verdict, error) {
	c.metrics.ObserveEvent(contracts.EventTaskResponded)
	taskIndex := event.TaskResponse.ReferenceTaskIndex

	c.mu.Lock()
	if r, ok := c.records[taskIndex]; ok && r.TaskResponse != nil {
		c.mu.Unlock()
		c.logger.Sugar().Debugw("Ignoring duplicate TaskResponded", "taskIndex", taskIndex)
		return c.Evaluate(ctx, taskIndex)
	}
	c.mu.Unlock()

	nonSigners, err := c.nonSignerPubkeys(ctx, event)
	if err != nil {
		c.logger.Sugar().Errorw("Failed to process task response",
			"taskIndex", taskIndex,
			"transactionHash", event.TransactionHash.String(),
			"error", err,
		)
		return VerdictPending, err
	}

	c.mu.Lock()
	r := c.record(taskIndex)
	if r.TaskResponse == nil {
		response := event.TaskResponse
		r.TaskResponse = &response
		r.TaskResponseMetadata = event.TaskResponseMetadata
		r.NonSignerPubkeys = nonSigners
		r.ResponseTxHash = event.TransactionHash
		if !r.State.Terminal() {
			r.State = StateHasResponse
		}
	}
	c.mu.Unlock()

	c.logger.Sugar().Debugw("Processed task response",
		"taskIndex", taskIndex,
		"numberSquared", event.TaskResponse.NumberSquared.String(),
		"nonSigners", len(nonSigners),
	)
	return c.Evaluate(ctx, taskIndex)
}

func (c *Challenger) nonSignerPubkeys(ctx context.Context, event *types.TaskRespondedEvent) ([]*bn254.G1Point, error) {
	taskIndex := event.TaskResponse.ReferenceTaskIndex
	input, err := c.reader.GetTransactionInput(ctx, event.TransactionHash)
	if err != nil {
		return nil, newError(types.ErrorKindExternalDataUnavailable, taskIndex, err)
	}
	args, err := c.decoder.DecodeRespondToTaskCalldata(input)
	if err != nil {
		return nil, newError(types.ErrorKindCalldataDecodeFailed, taskIndex, err)
	}
	if args.TaskResponse.ReferenceTaskIndex != taskIndex {
		return nil, newError(types.ErrorKindCalldataDecodeFailed, taskIndex,
			fmt.Errorf("calldata responds to task %d", args.TaskResponse.ReferenceTaskIndex))
	}

	keys := make([]*bn254.G1Point, 0, len(args.NonSignerStakesAndSignature.NonSignerPubkeys))
	for _, pk := range args.NonSignerStakesAndSignature.NonSignerPubkeys {
		keys = append(keys, util.G1FromContract(pk))
	}
	return keys, nil
}

// Evaluate compares the recorded answer with input^2. A wrong answer raises exactly one challenge; a
// terminal task is never evaluated again.
func (c *Challenger) Evaluate(ctx context.Context, taskIndex uint32) (Verdict, error) {
	c.mu.Lock()
	r, ok := c.records[taskIndex]
	if !ok || r.Task == nil || r.TaskResponse == nil {
		c.mu.Unlock()
		return VerdictPending, nil
	}
	if r.State.Terminal() {
		c.mu.Unlock()
		return VerdictAlreadyResolved, nil
	}

	expected := r.Task.ExpectedAnswer()
	if expected.Cmp(r.TaskResponse.NumberSquared) == 0 {
		r.State = StateClean
		c.mu.Unlock()

		c.metrics.ObserveVerdict(VerdictClean.String())
		c.logger.Sugar().Debugw("Task response is valid", "taskIndex", taskIndex)
		return VerdictClean, nil
	}

	r.State = StateDisputed
	params := &contractCaller.RaiseChallengeParams{
		Task:                 r.Task,
		TaskResponse:         *r.TaskResponse,
		TaskResponseMetadata: r.TaskResponseMetadata,
		NonSignerPubkeys:     r.NonSignerPubkeys,
	}
	c.mu.Unlock()

	c.metrics.ObserveVerdict(VerdictDisputed.String())
	c.logger.Sugar().Infow("The number squared is not correct, raising challenge",
		"taskIndex", taskIndex,
		"expectedAnswer", expected.String(),
		"gotAnswer", params.TaskResponse.NumberSquared.String(),
	)

	receipt, err := c.writer.RaiseChallenge(ctx, params)
	c.metrics.ObserveChallenge(err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		r.ChallengeErr = err
		c.logger.Sugar().Errorw("Failed to raise challenge", "taskIndex", taskIndex, "error", err)
		return VerdictDisputed, newError(types.ErrorKindSubmissionFailed, taskIndex, err)
	}
	r.ChallengeTxHash = receipt.TxHash
	c.logger.Sugar().Infow("Challenge raised",
		"taskIndex", taskIndex,
		"challengeTxHash", receipt.TxHash.String(),
	)
	return VerdictDisputed, nil
}

// Prune drops records that can no longer be challenged at block: the later of the task's creation
// block and its response block is more than the challenge window behind. Tasks that never got a
// response and responses whose task was never seen are dropped the same way.
func (c *Challenger) Prune(block uint64) int {
	window := uint64(c.config.ChallengeWindowBlocks)
	if window == 0 {
		window = uint64(config.TaskChallengeWindowBlock)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for idx, r := range c.records {
		anchor, ok := r.lastSeenBlock()
		if !ok {
			continue
		}
		if anchor+window < block {
			delete(c.records, idx)
			removed++
		}
	}
	c.metrics.SetTrackedTasks(len(c.records))
	return removed
}
