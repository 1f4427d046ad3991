package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/metrics"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/operatorRegistry"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/taskRegistry"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/transactionSigner"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/util"
	"go.uber.org/zap"
)

const (
	DefaultSubmissionTimeout       = 2 * time.Minute
	DefaultSubmissionRetryInterval = time.Second
)

type EngineConfig struct {
	// ThresholdPercent applies to tasks that carry no quorum threshold of their own
	ThresholdPercent uint32
	FinalizePolicy   FinalizePolicy

	// SubmissionTimeout bounds the indices fetch and respondToTask once a quorum is reached. It is
	// independent of the caller's context.
	SubmissionTimeout time.Duration

	// SubmissionRetries is how often respondToTask is resent after a failure that happened before the
	// transaction was broadcast.
	SubmissionRetries       int
	SubmissionRetryInterval time.Duration
}

func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		ThresholdPercent:        config.ThresholdPercent,
		FinalizePolicy:          FinalizeBeforeSubmit,
		SubmissionTimeout:       DefaultSubmissionTimeout,
		SubmissionRetryInterval: DefaultSubmissionRetryInterval,
	}
}

// taskAggregation is the per-task state. mu guards every field.
type taskAggregation struct {
	mu        sync.Mutex
	finalized bool
	responses map[types.OperatorId]*types.SignedResponse
}

// Engine collects signed responses per task and submits an aggregate once the stake of operators
// agreeing on one answer crosses the task's threshold.
type Engine struct {
	config   *EngineConfig
	tasks    taskRegistry.TaskStore
	registry operatorRegistry.RegistrySnapshot
	verifier PairingVerifier
	reader   contractCaller.ChainReader
	writer   contractCaller.ChainWriter
	metrics  *metrics.AggregatorMetrics
	logger   *zap.Logger

	mu    sync.Mutex
	state map[uint32]*taskAggregation
}

func NewEngine(
	cfg *EngineConfig,
	tasks taskRegistry.TaskStore,
	registry operatorRegistry.RegistrySnapshot,
	verifier PairingVerifier,
	reader contractCaller.ChainReader,
	writer contractCaller.ChainWriter,
	m *metrics.AggregatorMetrics,
	logger *zap.Logger,
) *Engine {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	if !cfg.FinalizePolicy.Valid() {
		cfg.FinalizePolicy = FinalizeBeforeSubmit
	}
	if cfg.ThresholdPercent == 0 {
		cfg.ThresholdPercent = config.ThresholdPercent
	}
	if cfg.SubmissionTimeout <= 0 {
		cfg.SubmissionTimeout = DefaultSubmissionTimeout
	}
	if cfg.SubmissionRetryInterval <= 0 {
		cfg.SubmissionRetryInterval = DefaultSubmissionRetryInterval
	}
	return &Engine{
		config:   cfg,
		tasks:    tasks,
		registry: registry,
		verifier: verifier,
		reader:   reader,
		writer:   writer,
		metrics:  m,
		logger:   logger,
		state:    make(map[uint32]*taskAggregation),
	}
}

func (e *Engine) taskState(taskIndex uint32) *taskAggregation {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.state[taskIndex]
	if !ok {
		st = &taskAggregation{responses: make(map[types.OperatorId]*types.SignedResponse)}
		e.state[taskIndex] = st
		e.metrics.SetOpenTasks(len(e.state))
	}
	return st
}

// Forget drops the aggregation state of a retired task.
func (e *Engine) Forget(taskIndex uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.state, taskIndex)
	e.metrics.SetOpenTasks(len(e.state))
}

func (e *Engine) thresholdFor(task *types.Task) uint32 {
	if task.QuorumThresholdPercentage > 0 {
		return task.QuorumThresholdPercentage
	}
	return e.config.ThresholdPercent
}

// Submit validates and records one operator's signed response. It returns OutcomeAccepted while the
// quorum is not met and OutcomeThresholdReached, with the submitted proof, for the response that
// crosses it. Rejections are returned as *Error.
func (e *Engine) Submit(ctx context.Context, res *types.SignedResponse) (*Outcome, error) {
	outcome, err := e.submit(ctx, res)

	label := "error"
	if err == nil {
		label = outcome.Kind.String()
	} else {
		var aggErr *Error
		if errors.As(err, &aggErr) {
			label = aggErr.Kind.String()
		}
	}
	e.metrics.ObserveSignature(label)
	return outcome, err
}

func (e *Engine) submit(ctx context.Context, res *types.SignedResponse) (*Outcome, error) {
	if res == nil || res.NumberSquared == nil || res.Signature == nil {
		return nil, newError(types.ErrorKindMalformedRequest, 0, fmt.Errorf("incomplete signed response"))
	}

	task, err := e.tasks.Get(ctx, res.TaskIndex)
	if err != nil {
		if errors.Is(err, taskRegistry.ErrNotFound) {
			return nil, newError(types.ErrorKindTaskNotFound, res.TaskIndex, nil)
		}
		return nil, newError(types.ErrorKindUnknown, res.TaskIndex, err)
	}

	st := e.taskState(res.TaskIndex)
	if st.isFinalized() {
		return nil, newError(types.ErrorKindAlreadyFinalized, res.TaskIndex, nil)
	}

	// external data is fetched before the task lock is taken
	operators, err := e.registry.GetOperatorSet(ctx, res.BlockNumber)
	if err != nil {
		return nil, newError(types.ErrorKindExternalDataUnavailable, res.TaskIndex, err)
	}
	operator, ok := operators.Get(res.OperatorId)
	if !ok {
		return nil, newError(types.ErrorKindOperatorNotRegistered, res.TaskIndex, fmt.Errorf("operator %s", res.OperatorId))
	}

	digest, err := util.TaskResponseDigest(res.TaskIndex, res.NumberSquared)
	if err != nil {
		return nil, newError(types.ErrorKindMalformedRequest, res.TaskIndex, err)
	}
	valid, err := e.verifier.VerifySignature(res.Signature, operator.PubkeyG2, digest)
	if err != nil || !valid {
		return nil, newError(types.ErrorKindSignatureInvalid, res.TaskIndex, err)
	}

	proof, outcome, err := e.record(st, task, res, operators)
	if err != nil || proof == nil {
		return outcome, err
	}

	e.metrics.ObserveQuorumReached()
	e.logger.Sugar().Infow("Quorum reached",
		"taskIndex", task.Index,
		"numberSquared", proof.TaskResponse.NumberSquared.String(),
		"signedStake", proof.SignedStake.String(),
		"totalStake", proof.TotalStake.String(),
		"signers", len(proof.SignerIds),
		"nonSigners", len(proof.NonSignerIds),
	)

	// the task is finalized; a cancelled request must not abandon the aggregate
	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.SubmissionTimeout)
	defer cancel()

	indices, err := e.reader.GetCheckSignaturesIndices(subCtx, proof.ReferenceBlock, task.QuorumNumbers, proof.NonSignerIds)
	if err != nil {
		e.onFinalizeFailure(st, task.Index, err)
		return nil, newError(types.ErrorKindExternalDataUnavailable, task.Index, err)
	}
	proof.Indices = indices

	receipt, err := e.submitAggregate(subCtx, proof)
	e.metrics.ObserveSubmission(err)
	if err != nil {
		e.onFinalizeFailure(st, task.Index, err)
		return nil, newError(types.ErrorKindSubmissionFailed, task.Index, err)
	}

	e.logger.Sugar().Infow("Aggregated response submitted",
		"taskIndex", task.Index,
		"txHash", receipt.TxHash.Hex(),
	)
	outcome.Proof = proof
	outcome.Receipt = receipt
	return outcome, nil
}

// submitAggregate sends respondToTask, retrying only failures that happened before the transaction
// was broadcast. A reverted or unconfirmed transaction is never resent.
func (e *Engine) submitAggregate(ctx context.Context, proof *types.AggregateProof) (*ethTypes.Receipt, error) {
	var receipt *ethTypes.Receipt
	attempt := 0
	operation := func() error {
		attempt++
		r, err := e.writer.SubmitAggregate(ctx, proof)
		if err == nil {
			receipt = r
			return nil
		}
		if errors.Is(err, transactionSigner.ErrTransactionFailed) || errors.Is(err, transactionSigner.ErrTransactionNotMined) {
			return backoff.Permanent(err)
		}
		e.logger.Sugar().Warnw("Failed to send aggregated response",
			"taskIndex", proof.TaskResponse.ReferenceTaskIndex,
			"attempt", attempt,
			"error", err,
		)
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.config.SubmissionRetryInterval), uint64(e.config.SubmissionRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return receipt, nil
}

// record performs the locked state transition. It returns a proof only for the response that
// finalizes the task.
func (e *Engine) record(
	st *taskAggregation,
	task *types.Task,
	res *types.SignedResponse,
	operators *types.OperatorSet,
) (*types.AggregateProof, *Outcome, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.finalized {
		return nil, nil, newError(types.ErrorKindAlreadyFinalized, task.Index, nil)
	}
	if _, exists := st.responses[res.OperatorId]; exists {
		return nil, nil, newError(types.ErrorKindDuplicateSubmission, task.Index, fmt.Errorf("operator %s", res.OperatorId))
	}
	st.responses[res.OperatorId] = res

	group := groupForAnswer(st.responses, operators, res.NumberSquared)
	totalStake := operators.TotalStake()
	threshold := e.thresholdFor(task)

	e.logger.Sugar().Debugw("Signature processed",
		"taskIndex", task.Index,
		"operatorId", res.OperatorId.Hex(),
		"signedStake", group.stake.String(),
		"totalStake", totalStake.String(),
		"threshold", threshold,
	)

	outcome := &Outcome{
		Kind:        OutcomeAccepted,
		SignedStake: group.stake,
		TotalStake:  totalStake,
	}
	if !thresholdMet(group.stake, totalStake, threshold) {
		return nil, outcome, nil
	}

	st.finalized = true
	outcome.Kind = OutcomeThresholdReached
	// respondToTask checks signatures at the task's creation block, so indices are read there
	return buildAggregateProof(task, group, st.responses, operators, task.TaskCreatedBlock), outcome, nil
}

func (st *taskAggregation) isFinalized() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.finalized
}

func (e *Engine) onFinalizeFailure(st *taskAggregation, taskIndex uint32, cause error) {
	e.logger.Sugar().Errorw("Failed to complete aggregation",
		"taskIndex", taskIndex,
		"policy", e.config.FinalizePolicy,
		"error", cause,
	)
	if e.config.FinalizePolicy != ReopenOnFailure {
		return
	}
	// a broadcast transaction may still be mined
	if errors.Is(cause, transactionSigner.ErrTransactionNotMined) {
		return
	}
	st.mu.Lock()
	st.finalized = false
	st.mu.Unlock()
}
