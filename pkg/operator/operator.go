package operator

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/clients/aggregatorClient"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/util"
	"go.uber.org/zap"
)

// WrongAnswer is the result a failing operator reports instead of the square.
var WrongAnswer = big.NewInt(908243203843)

type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

type ResponseSender interface {
	SendSignedTaskResponse(ctx context.Context, payload *aggregatorClient.SignedTaskResponse) (*aggregatorClient.SignatureResult, error)
}

type OperatorConfig struct {
	// TimesFailing is the percentage of tasks answered with WrongAnswer
	TimesFailing int
	// SubmitDelay gives the aggregator time to register the task before the response arrives
	SubmitDelay time.Duration
	// FromBlock is where the first subscription starts, 0 for the chain head
	FromBlock                  uint64
	ResubscribeInitialInterval time.Duration
	ResubscribeMaxInterval     time.Duration
}

func DefaultOperatorConfig() *OperatorConfig {
	return &OperatorConfig{
		SubmitDelay:                3 * time.Second,
		ResubscribeInitialInterval: 5 * time.Second,
		ResubscribeMaxInterval:     time.Minute,
	}
}

// Operator answers NewTaskCreated events with a BLS signed square.
type Operator struct {
	config     *OperatorConfig
	keyPair    *bn254.KeyPair
	operatorId types.OperatorId
	chain      BlockNumberReader
	sender     ResponseSender
	logger     *zap.Logger

	// intn picks a value in [0, n) for the failure simulation
	intn func(n int) int

	mu            sync.Mutex
	lastBlock     uint64
	lastTaskIndex uint32
	handledAny    bool
	inFlight      sync.WaitGroup
}

func NewOperator(
	cfg *OperatorConfig,
	keyPair *bn254.KeyPair,
	chain BlockNumberReader,
	sender ResponseSender,
	logger *zap.Logger,
) *Operator {
	return &Operator{
		config:     cfg,
		keyPair:    keyPair,
		operatorId: types.OperatorIdFromG1(keyPair.PubkeyG1),
		chain:      chain,
		sender:     sender,
		logger:     logger,
		intn:       rand.IntN,
	}
}

// LoadBlsKeyPair reads the operator key from a keystore file when storePath is set, otherwise from privateKey.
func LoadBlsKeyPair(privateKey, storePath, password string) (*bn254.KeyPair, error) {
	if storePath != "" {
		kp, err := bn254.LoadFromKeystore(storePath, password)
		if err != nil {
			return nil, fmt.Errorf("failed to load BLS keystore %s: %w", storePath, err)
		}
		return kp, nil
	}
	if privateKey == "" {
		return nil, fmt.Errorf("no BLS private key configured")
	}
	pk, err := bn254.NewPrivateKeyFromString(privateKey)
	if err != nil {
		return nil, err
	}
	return bn254.NewKeyPair(pk), nil
}

func (o *Operator) OperatorId() types.OperatorId {
	return o.operatorId
}

// ProcessTask computes the response to task, substituting WrongAnswer TimesFailing percent of the time.
func (o *Operator) ProcessTask(task *types.Task) types.TaskResponse {
	o.logger.Sugar().Debugw("Processing new task",
		"taskIndex", task.Index,
		"numberToBeSquared", task.NumberToBeSquared.String(),
		"taskCreatedBlock", task.TaskCreatedBlock,
		"quorumNumbers", task.QuorumNumbers,
		"quorumThresholdPercentage", task.QuorumThresholdPercentage,
	)

	answer := task.ExpectedAnswer()
	if o.config.TimesFailing > 0 && o.intn(100) < o.config.TimesFailing {
		answer = new(big.Int).Set(WrongAnswer)
		o.logger.Sugar().Infow("Operator computed wrong task result", "taskIndex", task.Index)
	}
	return types.TaskResponse{
		ReferenceTaskIndex: task.Index,
		NumberSquared:      answer,
	}
}

// SignTaskResponse signs the response digest and stamps it with the current block number.
func (o *Operator) SignTaskResponse(ctx context.Context, response types.TaskResponse) (*types.SignedResponse, error) {
	digest, err := util.TaskResponseDigest(response.ReferenceTaskIndex, response.NumberSquared)
	if err != nil {
		return nil, fmt.Errorf("failed to hash task response: %w", err)
	}
	block, err := o.chain.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read block number: %w", err)
	}
	if block > math.MaxUint32 {
		return nil, fmt.Errorf("block number %d out of range", block)
	}

	o.logger.Sugar().Debugw("Signature generated",
		"taskIndex", response.ReferenceTaskIndex,
		"numberSquared", response.NumberSquared.String(),
	)
	return &types.SignedResponse{
		TaskIndex:     response.ReferenceTaskIndex,
		OperatorId:    o.operatorId,
		NumberSquared: response.NumberSquared,
		Signature:     o.keyPair.SignMessage(digest),
		BlockNumber:   uint32(block),
	}, nil
}

// HandleTask computes, signs and submits the response to one task.
func (o *Operator) HandleTask(ctx context.Context, task *types.Task) error {
	signed, err := o.SignTaskResponse(ctx, o.ProcessTask(task))
	if err != nil {
		return err
	}

	if o.config.SubmitDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.config.SubmitDelay):
		}
	}

	o.logger.Sugar().Infow("Submitting task response to aggregator", "taskIndex", task.Index)
	if _, err := o.sender.SendSignedTaskResponse(ctx, aggregatorClient.NewSignedTaskResponse(signed)); err != nil {
		return fmt.Errorf("failed to send task response for task %d: %w", task.Index, err)
	}
	return nil
}

// claim marks a task as handled. Task indices only increase, so replayed events are skipped.
func (o *Operator) claim(event *chainPoller.TaskEvent) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if event.BlockNumber > o.lastBlock {
		o.lastBlock = event.BlockNumber
	}
	idx := event.TaskCreated.Task.Index
	if o.handledAny && idx <= o.lastTaskIndex {
		return false
	}
	o.handledAny = true
	o.lastTaskIndex = idx
	return true
}

func (o *Operator) resumeBlock() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastBlock > 0 {
		return o.lastBlock
	}
	return o.config.FromBlock
}

func (o *Operator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if o.config.ResubscribeInitialInterval > 0 {
		b.InitialInterval = o.config.ResubscribeInitialInterval
	}
	if o.config.ResubscribeMaxInterval > 0 {
		b.MaxInterval = o.config.ResubscribeMaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Start listens for new tasks until ctx is cancelled. Each task is handled on its own goroutine.
func (o *Operator) Start(ctx context.Context, poller chainPoller.IChainPoller) error {
	o.logger.Sugar().Infow("Starting operator", "operatorId", o.operatorId.Hex())
	defer o.inFlight.Wait()

	b := o.newBackOff()
	for {
		sub, err := poller.Subscribe(ctx, o.resumeBlock())
		if err != nil {
			o.logger.Sugar().Errorw("Failed to subscribe to new tasks", "error", err)
		} else {
			err = o.consume(ctx, sub, b)
			sub.Unsubscribe()
			if ctx.Err() == nil {
				o.logger.Sugar().Errorw("Error in event processing loop", "error", err)
			}
		}
		if ctx.Err() != nil {
			o.logger.Sugar().Infow("Operator stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			o.logger.Sugar().Infow("Operator stopped")
			return nil
		case <-time.After(b.NextBackOff()):
		}
	}
}

func (o *Operator) consume(ctx context.Context, sub chainPoller.Subscription, b backoff.BackOff) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case event, ok := <-sub.Events():
			if !ok {
				select {
				case err := <-sub.Err():
					return err
				default:
					return nil
				}
			}
			b.Reset()
			if event.Kind != chainPoller.EventKindTaskCreated || !o.claim(event) {
				continue
			}
			task := event.TaskCreated.Task
			o.logger.Sugar().Debugw("New task created", "taskIndex", task.Index, "blockNumber", event.BlockNumber)
			o.inFlight.Add(1)
			go func() {
				defer o.inFlight.Done()
				if err := o.HandleTask(ctx, task); err != nil {
					o.logger.Sugar().Errorw("Unexpected error handling task", "taskIndex", task.Index, "error", err)
				}
			}()
		}
	}
}
