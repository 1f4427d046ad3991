package taskSender

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/metrics"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/taskRegistry"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"go.uber.org/zap"
)

const DefaultIntervalSeconds = 10

type TaskSenderConfig struct {
	IntervalSeconds       int
	ThresholdPercent      uint32
	QuorumNumbers         []byte
	ChallengeWindowBlocks uint32
	// FirstNumber is the value squared by the first task; each task increments it by one
	FirstNumber int64
}

func DefaultTaskSenderConfig() *TaskSenderConfig {
	return &TaskSenderConfig{
		IntervalSeconds:       DefaultIntervalSeconds,
		ThresholdPercent:      config.ThresholdPercent,
		QuorumNumbers:         []byte{config.DefaultQuorumNumber},
		ChallengeWindowBlocks: config.TaskChallengeWindowBlock,
	}
}

// TaskForgetter releases aggregation state held for a retired task.
type TaskForgetter interface {
	Forget(taskIndex uint32)
}

// TaskSender periodically creates a new task on chain and registers it for aggregation.
type TaskSender struct {
	config    *TaskSenderConfig
	writer    contractCaller.ChainWriter
	reader    contractCaller.ChainReader
	tasks     taskRegistry.TaskStore
	forgetter TaskForgetter
	metrics   *metrics.AggregatorMetrics
	logger    *zap.Logger

	mu   sync.Mutex
	next *big.Int
}

// NewTaskSender builds a sender. forgetter and m may be nil.
func NewTaskSender(
	cfg *TaskSenderConfig,
	writer contractCaller.ChainWriter,
	reader contractCaller.ChainReader,
	tasks taskRegistry.TaskStore,
	forgetter TaskForgetter,
	m *metrics.AggregatorMetrics,
	logger *zap.Logger,
) *TaskSender {
	if cfg == nil {
		cfg = DefaultTaskSenderConfig()
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = DefaultIntervalSeconds
	}
	if cfg.ThresholdPercent == 0 {
		cfg.ThresholdPercent = config.ThresholdPercent
	}
	if len(cfg.QuorumNumbers) == 0 {
		cfg.QuorumNumbers = []byte{config.DefaultQuorumNumber}
	}
	return &TaskSender{
		config:    cfg,
		writer:    writer,
		reader:    reader,
		tasks:     tasks,
		forgetter: forgetter,
		metrics:   m,
		logger:    logger,
		next:      big.NewInt(cfg.FirstNumber),
	}
}

// SendTask creates the next task on chain and registers it. The counter only advances on success.
func (ts *TaskSender) SendTask(ctx context.Context) (*types.Task, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	number := new(big.Int).Set(ts.next)
	ts.logger.Sugar().Debugw("Sending new task", "numberToSquare", number.String())

	event, err := ts.writer.CreateNewTask(ctx, number, ts.config.ThresholdPercent, ts.config.QuorumNumbers)
	ts.metrics.ObserveTaskCreated(err)
	if err != nil {
		return nil, fmt.Errorf("failed to create task for %s: %w", number.String(), err)
	}
	if err := ts.tasks.Register(ctx, event.Task); err != nil {
		return nil, fmt.Errorf("failed to register task %d: %w", event.Task.Index, err)
	}
	ts.next.Add(ts.next, big.NewInt(1))

	ts.logger.Sugar().Infow("Created new task",
		"taskIndex", event.Task.Index,
		"numberToSquare", number.String(),
		"taskCreatedBlock", event.Task.TaskCreatedBlock,
		"transactionHash", event.TransactionHash.String(),
	)
	return event.Task, nil
}

// Prune retires tasks whose challenge window has closed at the current block.
func (ts *TaskSender) Prune(ctx context.Context) ([]uint32, error) {
	if ts.config.ChallengeWindowBlocks == 0 {
		return nil, nil
	}
	block, err := ts.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read block number: %w", err)
	}
	if block > uint64(^uint32(0)) {
		return nil, fmt.Errorf("block number %d exceeds uint32", block)
	}
	retired, err := ts.tasks.PruneBefore(ctx, uint32(block), ts.config.ChallengeWindowBlocks)
	if err != nil {
		return nil, err
	}
	if ts.forgetter != nil {
		for _, idx := range retired {
			ts.forgetter.Forget(idx)
		}
	}
	if len(retired) > 0 {
		ts.logger.Sugar().Debugw("Retired tasks outside the challenge window", "taskIndices", retired, "block", block)
	}
	if open, err := ts.tasks.List(ctx); err == nil {
		ts.metrics.SetOpenTasks(len(open))
	}
	return retired, nil
}

func (ts *TaskSender) tick(ctx context.Context) {
	if _, err := ts.SendTask(ctx); err != nil {
		ts.logger.Sugar().Errorw("Aggregator failed to send number to square", "error", err)
	}
	if _, err := ts.Prune(ctx); err != nil {
		ts.logger.Sugar().Warnw("Failed to prune expired tasks", "error", err)
	}
}

// Start sends the first task immediately and then one every IntervalSeconds until ctx is done.
func (ts *TaskSender) Start(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	cronSpec := fmt.Sprintf("@every %ds", ts.config.IntervalSeconds)
	if _, err := c.AddFunc(cronSpec, func() { ts.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule task sender: %w", err)
	}

	ts.logger.Sugar().Infow("Starting task sender", "intervalSeconds", ts.config.IntervalSeconds)
	ts.tick(ctx)
	c.Start()

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	ts.logger.Sugar().Infow("Task sender stopped")
	return nil
}
