package EVMChainPoller

import (
	"context"
	"fmt"
	"sync"
	"time"

	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/contracts"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/transactionLogParser"
	"go.uber.org/zap"
)

// LogSource is the chain read surface the poller needs.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterTaskEvents(ctx context.Context, fromBlock, toBlock uint64) ([]ethTypes.Log, error)
}

type EVMChainPollerConfig struct {
	PollingInterval time.Duration
	// MaxBlockRange caps the number of blocks per log query
	MaxBlockRange uint64
	BufferSize    int
}

func NewEVMChainPollerDefaultConfig() *EVMChainPollerConfig {
	return &EVMChainPollerConfig{
		PollingInterval: 3 * time.Second,
		MaxBlockRange:   1000,
		BufferSize:      64,
	}
}

// EVMChainPoller turns task manager logs into a stream of TaskEvents by polling eth_getLogs.
type EVMChainPoller struct {
	source    LogSource
	logParser *transactionLogParser.TransactionLogParser
	config    *EVMChainPollerConfig
	logger    *zap.Logger
}

var _ chainPoller.IChainPoller = (*EVMChainPoller)(nil)

func NewEVMChainPoller(
	source LogSource,
	logParser *transactionLogParser.TransactionLogParser,
	config *EVMChainPollerConfig,
	logger *zap.Logger,
) *EVMChainPoller {
	defaults := NewEVMChainPollerDefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.PollingInterval <= 0 {
		config.PollingInterval = defaults.PollingInterval
	}
	if config.MaxBlockRange == 0 {
		config.MaxBlockRange = defaults.MaxBlockRange
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	return &EVMChainPoller{
		source:    source,
		logParser: logParser,
		config:    config,
		logger:    logger,
	}
}

type subscription struct {
	events chan *chainPoller.TaskEvent
	errs   chan error
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan *chainPoller.TaskEvent {
	return s.events
}

func (s *subscription) Err() <-chan error {
	return s.errs
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (ecp *EVMChainPoller) Subscribe(ctx context.Context, fromBlock uint64) (chainPoller.Subscription, error) {
	if fromBlock == 0 {
		head, err := ecp.source.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read chain head: %w", err)
		}
		fromBlock = head
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		events: make(chan *chainPoller.TaskEvent, ecp.config.BufferSize),
		errs:   make(chan error, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ecp.logger.Sugar().Infow("Starting task event poller",
		"fromBlock", fromBlock,
		"pollingInterval", ecp.config.PollingInterval,
	)
	go ecp.pollForBlocks(subCtx, sub, fromBlock)
	return sub, nil
}

func (ecp *EVMChainPoller) pollForBlocks(ctx context.Context, sub *subscription, nextBlock uint64) {
	defer close(sub.done)
	defer close(sub.events)

	ticker := time.NewTicker(ecp.config.PollingInterval)
	defer ticker.Stop()

	for {
		next, err := ecp.processNewBlocks(ctx, sub, nextBlock)
		if err != nil {
			if ctx.Err() == nil {
				ecp.logger.Sugar().Errorw("Task event poller failed", "error", err, "nextBlock", nextBlock)
				sub.errs <- err
			}
			return
		}
		nextBlock = next

		select {
		case <-ctx.Done():
			ecp.logger.Sugar().Infow("Task event poller context cancelled, exiting poll loop")
			return
		case <-ticker.C:
		}
	}
}

// processNewBlocks delivers the events of every block from nextBlock up to the head and returns the
// next block to query.
func (ecp *EVMChainPoller) processNewBlocks(ctx context.Context, sub *subscription, nextBlock uint64) (uint64, error) {
	head, err := ecp.source.BlockNumber(ctx)
	if err != nil {
		return nextBlock, err
	}
	// the node is behind the last observed block
	if head < nextBlock {
		return nextBlock, nil
	}

	for nextBlock <= head {
		toBlock := min(head, nextBlock+ecp.config.MaxBlockRange-1)
		logs, err := ecp.source.FilterTaskEvents(ctx, nextBlock, toBlock)
		if err != nil {
			return nextBlock, fmt.Errorf("failed to get logs for blocks %d-%d: %w", nextBlock, toBlock, err)
		}
		for i := range logs {
			event := ecp.decode(&logs[i])
			if event == nil {
				continue
			}
			select {
			case sub.events <- event:
			case <-ctx.Done():
				return nextBlock, ctx.Err()
			}
		}
		nextBlock = toBlock + 1
	}
	return nextBlock, nil
}

func (ecp *EVMChainPoller) decode(lg *ethTypes.Log) *chainPoller.TaskEvent {
	name, err := ecp.logParser.EventName(lg)
	if err != nil {
		ecp.logger.Sugar().Debugw("Skipping unknown log", "txHash", lg.TxHash.String(), "error", err)
		return nil
	}

	event := &chainPoller.TaskEvent{BlockNumber: lg.BlockNumber, LogIndex: lg.Index}
	switch name {
	case contracts.EventNewTaskCreated:
		created, err := ecp.logParser.ParseNewTaskCreated(lg)
		if err != nil {
			ecp.logger.Sugar().Errorw("Failed to decode NewTaskCreated", "txHash", lg.TxHash.String(), "error", err)
			return nil
		}
		event.Kind = chainPoller.EventKindTaskCreated
		event.TaskCreated = created
	case contracts.EventTaskResponded:
		responded, err := ecp.logParser.ParseTaskResponded(lg)
		if err != nil {
			ecp.logger.Sugar().Errorw("Failed to decode TaskResponded", "txHash", lg.TxHash.String(), "error", err)
			return nil
		}
		event.Kind = chainPoller.EventKindTaskResponded
		event.TaskResponded = responded
	default:
		return nil
	}
	return event
}
