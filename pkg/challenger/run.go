package challenger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
)

type ChallengerConfig struct {
	ChallengeWindowBlocks uint32
	// FromBlock is where the first subscription starts, 0 for the chain head
	FromBlock                  uint64
	ResubscribeInitialInterval time.Duration
	ResubscribeMaxInterval     time.Duration
}

func DefaultChallengerConfig() *ChallengerConfig {
	return &ChallengerConfig{
		ChallengeWindowBlocks:      config.TaskChallengeWindowBlock,
		ResubscribeInitialInterval: 5 * time.Second,
		ResubscribeMaxInterval:     time.Minute,
	}
}

func (c *Challenger) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.config.ResubscribeInitialInterval > 0 {
		b.InitialInterval = c.config.ResubscribeInitialInterval
	}
	if c.config.ResubscribeMaxInterval > 0 {
		b.MaxInterval = c.config.ResubscribeMaxInterval
	}
	// never give up on the stream
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// HandleEvent applies one task manager event. Errors are logged and never stop the stream.
func (c *Challenger) HandleEvent(ctx context.Context, event *chainPoller.TaskEvent) {
	var (
		verdict Verdict
		err     error
	)
	switch event.Kind {
	case chainPoller.EventKindTaskCreated:
		verdict, err = c.OnTaskCreated(ctx, event.TaskCreated.Task)
	case chainPoller.EventKindTaskResponded:
		verdict, err = c.OnTaskResponded(ctx, event.TaskResponded)
	default:
		return
	}
	if err != nil {
		c.logger.Sugar().Errorw("Error in challenge module", "event", event.Kind.String(), "error", err)
	} else if verdict == VerdictClean {
		c.logger.Sugar().Debugw("No error found in task response")
	}

	c.mu.Lock()
	if event.BlockNumber > c.lastBlock {
		c.lastBlock = event.BlockNumber
	}
	c.mu.Unlock()
	c.Prune(event.BlockNumber)
}

// resumeBlock is where a fresh subscription starts. The last block is replayed since events of a
// partially delivered block are applied idempotently.
func (c *Challenger) resumeBlock() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastBlock > 0 {
		return c.lastBlock
	}
	return c.config.FromBlock
}

// Start consumes task events until ctx is cancelled, resubscribing with back-off whenever the stream fails.
func (c *Challenger) Start(ctx context.Context, poller chainPoller.IChainPoller) error {
	b := c.newBackOff()
	c.logger.Sugar().Infow("Starting challenger")

	for {
		sub, err := poller.Subscribe(ctx, c.resumeBlock())
		if err != nil {
			c.logger.Sugar().Errorw("Failed to subscribe to task events", "error", err)
		} else {
			err = c.consume(ctx, sub, b)
			sub.Unsubscribe()
			if ctx.Err() == nil {
				c.logger.Sugar().Errorw("Task event stream failed, resubscribing", "error", err)
			}
		}
		if ctx.Err() != nil {
			c.logger.Sugar().Infow("Challenger stopped")
			return nil
		}

		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			c.logger.Sugar().Infow("Challenger stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Challenger) consume(ctx context.Context, sub chainPoller.Subscription, b backoff.BackOff) error {
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
			c.HandleEvent(ctx, event)
		}
	}
}
