package manualPushChainPoller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"go.uber.org/zap"
)

var (
	ErrSubscriberTooSlow = errors.New("subscriber buffer is full")
	ErrInvalidEvent      = errors.New("invalid task event")
)

type ManualPushChainPollerConfig struct {
	// Address serves the /events route when set, e.g. ":8092"
	Address    string
	BufferSize int
}

// ManualPushChainPoller delivers task events that are pushed to it instead of read from a chain.
// Pushed events are kept so a subscription can replay from an earlier block.
type ManualPushChainPoller struct {
	config *ManualPushChainPollerConfig
	logger *zap.Logger

	mu      sync.Mutex
	history []*chainPoller.TaskEvent
	subs    map[*subscription]uint64
	head    uint64
}

var _ chainPoller.IChainPoller = (*ManualPushChainPoller)(nil)

func NewManualPushChainPoller(config *ManualPushChainPollerConfig, logger *zap.Logger) *ManualPushChainPoller {
	if config == nil {
		config = &ManualPushChainPollerConfig{}
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	return &ManualPushChainPoller{
		config: config,
		logger: logger,
		subs:   make(map[*subscription]uint64),
	}
}

type subscription struct {
	events chan *chainPoller.TaskEvent
	errs   chan error
	once   sync.Once
	parent *ManualPushChainPoller
}

func (s *subscription) Events() <-chan *chainPoller.TaskEvent {
	return s.events
}

func (s *subscription) Err() <-chan error {
	return s.errs
}

func (s *subscription) Unsubscribe() {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	s.closeLocked(nil)
}

// closeLocked must be called with the parent lock held
func (s *subscription) closeLocked(err error) {
	s.once.Do(func() {
		delete(s.parent.subs, s)
		if err != nil {
			s.errs <- err
		}
		close(s.events)
	})
}

// Subscribe replays every pushed event at or after fromBlock, then follows new pushes.
// A fromBlock of 0 only follows new pushes.
func (p *ManualPushChainPoller) Subscribe(ctx context.Context, fromBlock uint64) (chainPoller.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &subscription{
		events: make(chan *chainPoller.TaskEvent, p.config.BufferSize),
		errs:   make(chan error, 1),
		parent: p,
	}
	if fromBlock > 0 {
		for _, event := range p.history {
			if event.BlockNumber < fromBlock {
				continue
			}
			select {
			case sub.events <- event:
			default:
				return nil, fmt.Errorf("replay from block %d: %w", fromBlock, ErrSubscriberTooSlow)
			}
		}
	}
	p.subs[sub] = fromBlock

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return sub, nil
}

// Push appends an event and fans it out. A subscriber whose buffer is full is failed with
// ErrSubscriberTooSlow so it can resubscribe from its last block.
func (p *ManualPushChainPoller) Push(event *chainPoller.TaskEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if event.BlockNumber < p.head {
		return fmt.Errorf("%w: block %d is behind head %d", ErrInvalidEvent, event.BlockNumber, p.head)
	}
	p.head = event.BlockNumber
	p.history = append(p.history, event)

	for sub := range p.subs {
		select {
		case sub.events <- event:
		default:
			p.logger.Sugar().Warnw("Dropping slow subscriber", "blockNumber", event.BlockNumber)
			sub.closeLocked(ErrSubscriberTooSlow)
		}
	}
	return nil
}

// Head is the block number of the latest pushed event.
func (p *ManualPushChainPoller) Head() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head
}

func validateEvent(event *chainPoller.TaskEvent) error {
	if event == nil {
		return ErrInvalidEvent
	}
	switch event.Kind {
	case chainPoller.EventKindTaskCreated:
		if event.TaskCreated == nil || event.TaskCreated.Task == nil || event.TaskCreated.Task.NumberToBeSquared == nil {
			return fmt.Errorf("%w: missing task", ErrInvalidEvent)
		}
	case chainPoller.EventKindTaskResponded:
		if event.TaskResponded == nil || event.TaskResponded.TaskResponse.NumberSquared == nil {
			return fmt.Errorf("%w: missing task response", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidEvent, event.Kind)
	}
	return nil
}

// PushedEvent is the JSON body accepted by POST /events. Numbers are decimal strings.
type PushedEvent struct {
	Kind                      string `json:"kind"`
	BlockNumber               uint64 `json:"blockNumber"`
	TransactionHash           string `json:"transactionHash"`
	TaskIndex                 uint32 `json:"taskIndex"`
	NumberToBeSquared         string `json:"numberToBeSquared,omitempty"`
	TaskCreatedBlock          uint32 `json:"taskCreatedBlock,omitempty"`
	QuorumNumbers             []byte `json:"quorumNumbers,omitempty"`
	QuorumThresholdPercentage uint32 `json:"quorumThresholdPercentage,omitempty"`
	NumberSquared             string `json:"numberSquared,omitempty"`
	TaskRespondedBlock        uint32 `json:"taskRespondedBlock,omitempty"`
}

func parseNumber(name, value string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a decimal number", ErrInvalidEvent, name)
	}
	return n, nil
}

// ToTaskEvent converts the pushed body into a TaskEvent.
func (pe *PushedEvent) ToTaskEvent() (*chainPoller.TaskEvent, error) {
	txHash := common.HexToHash(pe.TransactionHash)
	switch pe.Kind {
	case chainPoller.EventKindTaskCreated.String():
		n, err := parseNumber("numberToBeSquared", pe.NumberToBeSquared)
		if err != nil {
			return nil, err
		}
		return &chainPoller.TaskEvent{
			Kind:        chainPoller.EventKindTaskCreated,
			BlockNumber: pe.BlockNumber,
			TaskCreated: &types.NewTaskCreatedEvent{
				Task: &types.Task{
					Index:                     pe.TaskIndex,
					NumberToBeSquared:         n,
					TaskCreatedBlock:          pe.TaskCreatedBlock,
					QuorumNumbers:             pe.QuorumNumbers,
					QuorumThresholdPercentage: pe.QuorumThresholdPercentage,
				},
				TransactionHash: txHash,
				BlockNumber:     pe.BlockNumber,
			},
		}, nil
	case chainPoller.EventKindTaskResponded.String():
		n, err := parseNumber("numberSquared", pe.NumberSquared)
		if err != nil {
			return nil, err
		}
		return &chainPoller.TaskEvent{
			Kind:        chainPoller.EventKindTaskResponded,
			BlockNumber: pe.BlockNumber,
			TaskResponded: &types.TaskRespondedEvent{
				TaskResponse: types.TaskResponse{
					ReferenceTaskIndex: pe.TaskIndex,
					NumberSquared:      n,
				},
				TaskResponseMetadata: types.TaskResponseMetadata{
					TaskRespondedBlock: pe.TaskRespondedBlock,
				},
				TransactionHash: txHash,
				BlockNumber:     pe.BlockNumber,
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, pe.Kind)
	}
}

func (p *ManualPushChainPoller) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/events", p.handlePushEvent).Methods(http.MethodPost)
	return p.httpLoggerMiddleware(router)
}

func (p *ManualPushChainPoller) httpLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.logger.Sugar().Debugw("Received HTTP request",
			"method", r.Method,
			"url", r.URL.String(),
		)
		next.ServeHTTP(w, r)
	})
}

func (p *ManualPushChainPoller) handlePushEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var body PushedEvent
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		p.logger.Sugar().Errorw("Failed to unmarshal task event", "error", err)
		http.Error(w, "Failed to unmarshal task event", http.StatusBadRequest)
		return
	}
	event, err := body.ToTaskEvent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := p.Push(event); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.logger.Sugar().Infow("Received pushed task event",
		"kind", event.Kind.String(),
		"taskIndex", body.TaskIndex,
		"blockNumber", event.BlockNumber,
	)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("task event enqueued"))
}

// Start serves the /events route until ctx is cancelled. It is a no-op without an Address.
func (p *ManualPushChainPoller) Start(ctx context.Context) error {
	if p.config.Address == "" {
		return nil
	}
	sugar := p.logger.Sugar()
	sugar.Infow("ManualPushChainPoller starting", "address", p.config.Address)

	httpServer := &http.Server{
		Addr:              p.config.Address,
		Handler:           p.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sugar.Infow("ManualPushChainPoller stopping due to context cancellation")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
