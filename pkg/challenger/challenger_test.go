package challenger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellular-xyz/incredible-squaring-avs-go/contracts"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/metrics"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/transactionLogParser"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"go.uber.org/zap/zaptest"
)

type fakeChain struct {
	contractCaller.ChainReader
	contractCaller.ChainWriter

	mu         sync.Mutex
	inputs     map[common.Hash][]byte
	readErr    error
	challenges []*contractCaller.RaiseChallengeParams
	raiseErr   error
}

func (f *fakeChain) GetTransactionInput(ctx context.Context, txHash common.Hash) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	input, ok := f.inputs[txHash]
	if !ok {
		return nil, errors.New("not found")
	}
	return input, nil
}

func (f *fakeChain) RaiseChallenge(ctx context.Context, params *contractCaller.RaiseChallengeParams) (*ethTypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenges = append(f.challenges, params)
	if f.raiseErr != nil {
		return nil, f.raiseErr
	}
	return &ethTypes.Receipt{TxHash: common.HexToHash("0xc4a11e9e"), Status: ethTypes.ReceiptStatusSuccessful}, nil
}

func (f *fakeChain) challengeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.challenges)
}

type harness struct {
	chain      *fakeChain
	challenger *Challenger
	abi        *abi.ABI
	registry   *prometheus.Registry
	metrics    *metrics.ChallengerMetrics
}

func newHarness(t *testing.T) *harness {
	a, err := contracts.TaskManagerAbi()
	require.NoError(t, err)
	l := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewChallengerMetrics(reg)
	chain := &fakeChain{inputs: make(map[common.Hash][]byte)}
	return &harness{
		chain:      chain,
		challenger: NewChallenger(nil, chain, chain, transactionLogParser.NewTransactionLogParser(a, l), m, l),
		abi:        a,
		registry:   reg,
		metrics:    m,
	}
}

func newTask(index uint32, number int64, block uint32) *types.Task {
	return &types.Task{
		Index:                     index,
		NumberToBeSquared:         big.NewInt(number),
		TaskCreatedBlock:          block,
		QuorumNumbers:             []byte{0},
		QuorumThresholdPercentage: 70,
	}
}

// respond stores respondToTask calldata with one non-signer and returns the matching event.
func (h *harness) respond(t *testing.T, task *types.Task, answer int64) *types.TaskRespondedEvent {
	response := contracts.IIncredibleSquaringTaskManagerTaskResponse{ReferenceTaskIndex: task.Index, NumberSquared: big.NewInt(answer)}
	calldata, err := h.abi.Pack(contracts.MethodRespondToTask,
		contracts.IIncredibleSquaringTaskManagerTask{
			NumberToBeSquared:         task.NumberToBeSquared,
			TaskCreatedBlock:          task.TaskCreatedBlock,
			QuorumNumbers:             task.QuorumNumbers,
			QuorumThresholdPercentage: task.QuorumThresholdPercentage,
		},
		response,
		contracts.IBLSSignatureCheckerTypesNonSignerStakesAndSignature{
			NonSignerQuorumBitmapIndices: []uint32{0},
			NonSignerPubkeys:             []contracts.BN254G1Point{{X: big.NewInt(1), Y: big.NewInt(2)}},
			QuorumApks:                   []contracts.BN254G1Point{{X: big.NewInt(1), Y: big.NewInt(2)}},
			ApkG2:                        contracts.BN254G2Point{X: [2]*big.Int{big.NewInt(0), big.NewInt(0)}, Y: [2]*big.Int{big.NewInt(0), big.NewInt(0)}},
			Sigma:                        contracts.BN254G1Point{X: big.NewInt(0), Y: big.NewInt(0)},
			QuorumApkIndices:             []uint32{0},
			TotalStakeIndices:            []uint32{0},
			NonSignerStakeIndices:        [][]uint32{{0}},
		},
	)
	require.NoError(t, err)

	txHash := common.BigToHash(big.NewInt(int64(task.Index) + 1000))
	h.chain.mu.Lock()
	h.chain.inputs[txHash] = calldata
	h.chain.mu.Unlock()

	return &types.TaskRespondedEvent{
		TaskResponse: types.TaskResponse{ReferenceTaskIndex: task.Index, NumberSquared: big.NewInt(answer)},
		TaskResponseMetadata: types.TaskResponseMetadata{
			TaskRespondedBlock: task.TaskCreatedBlock + 2,
			HashOfNonSigners:   common.HexToHash("0x5151"),
		},
		TransactionHash: txHash,
		BlockNumber:     uint64(task.TaskCreatedBlock) + 2,
	}
}

func Test_Challenger(t *testing.T) {
	ctx := context.Background()

	t.Run("correct answer is clean", func(t *testing.T) {
		h := newHarness(t)
		task := newTask(1, 7, 10)

		v, err := h.challenger.OnTaskCreated(ctx, task)
		require.NoError(t, err)
		assert.Equal(t, VerdictPending, v)
		assert.Equal(t, StateAwaitingResponse, h.challenger.State(1))

		v, err = h.challenger.OnTaskResponded(ctx, h.respond(t, task, 49))
		require.NoError(t, err)
		assert.Equal(t, VerdictClean, v)
		assert.Equal(t, StateClean, h.challenger.State(1))
		assert.Equal(t, 0, h.chain.challengeCount())
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.VerdictsTotal.WithLabelValues("clean")))
	})

	t.Run("wrong answer raises exactly one challenge", func(t *testing.T) {
		h := newHarness(t)
		task := newTask(2, 7, 10)
		event := h.respond(t, task, 50)

		_, err := h.challenger.OnTaskCreated(ctx, task)
		require.NoError(t, err)
		v, err := h.challenger.OnTaskResponded(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, VerdictDisputed, v)
		assert.Equal(t, StateDisputed, h.challenger.State(2))

		require.Equal(t, 1, h.chain.challengeCount())
		params := h.chain.challenges[0]
		assert.Equal(t, task.Index, params.Task.Index)
		assert.Equal(t, int64(50), params.TaskResponse.NumberSquared.Int64())
		assert.Equal(t, event.TaskResponseMetadata, params.TaskResponseMetadata)
		require.Len(t, params.NonSignerPubkeys, 1)
		x, y := params.NonSignerPubkeys[0].BigInts()
		assert.Equal(t, int64(1), x.Int64())
		assert.Equal(t, int64(2), y.Int64())

		record, ok := h.challenger.Record(2)
		require.True(t, ok)
		assert.Equal(t, common.HexToHash("0xc4a11e9e"), record.ChallengeTxHash)

		// replays and re-evaluation never raise again
		v, err = h.challenger.Evaluate(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, VerdictAlreadyResolved, v)
		_, err = h.challenger.OnTaskResponded(ctx, event)
		require.NoError(t, err)
		_, err = h.challenger.OnTaskCreated(ctx, task)
		require.NoError(t, err)
		assert.Equal(t, 1, h.chain.challengeCount())
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ChallengesRaised.WithLabelValues("success")))
	})

	t.Run("response before task", func(t *testing.T) {
		h := newHarness(t)
		task := newTask(3, 7, 10)

		v, err := h.challenger.OnTaskResponded(ctx, h.respond(t, task, 50))
		require.NoError(t, err)
		assert.Equal(t, VerdictPending, v)
		assert.Equal(t, StateHasResponse, h.challenger.State(3))
		assert.Equal(t, 0, h.chain.challengeCount())

		v, err = h.challenger.OnTaskCreated(ctx, task)
		require.NoError(t, err)
		assert.Equal(t, VerdictDisputed, v)
		assert.Equal(t, 1, h.chain.challengeCount())
	})

	t.Run("evaluate without data is a no-op", func(t *testing.T) {
		h := newHarness(t)
		v, err := h.challenger.Evaluate(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, VerdictPending, v)
		assert.Equal(t, StateUnknown, h.challenger.State(42))
	})

	t.Run("undecodable calldata leaves state unchanged", func(t *testing.T) {
		h := newHarness(t)
		task := newTask(4, 7, 10)
		_, err := h.challenger.OnTaskCreated(ctx, task)
		require.NoError(t, err)

		event := h.respond(t, task, 50)
		h.chain.inputs[event.TransactionHash] = []byte{0xde, 0xad, 0xbe, 0xef, 0x00}

		v, err := h.challenger.OnTaskResponded(ctx, event)
		assert.Equal(t, VerdictPending, v)
		assert.Equal(t, types.ErrorKindCalldataDecodeFailed, types.KindOf(err))
		assert.ErrorIs(t, err, transactionLogParser.ErrUnknownMethod)
		assert.Equal(t, StateAwaitingResponse, h.challenger.State(4))
		assert.Equal(t, 0, h.chain.challengeCount())
	})

	t.Run("transaction read failure leaves state unchanged", func(t *testing.T) {
		h := newHarness(t)
		task := newTask(5, 7, 10)
		_, err := h.challenger.OnTaskCreated(ctx, task)
		require.NoError(t, err)

		h.chain.readErr = errors.New("rpc unavailable")
		event := h.respond(t, task, 50)
		_, err = h.challenger.OnTaskResponded(ctx, event)
		assert.Equal(t, types.ErrorKindExternalDataUnavailable, types.KindOf(err))
		assert.Equal(t, StateAwaitingResponse, h.challenger.State(5))

		// the next delivery of the same event succeeds
		h.chain.readErr = nil
		v, err := h.challenger.OnTaskResponded(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, VerdictDisputed, v)
	})

	t.Run("calldata for another task is rejected", func(t *testing.T) {
		h := newHarness(t)
		task := newTask(6, 7, 10)
		other := h.respond(t, newTask(7, 7, 10), 49)
		event := h.respond(t, task, 49)
		event.TransactionHash = other.TransactionHash

		_, err := h.challenger.OnTaskResponded(ctx, event)
		assert.Equal(t, types.ErrorKindCalldataDecodeFailed, types.KindOf(err))
	})

	t.Run("failed challenge transaction is not retried", func(t *testing.T) {
		h := newHarness(t)
		h.chain.raiseErr = errors.New("reverted")
		task := newTask(8, 3, 10)
		_, err := h.challenger.OnTaskCreated(ctx, task)
		require.NoError(t, err)

		v, err := h.challenger.OnTaskResponded(ctx, h.respond(t, task, 10))
		assert.Equal(t, VerdictDisputed, v)
		assert.Equal(t, types.ErrorKindSubmissionFailed, types.KindOf(err))

		record, ok := h.challenger.Record(8)
		require.True(t, ok)
		assert.Error(t, record.ChallengeErr)

		v, err = h.challenger.Evaluate(ctx, 8)
		assert.NoError(t, err)
		assert.Equal(t, VerdictAlreadyResolved, v)
		assert.Equal(t, 1, h.chain.challengeCount())
	})

	t.Run("concurrent evaluation raises once", func(t *testing.T) {
		h := newHarness(t)
		task := newTask(9, 7, 10)
		_, err := h.challenger.OnTaskCreated(ctx, task)
		require.NoError(t, err)
		event := h.respond(t, task, 48)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = h.challenger.OnTaskResponded(ctx, event)
				_, _ = h.challenger.Evaluate(ctx, task.Index)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, h.chain.challengeCount())
	})

	t.Run("prune drops resolved tasks outside the window", func(t *testing.T) {
		h := newHarness(t)
		clean := newTask(10, 2, 10)
		recent := newTask(11, 2, 50)
		_, err := h.challenger.OnTaskCreated(ctx, clean)
		require.NoError(t, err)
		// responded at block 12
		_, err = h.challenger.OnTaskResponded(ctx, h.respond(t, clean, 4))
		require.NoError(t, err)
		_, err = h.challenger.OnTaskCreated(ctx, recent)
		require.NoError(t, err)

		assert.Equal(t, 0, h.challenger.Prune(112))
		assert.Equal(t, 1, h.challenger.Prune(113))
		_, ok := h.challenger.Record(10)
		assert.False(t, ok)
		assert.Equal(t, StateAwaitingResponse, h.challenger.State(11))
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TrackedTasks))
	})

	t.Run("prune drops tasks that never got a response", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.challenger.OnTaskCreated(ctx, newTask(12, 3, 10))
		require.NoError(t, err)

		assert.Equal(t, 0, h.challenger.Prune(110))
		assert.Equal(t, 1, h.challenger.Prune(111))
		assert.Equal(t, StateUnknown, h.challenger.State(12))
	})

	t.Run("prune drops responses whose task was never seen", func(t *testing.T) {
		h := newHarness(t)
		// the task was created before the subscription started
		_, err := h.challenger.OnTaskResponded(ctx, h.respond(t, newTask(13, 3, 20), 9))
		require.NoError(t, err)
		assert.Equal(t, StateHasResponse, h.challenger.State(13))

		assert.Equal(t, 0, h.challenger.Prune(122))
		assert.Equal(t, 1, h.challenger.Prune(123))
		_, ok := h.challenger.Record(13)
		assert.False(t, ok)
	})
}

type scriptedSubscription struct {
	events chan *chainPoller.TaskEvent
	errs   chan error
}

func (s *scriptedSubscription) Events() <-chan *chainPoller.TaskEvent { return s.events }
func (s *scriptedSubscription) Err() <-chan error                    { return s.errs }
func (s *scriptedSubscription) Unsubscribe()                         {}

// scriptedPoller hands out one prepared subscription per Subscribe call.
type scriptedPoller struct {
	mu         sync.Mutex
	subs       []*scriptedSubscription
	fromBlocks []uint64
}

func (p *scriptedPoller) Subscribe(ctx context.Context, fromBlock uint64) (chainPoller.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fromBlocks = append(p.fromBlocks, fromBlock)
	if len(p.subs) == 0 {
		return nil, errors.New("no more subscriptions")
	}
	sub := p.subs[0]
	p.subs = p.subs[1:]
	return sub, nil
}

func (p *scriptedPoller) subscribed() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.fromBlocks...)
}

func Test_ChallengerStart_Resubscribes(t *testing.T) {
	h := newHarness(t)
	h.challenger.config.ResubscribeInitialInterval = time.Millisecond
	h.challenger.config.ResubscribeMaxInterval = 5 * time.Millisecond
	h.challenger.config.FromBlock = 5

	task := newTask(1, 7, 10)
	responded := h.respond(t, task, 50)

	first := &scriptedSubscription{events: make(chan *chainPoller.TaskEvent, 1), errs: make(chan error, 1)}
	first.events <- &chainPoller.TaskEvent{
		Kind:        chainPoller.EventKindTaskCreated,
		BlockNumber: 10,
		TaskCreated: &types.NewTaskCreatedEvent{Task: task, BlockNumber: 10},
	}
	second := &scriptedSubscription{events: make(chan *chainPoller.TaskEvent, 1), errs: make(chan error, 1)}
	second.events <- &chainPoller.TaskEvent{
		Kind:          chainPoller.EventKindTaskResponded,
		BlockNumber:   12,
		TaskResponded: responded,
	}
	poller := &scriptedPoller{subs: []*scriptedSubscription{first, second}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.challenger.Start(ctx, poller) }()

	require.Eventually(t, func() bool { return h.challenger.State(1) == StateAwaitingResponse }, 5*time.Second, time.Millisecond)
	first.errs <- errors.New("stream lost")

	require.Eventually(t, func() bool { return h.chain.challengeCount() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	from := poller.subscribed()
	require.GreaterOrEqual(t, len(from), 2)
	assert.Equal(t, uint64(5), from[0])
	assert.Equal(t, uint64(10), from[1])
	assert.Equal(t, StateDisputed, h.challenger.State(1))
}

func Test_ServiceStart(t *testing.T) {
	h := newHarness(t)
	sub := &scriptedSubscription{events: make(chan *chainPoller.TaskEvent, 1), errs: make(chan error, 1)}
	sub.events <- &chainPoller.TaskEvent{
		Kind:        chainPoller.EventKindTaskCreated,
		BlockNumber: 3,
		TaskCreated: &types.NewTaskCreatedEvent{Task: newTask(4, 2, 3), BlockNumber: 3},
	}
	svc := NewService(h.challenger, &scriptedPoller{subs: []*scriptedSubscription{sub}}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool { return svc.Challenger().State(4) == StateAwaitingResponse }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
