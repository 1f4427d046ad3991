package operator

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/clients/aggregatorClient"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/util"
	"go.uber.org/zap/zaptest"
)

type fakeChain struct {
	block uint64
	err   error
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return f.block, f.err
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*aggregatorClient.SignedTaskResponse
	err  error
}

func (f *fakeSender) SendSignedTaskResponse(ctx context.Context, payload *aggregatorClient.SignedTaskResponse) (*aggregatorClient.SignatureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	if f.err != nil {
		return nil, f.err
	}
	return &aggregatorClient.SignatureResult{Success: true}, nil
}

func (f *fakeSender) sentTasks() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, 0, len(f.sent))
	for _, p := range f.sent {
		out = append(out, p.TaskIndex)
	}
	return out
}

func newTestOperator(t *testing.T) (*Operator, *fakeChain, *fakeSender) {
	kp, err := bn254.GenerateKeyPair()
	require.NoError(t, err)
	chain := &fakeChain{block: 77}
	sender := &fakeSender{}
	cfg := &OperatorConfig{
		ResubscribeInitialInterval: time.Millisecond,
		ResubscribeMaxInterval:     5 * time.Millisecond,
	}
	return NewOperator(cfg, kp, chain, sender, zaptest.NewLogger(t)), chain, sender
}

func newTask(index uint32, n int64) *types.Task {
	return &types.Task{
		Index:                     index,
		NumberToBeSquared:         big.NewInt(n),
		TaskCreatedBlock:          10,
		QuorumNumbers:             []byte{0},
		QuorumThresholdPercentage: 70,
	}
}

func Test_ProcessTask(t *testing.T) {
	op, _, _ := newTestOperator(t)

	res := op.ProcessTask(newTask(4, 12))
	assert.Equal(t, uint32(4), res.ReferenceTaskIndex)
	assert.Equal(t, int64(144), res.NumberSquared.Int64())

	t.Run("always failing", func(t *testing.T) {
		op.config.TimesFailing = 100
		res := op.ProcessTask(newTask(4, 12))
		assert.Equal(t, 0, WrongAnswer.Cmp(res.NumberSquared))
	})
	t.Run("failure roll", func(t *testing.T) {
		op.config.TimesFailing = 30
		op.intn = func(n int) int { return 29 }
		assert.Equal(t, 0, WrongAnswer.Cmp(op.ProcessTask(newTask(1, 2)).NumberSquared))
		op.intn = func(n int) int { return 30 }
		assert.Equal(t, int64(4), op.ProcessTask(newTask(1, 2)).NumberSquared.Int64())
	})
}

func Test_SignTaskResponse(t *testing.T) {
	op, chain, _ := newTestOperator(t)

	signed, err := op.SignTaskResponse(context.Background(), types.TaskResponse{ReferenceTaskIndex: 2, NumberSquared: big.NewInt(49)})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), signed.TaskIndex)
	assert.Equal(t, uint32(77), signed.BlockNumber)
	assert.Equal(t, types.OperatorIdFromG1(op.keyPair.PubkeyG1), signed.OperatorId)

	digest, err := util.TaskResponseDigest(2, big.NewInt(49))
	require.NoError(t, err)
	ok, err := signed.Signature.Verify(op.keyPair.PubkeyG2, digest)
	require.NoError(t, err)
	assert.True(t, ok)

	chain.err = errors.New("rpc down")
	_, err = op.SignTaskResponse(context.Background(), types.TaskResponse{ReferenceTaskIndex: 2, NumberSquared: big.NewInt(49)})
	assert.Error(t, err)
}

func Test_HandleTask(t *testing.T) {
	op, _, sender := newTestOperator(t)

	require.NoError(t, op.HandleTask(context.Background(), newTask(5, 9)))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, uint32(5), sender.sent[0].TaskIndex)
	assert.Equal(t, int64(81), sender.sent[0].NumberSquared.Int64())
	assert.Equal(t, uint64(77), sender.sent[0].BlockNumber)
	assert.Equal(t, op.OperatorId().Hex(), sender.sent[0].OperatorId)

	sender.err = errors.New("connection refused")
	assert.Error(t, op.HandleTask(context.Background(), newTask(6, 9)))

	t.Run("cancelled during delay", func(t *testing.T) {
		op.config.SubmitDelay = time.Hour
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, op.HandleTask(ctx, newTask(7, 9)), context.Canceled)
	})
}

func Test_LoadBlsKeyPair(t *testing.T) {
	kp, err := bn254.GenerateKeyPair()
	require.NoError(t, err)

	fromKey, err := LoadBlsKeyPair(kp.PrivateKey.String(), "", "")
	require.NoError(t, err)
	assert.True(t, kp.PubkeyG1.Equal(fromKey.PubkeyG1))

	path := filepath.Join(t.TempDir(), "operator.bls.key.json")
	require.NoError(t, bn254.SaveToKeystore(kp, path, "pw", bn254.LightKeystoreOptions()))
	fromStore, err := LoadBlsKeyPair("", path, "pw")
	require.NoError(t, err)
	assert.True(t, kp.PubkeyG2.Equal(fromStore.PubkeyG2))

	_, err = LoadBlsKeyPair("", path, "wrong")
	assert.Error(t, err)
	_, err = LoadBlsKeyPair("", "", "")
	assert.Error(t, err)
}

type scriptedSubscription struct {
	events chan *chainPoller.TaskEvent
	errs   chan error
}

func (s *scriptedSubscription) Events() <-chan *chainPoller.TaskEvent { return s.events }
func (s *scriptedSubscription) Err() <-chan error                    { return s.errs }
func (s *scriptedSubscription) Unsubscribe()                         {}

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

func createdEvent(block uint64, task *types.Task) *chainPoller.TaskEvent {
	return &chainPoller.TaskEvent{
		Kind:        chainPoller.EventKindTaskCreated,
		BlockNumber: block,
		TaskCreated: &types.NewTaskCreatedEvent{Task: task, BlockNumber: block},
	}
}

func Test_OperatorStart(t *testing.T) {
	op, _, sender := newTestOperator(t)
	op.config.FromBlock = 3

	first := &scriptedSubscription{events: make(chan *chainPoller.TaskEvent, 3), errs: make(chan error, 1)}
	first.events <- createdEvent(10, newTask(0, 2))
	first.events <- &chainPoller.TaskEvent{
		Kind:          chainPoller.EventKindTaskResponded,
		BlockNumber:   11,
		TaskResponded: &types.TaskRespondedEvent{},
	}
	first.events <- createdEvent(12, newTask(1, 3))

	// the replayed block 12 is skipped
	second := &scriptedSubscription{events: make(chan *chainPoller.TaskEvent, 2), errs: make(chan error, 1)}
	second.events <- createdEvent(12, newTask(1, 3))
	second.events <- createdEvent(14, newTask(2, 4))

	poller := &scriptedPoller{subs: []*scriptedSubscription{first, second}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- op.Start(ctx, poller) }()

	require.Eventually(t, func() bool { return len(sender.sentTasks()) == 2 }, 5*time.Second, time.Millisecond)
	first.errs <- errors.New("stream lost")

	require.Eventually(t, func() bool { return len(sender.sentTasks()) == 3 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []uint32{0, 1, 2}, sender.sentTasks())
	assert.Equal(t, []uint64{3, 12}, poller.subscribed()[:2])
}
