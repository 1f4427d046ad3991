package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/aggregator/aggregatorConfig"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/aggregator/server"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/operatorRegistry"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/util"
	"go.uber.org/zap/zaptest"
)

type fakeChain struct {
	contractCaller.ChainReader
	contractCaller.ChainWriter

	mu        sync.Mutex
	block     uint64
	created   int
	submitted []*types.AggregateProof
}

func (f *fakeChain) CreateNewTask(ctx context.Context, number *big.Int, threshold uint32, quorums []byte) (*types.NewTaskCreatedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := uint32(f.created)
	f.created++
	return &types.NewTaskCreatedEvent{
		Task: &types.Task{
			Index:                     idx,
			NumberToBeSquared:         new(big.Int).Set(number),
			TaskCreatedBlock:          uint32(f.block),
			QuorumNumbers:             quorums,
			QuorumThresholdPercentage: threshold,
		},
		BlockNumber: f.block,
	}, nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return f.block, nil
}

func (f *fakeChain) GetCheckSignaturesIndices(ctx context.Context, referenceBlock uint32, quorumNumbers []byte, nonSignerIds []types.OperatorId) (*types.CheckSignaturesIndices, error) {
	return &types.CheckSignaturesIndices{
		NonSignerQuorumBitmapIndices: make([]uint32, len(nonSignerIds)),
		QuorumApkIndices:             []uint32{0},
		TotalStakeIndices:            []uint32{0},
		NonSignerStakeIndices:        [][]uint32{make([]uint32, len(nonSignerIds))},
	}, nil
}

func (f *fakeChain) SubmitAggregate(ctx context.Context, proof *types.AggregateProof) (*ethTypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, proof)
	return &ethTypes.Receipt{Status: ethTypes.ReceiptStatusSuccessful, TxHash: common.HexToHash("0x01")}, nil
}

type testOperator struct {
	kp *bn254.KeyPair
	id types.OperatorId
}

func newOperators(t *testing.T, stakes ...int64) ([]*testOperator, *operatorRegistry.StaticRegistrySnapshot) {
	var ops []*testOperator
	var infos []*types.OperatorInfo
	for _, stake := range stakes {
		kp, err := bn254.GenerateKeyPair()
		require.NoError(t, err)
		id := types.OperatorIdFromG1(kp.PubkeyG1)
		ops = append(ops, &testOperator{kp: kp, id: id})
		infos = append(infos, &types.OperatorInfo{OperatorId: id, Stake: big.NewInt(stake), PubkeyG1: kp.PubkeyG1, PubkeyG2: kp.PubkeyG2})
	}
	return ops, operatorRegistry.NewStaticRegistrySnapshot(infos)
}

func postSignature(t *testing.T, url string, op *testOperator, taskIndex uint32, answer *big.Int) (int, *server.SignatureResponse) {
	digest, err := util.TaskResponseDigest(taskIndex, answer)
	require.NoError(t, err)
	x, y := op.kp.SignMessage(digest).BigInts()

	body, err := json.Marshal(map[string]interface{}{
		"task_index":     taskIndex,
		"number_squared": answer.String(),
		"signature":      map[string]string{"X": x.String(), "Y": y.String()},
		"block_number":   12,
		"operator_id":    op.id.Hex(),
	})
	require.NoError(t, err)

	res, err := http.Post(url+"/signature", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()

	var out server.SignatureResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, &out
}

func Test_Aggregator(t *testing.T) {
	l := zaptest.NewLogger(t)
	ctx := context.Background()

	ops, snapshot := newOperators(t, 40, 30, 30)
	chain := &fakeChain{block: 10}

	agg := NewAggregatorWithDeps(&aggregatorConfig.AggregatorConfig{}, &AggregatorDeps{
		Snapshot: snapshot,
		Reader:   chain,
		Writer:   chain,
	}, l)

	ts := httptest.NewServer(agg.Server().Handler())
	defer ts.Close()

	// the first task squares 0, the second squares 1, the third squares 2
	for i := 0; i < 3; i++ {
		_, err := agg.TaskSender().SendTask(ctx)
		require.NoError(t, err)
	}

	status, res := postSignature(t, ts.URL, ops[0], 2, big.NewInt(4))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Signature accepted, threshold not yet reached", res.Message)

	status, res = postSignature(t, ts.URL, ops[0], 2, big.NewInt(4))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "400. Operator signature has already been processed", res.Error)

	status, res = postSignature(t, ts.URL, ops[1], 9, big.NewInt(4))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "400. Task not found", res.Error)

	status, res = postSignature(t, ts.URL, ops[1], 2, big.NewInt(4))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Threshold reached, aggregated response submitted", res.Message)

	status, res = postSignature(t, ts.URL, ops[2], 2, big.NewInt(4))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "400. Task response has already been aggregated", res.Error)

	chain.mu.Lock()
	defer chain.mu.Unlock()
	require.Len(t, chain.submitted, 1)
	proof := chain.submitted[0]
	assert.Equal(t, uint32(2), proof.TaskResponse.ReferenceTaskIndex)
	assert.Equal(t, int64(4), proof.TaskResponse.NumberSquared.Int64())
	assert.Equal(t, []types.OperatorId{ops[2].id}, proof.NonSignerIds)
	assert.Equal(t, int64(70), proof.SignedStake.Int64())
}

func Test_AggregatorStartStops(t *testing.T) {
	_, snapshot := newOperators(t, 10)
	chain := &fakeChain{block: 1}
	agg := NewAggregatorWithDeps(&aggregatorConfig.AggregatorConfig{
		ServerAddress:       "127.0.0.1:0",
		TaskIntervalSeconds: 3600,
	}, &AggregatorDeps{Snapshot: snapshot, Reader: chain, Writer: chain}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Start(ctx) }()

	assert.Eventually(t, func() bool {
		chain.mu.Lock()
		defer chain.mu.Unlock()
		return chain.created == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
