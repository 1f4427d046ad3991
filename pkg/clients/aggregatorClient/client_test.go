package aggregatorClient

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/aggregator/server"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/aggregation"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/util"
	"go.uber.org/zap/zaptest"
)

type recordingSubmitter struct {
	received []*types.SignedResponse
	err      error
}

func (r *recordingSubmitter) Submit(ctx context.Context, res *types.SignedResponse) (*aggregation.Outcome, error) {
	r.received = append(r.received, res)
	if r.err != nil {
		return nil, r.err
	}
	return &aggregation.Outcome{Kind: aggregation.OutcomeAccepted}, nil
}

type kindedError struct{ kind types.ErrorKind }

func (e *kindedError) Error() string              { return e.kind.String() }
func (e *kindedError) ErrorKind() types.ErrorKind { return e.kind }

func newSignedResponse(t *testing.T) *types.SignedResponse {
	kp, err := bn254.GenerateKeyPair()
	require.NoError(t, err)
	// larger than a float64 can carry exactly
	answer, ok := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	require.True(t, ok)
	digest, err := util.TaskResponseDigest(3, answer)
	require.NoError(t, err)
	return &types.SignedResponse{
		TaskIndex:     3,
		OperatorId:    types.OperatorIdFromG1(kp.PubkeyG1),
		NumberSquared: answer,
		Signature:     kp.SignMessage(digest),
		BlockNumber:   42,
	}
}

func Test_SendSignedTaskResponse(t *testing.T) {
	l := zaptest.NewLogger(t)
	submitter := &recordingSubmitter{}
	srv := server.NewServer(&server.ServerConfig{}, submitter, nil, l)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewAggregatorClient(ts.URL, nil, l)
	sent := newSignedResponse(t)

	result, err := client.SendSignedTaskResponse(context.Background(), NewSignedTaskResponse(sent))
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, submitter.received, 1)
	got := submitter.received[0]
	assert.Equal(t, sent.TaskIndex, got.TaskIndex)
	assert.Equal(t, sent.OperatorId, got.OperatorId)
	assert.Equal(t, 0, sent.NumberSquared.Cmp(got.NumberSquared))
	assert.Equal(t, sent.BlockNumber, got.BlockNumber)
	assert.True(t, sent.Signature.Equal(got.Signature.G1Point))
}

func Test_SendSignedTaskResponse_Rejected(t *testing.T) {
	l := zaptest.NewLogger(t)
	submitter := &recordingSubmitter{err: &kindedError{kind: types.ErrorKindTaskNotFound}}
	ts := httptest.NewServer(server.NewServer(&server.ServerConfig{}, submitter, nil, l).Handler())
	defer ts.Close()

	_, err := NewAggregatorClient(ts.URL, nil, l).SendSignedTaskResponse(context.Background(), NewSignedTaskResponse(newSignedResponse(t)))
	require.Error(t, err)

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Equal(t, types.ErrorKindTaskNotFound.Message(), rejected.Message)
}

func Test_NewAggregatorClient_Url(t *testing.T) {
	l := zaptest.NewLogger(t)
	assert.Equal(t, "http://localhost:8090/signature", NewAggregatorClient("localhost:8090", nil, l).SignatureUrl())
	assert.Equal(t, "https://agg.example/signature", NewAggregatorClient("https://agg.example/", nil, l).SignatureUrl())
}
