package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/metrics"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/aggregation"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/util"
	"go.uber.org/zap/zaptest"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, res *types.SignedResponse) (*aggregation.Outcome, error) {
	args := m.Called(ctx, res)
	outcome, _ := args.Get(0).(*aggregation.Outcome)
	return outcome, args.Error(1)
}

func signedBody(t *testing.T, kp *bn254.KeyPair, taskIndex uint32, answer *big.Int) map[string]interface{} {
	t.Helper()
	digest, err := util.TaskResponseDigest(taskIndex, answer)
	require.NoError(t, err)
	sig := kp.SignMessage(digest)
	x, y := sig.BigInts()
	return map[string]interface{}{
		"task_index":     taskIndex,
		"number_squared": json.RawMessage(answer.String()),
		"signature":      map[string]interface{}{"X": json.RawMessage(x.String()), "Y": y.String()},
		"block_number":   105,
		"operator_id":    types.OperatorIdFromG1(kp.PubkeyG1).Hex(),
	}
}

func post(t *testing.T, handler http.Handler, body interface{}) (*httptest.ResponseRecorder, *SignatureResponse) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, "/signature", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var res SignatureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return rec, &res
}

func Test_SignatureEndpoint(t *testing.T) {
	l := zaptest.NewLogger(t)
	kp, err := bn254.GenerateKeyPair()
	require.NoError(t, err)

	t.Run("accepted below threshold", func(t *testing.T) {
		sub := &mockSubmitter{}
		sub.On("Submit", mock.Anything, mock.MatchedBy(func(r *types.SignedResponse) bool {
			return r.TaskIndex == 1 && r.NumberSquared.Int64() == 49 && r.BlockNumber == 105 &&
				r.OperatorId == types.OperatorIdFromG1(kp.PubkeyG1)
		})).Return(&aggregation.Outcome{Kind: aggregation.OutcomeAccepted}, nil).Once()

		s := NewServer(&ServerConfig{}, sub, nil, l)
		rec, res := post(t, s.Handler(), signedBody(t, kp, 1, big.NewInt(49)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, res.Success)
		assert.Equal(t, messageAccepted, res.Message)
		assert.NotEmpty(t, rec.Header().Get(RequestIdHeader))
		sub.AssertExpectations(t)
	})

	t.Run("threshold reached", func(t *testing.T) {
		sub := &mockSubmitter{}
		sub.On("Submit", mock.Anything, mock.Anything).
			Return(&aggregation.Outcome{Kind: aggregation.OutcomeThresholdReached}, nil).Once()

		s := NewServer(&ServerConfig{}, sub, nil, l)
		rec, res := post(t, s.Handler(), signedBody(t, kp, 1, big.NewInt(49)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, res.Success)
		assert.Equal(t, messageThresholdReached, res.Message)
	})

	t.Run("engine rejections map to status codes", func(t *testing.T) {
		cases := []struct {
			kind   types.ErrorKind
			status int
		}{
			{types.ErrorKindTaskNotFound, http.StatusBadRequest},
			{types.ErrorKindDuplicateSubmission, http.StatusBadRequest},
			{types.ErrorKindSignatureInvalid, http.StatusBadRequest},
			{types.ErrorKindAlreadyFinalized, http.StatusBadRequest},
			{types.ErrorKindOperatorNotRegistered, http.StatusBadRequest},
			{types.ErrorKindExternalDataUnavailable, http.StatusInternalServerError},
			{types.ErrorKindSubmissionFailed, http.StatusInternalServerError},
		}
		for _, tc := range cases {
			t.Run(tc.kind.String(), func(t *testing.T) {
				sub := &mockSubmitter{}
				sub.On("Submit", mock.Anything, mock.Anything).
					Return(nil, &aggregation.Error{Kind: tc.kind, TaskIndex: 1, Err: fmt.Errorf("boom")}).Once()

				s := NewServer(&ServerConfig{}, sub, nil, l)
				rec, res := post(t, s.Handler(), signedBody(t, kp, 1, big.NewInt(49)))

				assert.Equal(t, tc.status, rec.Code)
				assert.False(t, res.Success)
				assert.Equal(t, tc.kind.Message(), res.Error)
				assert.Empty(t, res.Message)
			})
		}
	})

	t.Run("unclassified errors are internal", func(t *testing.T) {
		sub := &mockSubmitter{}
		sub.On("Submit", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("unexpected")).Once()

		s := NewServer(&ServerConfig{}, sub, nil, l)
		rec, res := post(t, s.Handler(), signedBody(t, kp, 1, big.NewInt(49)))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "500. Internal server error", res.Error)
	})

	t.Run("malformed requests never reach the engine", func(t *testing.T) {
		sub := &mockSubmitter{}
		s := NewServer(&ServerConfig{}, sub, nil, l)

		bad := signedBody(t, kp, 1, big.NewInt(49))
		bad["operator_id"] = "0xnothex"
		missing := signedBody(t, kp, 1, big.NewInt(49))
		delete(missing, "number_squared")
		offCurve := signedBody(t, kp, 1, big.NewInt(49))
		offCurve["signature"] = map[string]interface{}{"X": 1, "Y": 1}
		negative := signedBody(t, kp, 1, big.NewInt(49))
		negative["task_index"] = -1

		for name, body := range map[string]interface{}{
			"not json":    "{not json",
			"operator id": bad,
			"missing":     missing,
			"off curve":   offCurve,
			"negative":    negative,
		} {
			rec, res := post(t, s.Handler(), body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, name)
			assert.False(t, res.Success, name)
			assert.Equal(t, types.ErrorKindMalformedRequest.Message(), res.Error, name)
		}
		sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("only POST is routed", func(t *testing.T) {
		s := NewServer(&ServerConfig{}, &mockSubmitter{}, nil, l)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signature", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func Test_RequestDecoding(t *testing.T) {
	big256, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	body := fmt.Sprintf(`{"task_index":"3","number_squared":%s,"signature":{"X":"0x01","Y":"0x02"},"block_number":9,"operator_id":"0x01"}`, big256.String())
	req, err := decodeSignatureRequest([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, 0, req.NumberSquared.Cmp(big256))
	assert.Equal(t, int64(3), req.TaskIndex.Int64())
	assert.Equal(t, int64(2), req.Signature.Y.Int64())

	// (1, 2) is the G1 generator
	signed, err := req.ToSignedResponse()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), signed.TaskIndex)
	assert.Equal(t, uint32(9), signed.BlockNumber)

	tooLarge := `{"task_index":4294967296,"number_squared":1,"signature":{"X":1,"Y":2},"block_number":1,"operator_id":"0x01"}`
	req, err = decodeSignatureRequest([]byte(tooLarge))
	require.NoError(t, err)
	_, err = req.ToSignedResponse()
	assert.Error(t, err)

	_, err = decodeSignatureRequest([]byte(`{"task_index":1.5}`))
	assert.Error(t, err)
}

func Test_MetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAggregatorMetrics(reg)
	m.ObserveSignature(aggregation.OutcomeAccepted.String())

	s := NewServer(&ServerConfig{}, &mockSubmitter{}, reg, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "incredible_squaring_aggregator_signatures_total")
}
