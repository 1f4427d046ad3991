package aggregatorClient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"go.uber.org/zap"
)

const DefaultRequestTimeout = 10 * time.Second

type SignaturePayload struct {
	X *big.Int `json:"X"`
	Y *big.Int `json:"Y"`
}

// SignedTaskResponse is the body of POST /signature.
type SignedTaskResponse struct {
	TaskIndex     uint32           `json:"task_index"`
	NumberSquared *big.Int         `json:"number_squared"`
	Signature     SignaturePayload `json:"signature"`
	BlockNumber   uint64           `json:"block_number"`
	OperatorId    string           `json:"operator_id"`
}

// NewSignedTaskResponse converts a signed response to its wire form.
func NewSignedTaskResponse(res *types.SignedResponse) *SignedTaskResponse {
	x, y := res.Signature.BigInts()
	return &SignedTaskResponse{
		TaskIndex:     res.TaskIndex,
		NumberSquared: res.NumberSquared,
		Signature:     SignaturePayload{X: x, Y: y},
		BlockNumber:   uint64(res.BlockNumber),
		OperatorId:    res.OperatorId.Hex(),
	}
}

type SignatureResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RejectedError is returned when the aggregator answers with a non-2xx status.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("aggregator rejected signature with status %d: %s", e.StatusCode, e.Message)
}

type AggregatorClient struct {
	baseUrl    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAggregatorClient targets the aggregator at address, either host:port or a full http(s) URL.
func NewAggregatorClient(address string, httpClient *http.Client, logger *zap.Logger) *AggregatorClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	baseUrl := strings.TrimSuffix(address, "/")
	if !strings.HasPrefix(baseUrl, "http://") && !strings.HasPrefix(baseUrl, "https://") {
		baseUrl = "http://" + baseUrl
	}
	return &AggregatorClient{
		baseUrl:    baseUrl,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *AggregatorClient) SignatureUrl() string {
	return c.baseUrl + "/signature"
}

func (c *AggregatorClient) SendSignedTaskResponse(ctx context.Context, payload *SignedTaskResponse) (*SignatureResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed task response: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SignatureUrl(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send signed task response: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregator response: %w", err)
	}

	var result SignatureResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			result.Error = strings.TrimSpace(string(raw))
		}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := result.Error
		if msg == "" {
			msg = result.Message
		}
		return &result, &RejectedError{StatusCode: res.StatusCode, Message: msg}
	}

	c.logger.Sugar().Debugw("Successfully sent task response to aggregator",
		"taskIndex", payload.TaskIndex,
		"message", result.Message,
	)
	return &result, nil
}
