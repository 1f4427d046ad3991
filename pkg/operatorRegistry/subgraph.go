package operatorRegistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"go.uber.org/zap"
)

const (
	DefaultSubgraphUrl     = "http://localhost:8000/subgraphs/name/avs-subgraph"
	DefaultSubgraphTimeout = 10 * time.Second
)

const operatorsQuery = `{
	operators(block: { number: %d }) {
		id
		operatorId
		stake
		pubkeyG1_X
		pubkeyG1_Y
		pubkeyG2_X
		pubkeyG2_Y
	}
}`

type graphqlRequest struct {
	Query string `json:"query"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type operatorsResponse struct {
	Data struct {
		Operators []subgraphOperator `json:"operators"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// subgraphOperator mirrors the Operator entity; G2 coordinates are stored in EVM order [A1, A0].
type subgraphOperator struct {
	Id         string    `json:"id"`
	OperatorId string    `json:"operatorId"`
	Stake      string    `json:"stake"`
	PubkeyG1X  string    `json:"pubkeyG1_X"`
	PubkeyG1Y  string    `json:"pubkeyG1_Y"`
	PubkeyG2X  [2]string `json:"pubkeyG2_X"`
	PubkeyG2Y  [2]string `json:"pubkeyG2_Y"`
}

type SubgraphConfig struct {
	Url     string
	Timeout time.Duration
}

// SubgraphRegistrySnapshot queries the AVS subgraph for the operator set at a block.
type SubgraphRegistrySnapshot struct {
	config     *SubgraphConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewSubgraphRegistrySnapshot(cfg *SubgraphConfig, logger *zap.Logger) *SubgraphRegistrySnapshot {
	if cfg.Url == "" {
		cfg.Url = DefaultSubgraphUrl
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultSubgraphTimeout
	}
	return &SubgraphRegistrySnapshot{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (s *SubgraphRegistrySnapshot) GetOperatorSet(ctx context.Context, blockNumber uint32) (*types.OperatorSet, error) {
	body, err := json.Marshal(graphqlRequest{Query: fmt.Sprintf(operatorsQuery, blockNumber)})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build subgraph request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query subgraph at block %d", blockNumber)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read subgraph response")
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subgraph returned status %d: %s", res.StatusCode, string(raw))
	}

	var parsed operatorsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrapf(err, "unexpected subgraph response format: %s", string(raw))
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("subgraph query failed: %s", parsed.Errors[0].Message)
	}

	operators := make([]*types.OperatorInfo, 0, len(parsed.Data.Operators))
	for _, op := range parsed.Data.Operators {
		info, err := op.toOperatorInfo()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse operator %s", op.OperatorId)
		}
		operators = append(operators, info)
	}

	s.logger.Sugar().Debugw("Fetched operator set from subgraph",
		"blockNumber", blockNumber,
		"operators", len(operators),
	)
	return types.NewOperatorSet(blockNumber, operators), nil
}

func (op subgraphOperator) toOperatorInfo() (*types.OperatorInfo, error) {
	id, err := types.OperatorIdFromHex(op.OperatorId)
	if err != nil {
		return nil, fmt.Errorf("invalid operatorId: %w", err)
	}
	stake, ok := new(big.Int).SetString(op.Stake, 10)
	if !ok {
		return nil, fmt.Errorf("invalid stake %q", op.Stake)
	}
	g1, err := bn254.NewG1PointFromStrings(op.PubkeyG1X, op.PubkeyG1Y)
	if err != nil {
		return nil, fmt.Errorf("invalid G1 public key: %w", err)
	}
	g2, err := bn254.NewG2PointFromStrings(op.PubkeyG2X, op.PubkeyG2Y)
	if err != nil {
		return nil, fmt.Errorf("invalid G2 public key: %w", err)
	}
	info := &types.OperatorInfo{
		OperatorId: id,
		Stake:      stake,
		PubkeyG1:   g1,
		PubkeyG2:   g2,
	}
	// the entity id is the operator address
	if common.IsHexAddress(op.Id) {
		info.Address = common.HexToAddress(op.Id)
	}
	return info, nil
}
