package transactionSigner

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// FallbackGasTipCap is used when the node does not support eth_maxPriorityFeePerGas
var FallbackGasTipCap = big.NewInt(15000000000)

// ErrTransactionFailed is returned when a mined transaction has a failed status
var ErrTransactionFailed = errors.New("transaction failed")

// ErrTransactionNotMined is returned when a transaction was broadcast but its receipt could not be read.
var ErrTransactionNotMined = errors.New("transaction not mined")

// SigningContext provides common functionality for transaction signing
type SigningContext struct {
	ethClient EthClient
	logger    *zap.Logger
	chainID   *big.Int
}

// NewSigningContext creates a new signing context
func NewSigningContext(ctx context.Context, ethClient EthClient, logger *zap.Logger) (*SigningContext, error) {
	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &SigningContext{
		ethClient: ethClient,
		logger:    logger,
		chainID:   chainID,
	}, nil
}

func (sc *SigningContext) ChainID() *big.Int {
	return sc.chainID
}

// EstimateGasPriceAndLimit prices a transaction at 1.5x the latest base fee plus the suggested tip
// and pads the estimated gas limit.
func (sc *SigningContext) EstimateGasPriceAndLimit(ctx context.Context, from common.Address, tx *types.Transaction) (*GasEstimate, error) {
	gasTipCap, err := sc.ethClient.SuggestGasTipCap(ctx)
	if err != nil {
		sc.logger.Sugar().Debugw("Cannot get gasTipCap, using fallback",
			"error", err.Error(),
		)
		gasTipCap = FallbackGasTipCap
	}

	header, err := sc.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	gasFeeCap := new(big.Int).Add(overestimateBaseFee(baseFee), gasTipCap)

	// gas limits estimated inside RawTransact fail semi-regularly with out of gas, so estimate
	// here and add a buffer
	gasLimit, err := sc.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        tx.To(),
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Value:     nil,
		Data:      tx.Data(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	return &GasEstimate{
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		GasLimit:  addGasBuffer(gasLimit),
	}, nil
}

func overestimateBaseFee(baseFee *big.Int) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(baseFee, big.NewInt(3)), big.NewInt(2))
}

// addGasBuffer adds a 20% buffer to the gas limit
func addGasBuffer(gasLimit uint64) uint64 {
	return 6 * gasLimit / 5
}
