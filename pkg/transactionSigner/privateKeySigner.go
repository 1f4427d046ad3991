package transactionSigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKeySigner implements TransactionSigner using a local ECDSA key
type PrivateKeySigner struct {
	*SigningContext
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
}

// ParseECDSAPrivateKey accepts a hex key with or without the 0x prefix
func ParseECDSAPrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	return crypto.HexToECDSA(trimmed)
}

func NewPrivateKeySigner(privateKeyHex string, signingContext *SigningContext) (*PrivateKeySigner, error) {
	privateKey, err := ParseECDSAPrivateKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to get public key ECDSA")
	}

	return &PrivateKeySigner{
		SigningContext: signingContext,
		privateKey:     privateKey,
		fromAddress:    crypto.PubkeyToAddress(*publicKeyECDSA),
	}, nil
}

// GetTransactOpts returns options that build and sign but do not send a transaction
func (pks *PrivateKeySigner) GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(pks.privateKey, pks.SigningContext.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.NoSend = true
	opts.Context = ctx
	return opts, nil
}

func (pks *PrivateKeySigner) SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return pks.estimateGasPriceAndLimitAndSendTx(ctx, tx, "SignAndSendTransaction")
}

func (pks *PrivateKeySigner) GetFromAddress() common.Address {
	return pks.fromAddress
}

func (pks *PrivateKeySigner) EstimateGasPriceAndLimit(ctx context.Context, tx *types.Transaction) (*GasEstimate, error) {
	return pks.SigningContext.EstimateGasPriceAndLimit(ctx, pks.fromAddress, tx)
}

func (pks *PrivateKeySigner) estimateGasPriceAndLimitAndSendTx(ctx context.Context, tx *types.Transaction, tag string) (*types.Receipt, error) {
	if tx.To() == nil {
		return nil, fmt.Errorf("transaction (%s) has no recipient", tag)
	}
	estimate, err := pks.EstimateGasPriceAndLimit(ctx, tx)
	if err != nil {
		return nil, err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(pks.privateKey, pks.SigningContext.chainID)
	if err != nil {
		return nil, fmt.Errorf("cannot create transactOpts: %w", err)
	}
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(tx.Nonce())
	opts.GasTipCap = estimate.GasTipCap
	opts.GasFeeCap = estimate.GasFeeCap
	opts.GasLimit = estimate.GasLimit

	client := pks.SigningContext.ethClient
	contract := bind.NewBoundContract(*tx.To(), abi.ABI{}, client, client, client)

	pks.SigningContext.logger.Sugar().Infow("Sending transaction",
		"tag", tag,
		"gasTipCap", estimate.GasTipCap,
		"gasFeeCap", estimate.GasFeeCap,
		"gasLimit", estimate.GasLimit,
	)

	sent, err := contract.RawTransact(opts, tx.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to send txn (%s): %w", tag, err)
	}

	pks.SigningContext.logger.Sugar().Infow("Sent transaction",
		"tag", tag,
		"txHash", sent.Hash().Hex(),
	)

	return pks.ensureTransactionEvaled(ctx, sent, tag)
}

// ensureTransactionEvaled waits for transaction to be mined and checks status
func (pks *PrivateKeySigner) ensureTransactionEvaled(ctx context.Context, tx *types.Transaction, tag string) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, pks.SigningContext.ethClient, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s tx %s: %w", ErrTransactionNotMined, tag, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		pks.SigningContext.logger.Sugar().Errorw("Transaction reverted",
			"tag", tag,
			"txHash", receipt.TxHash.Hex(),
		)
		return receipt, fmt.Errorf("%w: %s reverted in tx %s", ErrTransactionFailed, tag, receipt.TxHash.Hex())
	}
	pks.SigningContext.logger.Sugar().Infow("Transaction succeeded",
		"tag", tag,
		"txHash", receipt.TxHash.Hex(),
		"blockNumber", receipt.BlockNumber,
	)
	return receipt, nil
}
