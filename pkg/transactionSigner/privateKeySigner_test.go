package transactionSigner

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeEthClient overrides the calls gas estimation makes; anything else panics on the nil embed.
type fakeEthClient struct {
	EthClient
	tipCap    *big.Int
	tipErr    error
	baseFee   *big.Int
	gas       uint64
	lastCall  ethereum.CallMsg
	chainID   *big.Int
	chainErr  error
	headerErr error
}

func (f *fakeEthClient) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, f.chainErr
}

func (f *fakeEthClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.tipCap, f.tipErr
}

func (f *fakeEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if f.headerErr != nil {
		return nil, f.headerErr
	}
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakeEthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	f.lastCall = call
	return f.gas, nil
}

func newTestKeyHex(t *testing.T) (string, common.Address) {
	privateKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	return "0x" + common.Bytes2Hex(crypto.FromECDSA(privateKey)), crypto.PubkeyToAddress(privateKey.PublicKey)
}

func TestNewPrivateKeySigner(t *testing.T) {
	signingContext := &SigningContext{
		logger:  zaptest.NewLogger(t),
		chainID: big.NewInt(1337),
	}

	keyHex, address := newTestKeyHex(t)

	signer, err := NewPrivateKeySigner(keyHex, signingContext)
	require.NoError(t, err)
	assert.Equal(t, address, signer.GetFromAddress())

	// the 0x prefix is optional
	signer, err = NewPrivateKeySigner(keyHex[2:], signingContext)
	require.NoError(t, err)
	assert.Equal(t, address, signer.GetFromAddress())

	_, err = NewPrivateKeySigner("invalid-key", signingContext)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse private key")

	var _ TransactionSigner = signer
}

func TestPrivateKeySigner_GetTransactOpts(t *testing.T) {
	signingContext := &SigningContext{
		logger:  zaptest.NewLogger(t),
		chainID: big.NewInt(1337),
	}
	keyHex, address := newTestKeyHex(t)

	signer, err := NewPrivateKeySigner(keyHex, signingContext)
	require.NoError(t, err)

	ctx := context.Background()
	opts, err := signer.GetTransactOpts(ctx)
	require.NoError(t, err)

	assert.Equal(t, address, opts.From)
	assert.True(t, opts.NoSend)
	assert.Equal(t, ctx, opts.Context)

	// opts sign for the configured chain
	to := common.HexToAddress("0x1")
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(1337), To: &to, Gas: 21000})
	signed, err := opts.Signer(address, tx)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), signed)
	require.NoError(t, err)
	assert.Equal(t, address, sender)
}

func TestPrivateKeySigner_EstimateGasPriceAndLimit(t *testing.T) {
	client := &fakeEthClient{
		tipCap:  big.NewInt(2),
		baseFee: big.NewInt(100),
		gas:     50000,
		chainID: big.NewInt(31337),
	}
	signingContext, err := NewSigningContext(context.Background(), client, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, int64(31337), signingContext.ChainID().Int64())

	keyHex, address := newTestKeyHex(t)
	signer, err := NewPrivateKeySigner(keyHex, signingContext)
	require.NoError(t, err)

	to := common.HexToAddress("0x2")
	tx := types.NewTx(&types.DynamicFeeTx{To: &to, Data: []byte{1, 2, 3}})

	estimate, err := signer.EstimateGasPriceAndLimit(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), estimate.GasTipCap.Int64())
	assert.Equal(t, int64(152), estimate.GasFeeCap.Int64())
	assert.Equal(t, uint64(60000), estimate.GasLimit)
	assert.Equal(t, address, client.lastCall.From)
	assert.Equal(t, []byte{1, 2, 3}, client.lastCall.Data)

	t.Run("falls back when tip cap is unsupported", func(t *testing.T) {
		client.tipErr = errors.New("method not found")
		estimate, err := signer.EstimateGasPriceAndLimit(context.Background(), tx)
		require.NoError(t, err)
		assert.Equal(t, FallbackGasTipCap, estimate.GasTipCap)
		client.tipErr = nil
	})

	t.Run("header failure", func(t *testing.T) {
		client.headerErr = errors.New("boom")
		_, err := signer.EstimateGasPriceAndLimit(context.Background(), tx)
		assert.Error(t, err)
		client.headerErr = nil
	})
}

func TestCreateSigner(t *testing.T) {
	client := &fakeEthClient{chainID: big.NewInt(1)}
	keyHex, address := newTestKeyHex(t)

	signer, err := CreateSigner(context.Background(), &SignerConfig{Type: SignerTypePrivateKey, PrivateKey: keyHex}, client, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, address, signer.GetFromAddress())

	_, err = CreateSigner(context.Background(), &SignerConfig{Type: "web3signer"}, client, zaptest.NewLogger(t))
	assert.Error(t, err)

	client.chainErr = errors.New("unreachable")
	_, err = CreateSigner(context.Background(), &SignerConfig{PrivateKey: keyHex}, client, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func Test_addGasBuffer(t *testing.T) {
	assert.Equal(t, uint64(120), addGasBuffer(100))
	assert.Equal(t, uint64(0), addGasBuffer(0))
}
