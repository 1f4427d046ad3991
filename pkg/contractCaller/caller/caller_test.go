package caller

import (
	"context"
	"math/big"
	"testing"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zellular-xyz/incredible-squaring-avs-go/contracts"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/transactionSigner"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"go.uber.org/zap/zaptest"
)

var testContracts = &config.AvsContracts{
	RegistryCoordinator:    "0x0000000000000000000000000000000000000011",
	OperatorStateRetriever: "0x0000000000000000000000000000000000000022",
	TaskManager:            "0x0000000000000000000000000000000000000033",
}

// fakeBackend answers the calls bind.BoundContract makes when building a transaction.
type fakeBackend struct {
	EthClient
	txs          map[common.Hash]*ethTypes.Transaction
	lastQuery    geth.FilterQuery
	logs         []ethTypes.Log
	callResponse []byte
	lastCall     geth.CallMsg
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethTypes.Header, error) {
	return &ethTypes.Header{BaseFee: big.NewInt(1), Number: big.NewInt(10)}, nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call geth.CallMsg) (uint64, error) {
	return 100000, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call geth.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastCall = call
	return f.callResponse, nil
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*ethTypes.Transaction, bool, error) {
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, geth.NotFound
	}
	return tx, false, nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q geth.FilterQuery) ([]ethTypes.Log, error) {
	f.lastQuery = q
	return f.logs, nil
}

type mockSigner struct {
	mock.Mock
	opts *bind.TransactOpts
}

func (m *mockSigner) GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	return m.opts, nil
}

func (m *mockSigner) SignAndSendTransaction(ctx context.Context, tx *ethTypes.Transaction) (*ethTypes.Receipt, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(*ethTypes.Receipt), args.Error(1)
}

func (m *mockSigner) GetFromAddress() common.Address {
	return m.opts.From
}

func (m *mockSigner) EstimateGasPriceAndLimit(ctx context.Context, tx *ethTypes.Transaction) (*transactionSigner.GasEstimate, error) {
	return nil, nil
}

func newTestSigner(t *testing.T) *mockSigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(31337))
	require.NoError(t, err)
	opts.NoSend = true
	return &mockSigner{opts: opts}
}

func Test_SubmitAggregate(t *testing.T) {
	backend := &fakeBackend{}
	signer := newTestSigner(t)
	cc, err := NewContractCaller(backend, testContracts, signer, zaptest.NewLogger(t))
	require.NoError(t, err)

	kp, err := bn254.GenerateKeyPair()
	require.NoError(t, err)

	task := &types.Task{
		Index:                     4,
		NumberToBeSquared:         big.NewInt(7),
		TaskCreatedBlock:          90,
		QuorumNumbers:             []byte{0},
		QuorumThresholdPercentage: 70,
	}
	proof := &types.AggregateProof{
		Task:               task,
		TaskResponse:       types.TaskResponse{ReferenceTaskIndex: 4, NumberSquared: big.NewInt(49)},
		ReferenceBlock:     95,
		NonSignerPubkeysG1: []*bn254.G1Point{kp.PubkeyG1},
		QuorumApkG1:        kp.PubkeyG1,
		SignersApkG2:       kp.PubkeyG2,
		AggSignatureG1:     kp.SignMessage([32]byte{1}),
		Indices:            &types.CheckSignaturesIndices{},
	}

	var sent *ethTypes.Transaction
	signer.On("SignAndSendTransaction", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*ethTypes.Transaction) }).
		Return(&ethTypes.Receipt{Status: ethTypes.ReceiptStatusSuccessful, TxHash: common.HexToHash("0x1")}, nil)

	receipt, err := cc.SubmitAggregate(context.Background(), proof)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x1"), receipt.TxHash)

	require.NotNil(t, sent)
	assert.Equal(t, common.HexToAddress(testContracts.TaskManager), *sent.To())

	args, err := cc.LogParser().DecodeRespondToTaskCalldata(sent.Data())
	require.NoError(t, err)
	assert.Equal(t, uint32(90), args.Task.TaskCreatedBlock)
	assert.Equal(t, int64(49), args.TaskResponse.NumberSquared.Int64())
	require.Len(t, args.NonSignerStakesAndSignature.NonSignerPubkeys, 1)
	x, y := kp.PubkeyG1.BigInts()
	assert.Equal(t, 0, args.NonSignerStakesAndSignature.NonSignerPubkeys[0].X.Cmp(x))
	assert.Equal(t, 0, args.NonSignerStakesAndSignature.NonSignerPubkeys[0].Y.Cmp(y))

	_, err = cc.SubmitAggregate(context.Background(), &types.AggregateProof{})
	assert.Error(t, err)
}

func Test_CreateNewTask(t *testing.T) {
	backend := &fakeBackend{}
	signer := newTestSigner(t)
	cc, err := NewContractCaller(backend, testContracts, signer, zaptest.NewLogger(t))
	require.NoError(t, err)

	event := cc.taskManagerAbi.Events[contracts.EventNewTaskCreated]
	data, err := event.Inputs.NonIndexed().Pack(contracts.IIncredibleSquaringTaskManagerTask{
		NumberToBeSquared:         big.NewInt(12),
		TaskCreatedBlock:          10,
		QuorumNumbers:             []byte{0},
		QuorumThresholdPercentage: 70,
	})
	require.NoError(t, err)

	receipt := &ethTypes.Receipt{
		Status: ethTypes.ReceiptStatusSuccessful,
		TxHash: common.HexToHash("0x2"),
		Logs: []*ethTypes.Log{{
			Address:     common.HexToAddress(testContracts.TaskManager),
			Topics:      []common.Hash{event.ID, common.BigToHash(big.NewInt(8))},
			Data:        data,
			TxHash:      common.HexToHash("0x2"),
			BlockNumber: 10,
		}},
	}
	signer.On("SignAndSendTransaction", mock.Anything, mock.Anything).Return(receipt, nil)

	created, err := cc.CreateNewTask(context.Background(), big.NewInt(12), config.ThresholdPercent, []byte{config.DefaultQuorumNumber})
	require.NoError(t, err)
	assert.Equal(t, uint32(8), created.Task.Index)
	assert.Equal(t, int64(12), created.Task.NumberToBeSquared.Int64())
	signer.AssertExpectations(t)
}

func Test_RaiseChallenge_RequiresSigner(t *testing.T) {
	cc, err := NewContractCaller(&fakeBackend{}, testContracts, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = cc.RaiseChallenge(context.Background(), &contractCaller.RaiseChallengeParams{
		Task:         &types.Task{NumberToBeSquared: big.NewInt(1)},
		TaskResponse: types.TaskResponse{NumberSquared: big.NewInt(2)},
	})
	assert.ErrorContains(t, err, "no signer")
}

func Test_GetCheckSignaturesIndices(t *testing.T) {
	backend := &fakeBackend{}
	cc, err := NewContractCaller(backend, testContracts, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	retrieverAbi, err := contracts.OperatorStateRetrieverAbi()
	require.NoError(t, err)
	backend.callResponse, err = retrieverAbi.Methods[contracts.MethodGetCheckSignaturesIndices].Outputs.Pack(
		contracts.OperatorStateRetrieverCheckSignaturesIndices{
			NonSignerQuorumBitmapIndices: []uint32{1},
			QuorumApkIndices:             []uint32{2},
			TotalStakeIndices:            []uint32{3},
			NonSignerStakeIndices:        [][]uint32{{4}},
		},
	)
	require.NoError(t, err)

	nonSigner := types.OperatorId{0x01}
	indices, err := cc.GetCheckSignaturesIndices(context.Background(), 100, []byte{0}, []types.OperatorId{nonSigner})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, indices.NonSignerQuorumBitmapIndices)
	assert.Equal(t, []uint32{2}, indices.QuorumApkIndices)
	assert.Equal(t, []uint32{3}, indices.TotalStakeIndices)
	assert.Equal(t, [][]uint32{{4}}, indices.NonSignerStakeIndices)

	assert.Equal(t, common.HexToAddress(testContracts.OperatorStateRetriever), *backend.lastCall.To)
	method, err := retrieverAbi.MethodById(backend.lastCall.Data[:4])
	require.NoError(t, err)
	assert.Equal(t, contracts.MethodGetCheckSignaturesIndices, method.Name)
}

func Test_ReadHelpers(t *testing.T) {
	to := common.HexToAddress("0x5")
	tx := ethTypes.NewTx(&ethTypes.DynamicFeeTx{To: &to, Data: []byte{0xaa, 0xbb}})
	backend := &fakeBackend{
		txs:  map[common.Hash]*ethTypes.Transaction{tx.Hash(): tx},
		logs: []ethTypes.Log{{BlockNumber: 3}},
	}
	cc, err := NewContractCaller(backend, testContracts, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	input, err := cc.GetTransactionInput(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb}, input)

	_, err = cc.GetTransactionInput(context.Background(), common.HexToHash("0xff"))
	assert.Error(t, err)

	logs, err := cc.FilterTaskEvents(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, int64(1), backend.lastQuery.FromBlock.Int64())
	assert.Equal(t, int64(5), backend.lastQuery.ToBlock.Int64())
	assert.Equal(t, []common.Address{common.HexToAddress(testContracts.TaskManager)}, backend.lastQuery.Addresses)
}
