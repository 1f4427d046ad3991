package operator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller/EVMChainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/clients/aggregatorClient"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller/caller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/operator/operatorConfig"
	"go.uber.org/zap"
)

// Service couples an Operator with the poller it listens on.
type Service struct {
	operator *Operator
	poller   chainPoller.IChainPoller
}

// NewServiceFromConfig loads the BLS key, dials the chain with a read-only caller and targets the aggregator.
func NewServiceFromConfig(ctx context.Context, cfg *operatorConfig.OperatorConfig, logger *zap.Logger) (*Service, error) {
	cfg.ApplyDefaults()

	keyPair, err := LoadBlsKeyPair(cfg.BlsPrivateKey, cfg.BlsPrivateKeyStorePath, cfg.BlsKeyPassword)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.EthRpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.EthRpcUrl, err)
	}
	if cfg.ChainId != 0 {
		chainId, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read chain id: %w", err)
		}
		if chainId.Cmp(new(big.Int).SetUint64(uint64(cfg.ChainId))) != 0 {
			return nil, fmt.Errorf("rpc chain id %s does not match configured chain id %d", chainId.String(), cfg.ChainId)
		}
	}

	cc, err := caller.NewContractCaller(client, cfg.Contracts(), nil, logger)
	if err != nil {
		return nil, err
	}
	poller := EVMChainPoller.NewEVMChainPoller(cc, cc.LogParser(), &EVMChainPoller.EVMChainPollerConfig{
		PollingInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
	}, logger)

	runCfg := DefaultOperatorConfig()
	runCfg.TimesFailing = cfg.TimesFailing
	runCfg.SubmitDelay = time.Duration(cfg.SubmitDelaySeconds) * time.Second
	runCfg.FromBlock = cfg.FromBlock

	op := NewOperator(runCfg, keyPair, cc, aggregatorClient.NewAggregatorClient(cfg.AggregatorServerAddress, nil, logger), logger)
	logger.Sugar().Infow("Loaded operator BLS key",
		"operatorId", op.OperatorId().Hex(),
		"aggregator", cfg.AggregatorServerAddress,
	)
	return &Service{operator: op, poller: poller}, nil
}

func (s *Service) Operator() *Operator {
	return s.operator
}

func (s *Service) Start(ctx context.Context) error {
	return s.operator.Start(ctx, s.poller)
}
