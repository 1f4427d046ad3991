package challenger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/chainPoller/EVMChainPoller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/challenger/challengerConfig"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller/caller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/metrics"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/transactionSigner"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service runs a Challenger against a polled task manager and optionally serves its metrics.
type Service struct {
	challenger    *Challenger
	poller        chainPoller.IChainPoller
	metricsServer *metrics.Server
	logger        *zap.Logger
}

func NewService(challenger *Challenger, poller chainPoller.IChainPoller, metricsServer *metrics.Server, logger *zap.Logger) *Service {
	return &Service{
		challenger:    challenger,
		poller:        poller,
		metricsServer: metricsServer,
		logger:        logger,
	}
}

// NewServiceFromConfig dials the chain, loads the ECDSA signer and wires the poller and challenger.
func NewServiceFromConfig(ctx context.Context, cfg *challengerConfig.ChallengerConfig, logger *zap.Logger) (*Service, error) {
	cfg.ApplyDefaults()

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

	signer, err := transactionSigner.CreateSigner(ctx, cfg.SignerConfig(), client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction signer: %w", err)
	}
	logger.Sugar().Infow("Loaded challenger ECDSA key", "address", signer.GetFromAddress().String())

	cc, err := caller.NewContractCaller(client, &cfg.Contracts, signer, logger)
	if err != nil {
		return nil, err
	}

	poller := EVMChainPoller.NewEVMChainPoller(cc, cc.LogParser(), &EVMChainPoller.EVMChainPollerConfig{
		PollingInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
	}, logger)

	reg := metrics.NewRegistry()
	var metricsServer *metrics.Server
	if cfg.MetricsAddress != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddress, reg, logger)
	}

	runCfg := DefaultChallengerConfig()
	runCfg.ChallengeWindowBlocks = cfg.ChallengeWindowBlocks
	runCfg.FromBlock = cfg.FromBlock

	c := NewChallenger(runCfg, cc, cc, cc.LogParser(), metrics.NewChallengerMetrics(reg), logger)
	return NewService(c, poller, metricsServer, logger), nil
}

func (s *Service) Challenger() *Challenger {
	return s.challenger
}

// Start blocks until ctx is cancelled or the metrics server fails.
func (s *Service) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.challenger.Start(gctx, s.poller)
	})
	if s.metricsServer != nil {
		g.Go(func() error {
			return s.metricsServer.Start(gctx)
		})
	}
	return g.Wait()
}
