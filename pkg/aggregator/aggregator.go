package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/aggregator/aggregatorConfig"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/aggregator/server"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/aggregator/taskSender"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/contractCaller/caller"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/metrics"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/operatorRegistry"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/aggregation"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/taskRegistry"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/taskRegistry/badger"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/taskRegistry/memory"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/transactionSigner"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Aggregator runs the signature server and the task sender against one task registry.
type Aggregator struct {
	config   *aggregatorConfig.AggregatorConfig
	logger   *zap.Logger
	tasks    taskRegistry.TaskStore
	engine   *aggregation.Engine
	server   *server.Server
	sender   *taskSender.TaskSender
	registry *prometheus.Registry
}

// AggregatorDeps are the chain and registry clients the aggregator is built on.
type AggregatorDeps struct {
	Tasks    taskRegistry.TaskStore
	Snapshot operatorRegistry.RegistrySnapshot
	Reader   contractCaller.ChainReader
	Writer   contractCaller.ChainWriter
	Verifier aggregation.PairingVerifier
}

func NewAggregatorWithDeps(cfg *aggregatorConfig.AggregatorConfig, deps *AggregatorDeps, logger *zap.Logger) *Aggregator {
	cfg.ApplyDefaults()

	tasks := deps.Tasks
	if tasks == nil {
		tasks = memory.NewInMemoryTaskStore()
	}
	verifier := deps.Verifier
	if verifier == nil {
		verifier = aggregation.BLSVerifier{}
	}

	reg := metrics.NewRegistry()
	m := metrics.NewAggregatorMetrics(reg)

	engine := aggregation.NewEngine(
		&aggregation.EngineConfig{
			ThresholdPercent:  cfg.ThresholdPercent,
			FinalizePolicy:    aggregation.FinalizePolicy(cfg.FinalizePolicy),
			SubmissionTimeout: time.Duration(cfg.SubmissionTimeoutSeconds) * time.Second,
			SubmissionRetries: cfg.SubmissionRetries,
		},
		tasks,
		deps.Snapshot,
		verifier,
		deps.Reader,
		deps.Writer,
		m,
		logger,
	)

	srv := server.NewServer(&server.ServerConfig{
		Address:        cfg.ServerAddress,
		AllowedOrigins: cfg.AllowedOrigins,
	}, engine, reg, logger)

	sender := taskSender.NewTaskSender(&taskSender.TaskSenderConfig{
		IntervalSeconds:       cfg.TaskIntervalSeconds,
		ThresholdPercent:      cfg.ThresholdPercent,
		ChallengeWindowBlocks: cfg.ChallengeWindowBlocks,
	}, deps.Writer, deps.Reader, tasks, engine, m, logger)

	return &Aggregator{
		config:   cfg,
		logger:   logger,
		tasks:    tasks,
		engine:   engine,
		server:   srv,
		sender:   sender,
		registry: reg,
	}
}

// NewAggregator dials the chain, loads the ECDSA signer and binds the contracts.
func NewAggregator(ctx context.Context, cfg *aggregatorConfig.AggregatorConfig, logger *zap.Logger) (*Aggregator, error) {
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
	logger.Sugar().Infow("Loaded aggregator ECDSA key", "address", signer.GetFromAddress().String())

	cc, err := caller.NewContractCaller(client, &cfg.Contracts, signer, logger)
	if err != nil {
		return nil, err
	}
	snapshot := operatorRegistry.NewSubgraphRegistrySnapshot(&operatorRegistry.SubgraphConfig{Url: cfg.SubgraphUrl}, logger)

	tasks, err := NewTaskStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	return NewAggregatorWithDeps(cfg, &AggregatorDeps{
		Tasks:    tasks,
		Snapshot: snapshot,
		Reader:   cc,
		Writer:   cc,
	}, logger), nil
}

// NewTaskStore opens the configured task registry. A nil config selects the in-memory store.
func NewTaskStore(cfg *aggregatorConfig.StorageConfig, logger *zap.Logger) (taskRegistry.TaskStore, error) {
	if cfg == nil || cfg.Type == "" || cfg.Type == aggregatorConfig.StorageTypeMemory {
		return memory.NewInMemoryTaskStore(), nil
	}
	if cfg.Type != aggregatorConfig.StorageTypeBadger {
		return nil, fmt.Errorf("unsupported task store type %q", cfg.Type)
	}
	store, err := badger.NewBadgerTaskStore(cfg.BadgerConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}
	logger.Sugar().Infow("Using badger task registry", "dir", cfg.BadgerConfig.Dir, "inMemory", cfg.BadgerConfig.InMemory)
	return store, nil
}

func (a *Aggregator) Engine() *aggregation.Engine {
	return a.engine
}

func (a *Aggregator) Server() *server.Server {
	return a.server
}

func (a *Aggregator) TaskSender() *taskSender.TaskSender {
	return a.sender
}

// Start blocks until ctx is cancelled or either sub-service fails.
func (a *Aggregator) Start(ctx context.Context) error {
	a.logger.Sugar().Infow("Starting aggregator...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Start(gctx)
	})
	g.Go(func() error {
		return a.sender.Start(gctx)
	})

	err := g.Wait()
	if closeErr := a.tasks.Close(); closeErr != nil {
		a.logger.Sugar().Warnw("Failed to close task registry", "error", closeErr)
	}
	a.logger.Sugar().Infow("Aggregator stopped")
	return err
}
