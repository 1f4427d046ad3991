package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/aggregator"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/aggregator/aggregatorConfig"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/logger"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/shutdown"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the aggregator",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer l.Sync() //nolint:errcheck

		Config.ApplyDefaults()
		if err := Config.Validate(); err != nil {
			l.Sugar().Errorw("Invalid configuration", "error", err)
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		agg, err := aggregator.NewAggregator(ctx, Config, l)
		if err != nil {
			return fmt.Errorf("failed to create aggregator: %w", err)
		}

		return runWithShutdown(ctx, cancel, agg.Start, l)
	},
}

func init() {
	runCmd.Flags().String(aggregatorConfig.EthRpcUrl, "http://localhost:8545", "Ethereum RPC URL")
	runCmd.Flags().Uint(aggregatorConfig.ChainId, 0, "Expected chain id, 0 to skip the check")
	runCmd.Flags().String(aggregatorConfig.ServerAddress, aggregatorConfig.DefaultServerAddress, "Address the signature server listens on")
	runCmd.Flags().String(aggregatorConfig.SubgraphUrl, "", "AVS subgraph URL")
	runCmd.Flags().String(aggregatorConfig.TaskManagerAddress, "", "IncredibleSquaringTaskManager address")
	runCmd.Flags().String(aggregatorConfig.OperatorStateRetrieverAddress, "", "OperatorStateRetriever address")
	runCmd.Flags().String(aggregatorConfig.RegistryCoordinatorAddress, "", "RegistryCoordinator address")
	runCmd.Flags().String(aggregatorConfig.EcdsaPrivateKey, "", "Hex ECDSA private key used to send transactions")
	runCmd.Flags().String(aggregatorConfig.EcdsaPrivateKeyStorePath, "", "Path to an encrypted ECDSA keystore file")
	runCmd.Flags().Int(aggregatorConfig.TaskIntervalSeconds, aggregatorConfig.DefaultTaskIntervalSeconds, "Seconds between new tasks")
	runCmd.Flags().Uint32(aggregatorConfig.ThresholdPercent, config.ThresholdPercent, "Quorum threshold percentage for new tasks")
	runCmd.Flags().Uint32(aggregatorConfig.ChallengeWindowBlocks, config.TaskChallengeWindowBlock, "Blocks a task is kept after creation")
	runCmd.Flags().String(aggregatorConfig.FinalizePolicy, "", "finalize-before-submit or reopen-on-failure")
	runCmd.Flags().Int(aggregatorConfig.SubmissionTimeoutSeconds, aggregatorConfig.DefaultSubmissionTimeoutSeconds, "Seconds allowed to fetch indices and mine an aggregated response")
	runCmd.Flags().Int(aggregatorConfig.SubmissionRetries, aggregatorConfig.DefaultSubmissionRetries, "Retries for an aggregated response that could not be sent")
	runCmd.Flags().String(aggregatorConfig.TaskStoreType, "", "Task registry storage, memory or badger")
	runCmd.Flags().String(aggregatorConfig.TaskStoreDir, "", "BadgerDB directory for the badger task registry")
}

func initRunCmd(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s': %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(config.KebabToSnakeCase(f.Name)); err != nil {
			fmt.Printf("Failed to bind env '%s': %+v\n", f.Name, err)
		}
	})
	if configFile == "" {
		Config = aggregatorConfig.NewAggregatorConfig()
	}
}

func runWithShutdown(ctx context.Context, cancel context.CancelFunc, startFunc func(ctx context.Context) error, l *zap.Logger) error {
	done := make(chan bool)
	errCh := make(chan error, 1)
	go func() {
		errCh <- startFunc(ctx)
		close(done)
	}()

	shutdown.ListenForShutdown(shutdown.CreateGracefulShutdownChannel(), done, func() {
		l.Sugar().Info("Shutting down aggregator...")
		cancel()
	}, 5*time.Second, l)

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
