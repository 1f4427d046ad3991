package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/challenger"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/challenger/challengerConfig"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/logger"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/shutdown"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the challenger",
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

		svc, err := challenger.NewServiceFromConfig(ctx, Config, l)
		if err != nil {
			return fmt.Errorf("failed to create challenger: %w", err)
		}

		return runWithShutdown(ctx, cancel, svc.Start, l)
	},
}

func init() {
	runCmd.Flags().String(challengerConfig.EthRpcUrl, "http://localhost:8545", "Ethereum RPC URL")
	runCmd.Flags().Uint(challengerConfig.ChainId, 0, "Expected chain id, 0 to skip the check")
	runCmd.Flags().String(challengerConfig.TaskManagerAddress, "", "IncredibleSquaringTaskManager address")
	runCmd.Flags().String(challengerConfig.OperatorStateRetrieverAddress, "", "OperatorStateRetriever address")
	runCmd.Flags().String(challengerConfig.RegistryCoordinatorAddress, "", "RegistryCoordinator address")
	runCmd.Flags().String(challengerConfig.EcdsaPrivateKey, "", "Hex ECDSA private key used to send challenges")
	runCmd.Flags().String(challengerConfig.EcdsaPrivateKeyStorePath, "", "Path to an encrypted ECDSA keystore file")
	runCmd.Flags().Uint64(challengerConfig.FromBlock, 0, "First block to watch, 0 for the chain head")
	runCmd.Flags().Int(challengerConfig.PollIntervalSeconds, challengerConfig.DefaultPollIntervalSeconds, "Seconds between log polls")
	runCmd.Flags().Uint32(challengerConfig.ChallengeWindowBlocks, config.TaskChallengeWindowBlock, "Blocks a resolved task is kept")
	runCmd.Flags().String(challengerConfig.MetricsAddress, "", "Address to serve /metrics on, empty to disable")
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
		Config = challengerConfig.NewChallengerConfig()
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
		l.Sugar().Info("Shutting down challenger...")
		cancel()
	}, 5*time.Second, l)

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
