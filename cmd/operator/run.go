package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/logger"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/operator"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/operator/operatorConfig"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/shutdown"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the squaring operator",
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

		svc, err := operator.NewServiceFromConfig(ctx, Config, l)
		if err != nil {
			return fmt.Errorf("failed to create operator: %w", err)
		}

		return runWithShutdown(ctx, cancel, svc.Start, l)
	},
}

func init() {
	runCmd.Flags().String(operatorConfig.EthRpcUrl, "http://localhost:8545", "Ethereum RPC URL")
	runCmd.Flags().Uint(operatorConfig.ChainId, 0, "Expected chain id, 0 to skip the check")
	runCmd.Flags().String(operatorConfig.TaskManagerAddress, "", "IncredibleSquaringTaskManager address")
	runCmd.Flags().String(operatorConfig.AggregatorServerAddress, operatorConfig.DefaultAggregatorServerAddress, "Aggregator host:port or URL")
	runCmd.Flags().String(operatorConfig.BlsPrivateKey, "", "BN254 private key scalar, decimal or 0x hex")
	runCmd.Flags().String(operatorConfig.BlsPrivateKeyStorePath, "", "Path to an encrypted BLS keystore file")
	runCmd.Flags().Int(operatorConfig.TimesFailing, 0, "Percentage of tasks answered wrongly")
	runCmd.Flags().Uint64(operatorConfig.FromBlock, 0, "First block to watch, 0 for the chain head")
	runCmd.Flags().Int(operatorConfig.PollIntervalSeconds, operatorConfig.DefaultPollIntervalSeconds, "Seconds between log polls")
	runCmd.Flags().Int(operatorConfig.SubmitDelaySeconds, operatorConfig.DefaultSubmitDelaySeconds, "Seconds to wait before submitting a response")
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
		Config = operatorConfig.NewOperatorConfig()
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
		l.Sugar().Info("Shutting down operator...")
		cancel()
	}, 5*time.Second, l)

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
