package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/operator/operatorConfig"
)

var rootCmd = &cobra.Command{
	Use:   "operator",
	Short: "Answer squaring tasks with BLS signed responses",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var (
	configFile string
	envFile    string
	Config     *operatorConfig.OperatorConfig
)

func init() {
	cobra.OnInitialize(initConfigIfPresent)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with key passwords, skipped when missing")
	rootCmd.PersistentFlags().Bool(operatorConfig.Debug, false, `"true" or "false"`)

	viper.SetEnvPrefix(strings.TrimSuffix(operatorConfig.EnvPrefix, "_"))
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfigIfPresent() {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Errorf("failed to load %s: %w", envFile, err))
	}

	if configFile == "" {
		Config = operatorConfig.NewOperatorConfig()
		return
	}

	fmt.Printf("Using config file: %s\n", configFile)
	data, err := os.ReadFile(configFile)
	if err != nil {
		panic(err)
	}
	c, err := operatorConfig.NewOperatorConfigFromYamlBytes(data)
	if err != nil {
		panic(err)
	}
	c.BlsKeyPassword = viper.GetString(config.NormalizeFlagName(operatorConfig.BlsKeyPassword))
	if viper.GetBool(operatorConfig.Debug) {
		c.Debug = true
	}
	Config = c
}

func main() {
	Execute()
}
