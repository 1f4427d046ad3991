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
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/challenger/challengerConfig"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "challenger",
	Short: "Watch task responses and challenge wrong answers",
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
	Config     *challengerConfig.ChallengerConfig
)

func init() {
	cobra.OnInitialize(initConfigIfPresent)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with key passwords, skipped when missing")
	rootCmd.PersistentFlags().Bool(challengerConfig.Debug, false, `"true" or "false"`)

	viper.SetEnvPrefix(strings.TrimSuffix(challengerConfig.EnvPrefix, "_"))
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
		Config = challengerConfig.NewChallengerConfig()
		return
	}

	fmt.Printf("Using config file: %s\n", configFile)
	data, err := os.ReadFile(configFile)
	if err != nil {
		panic(err)
	}
	c, err := challengerConfig.NewChallengerConfigFromYamlBytes(data)
	if err != nil {
		panic(err)
	}
	c.EcdsaKeyPassword = viper.GetString(config.NormalizeFlagName(challengerConfig.EcdsaKeyPassword))
	if viper.GetBool(challengerConfig.Debug) {
		c.Debug = true
	}
	Config = c
}

func main() {
	Execute()
}
