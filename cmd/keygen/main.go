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
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/keygen/keygenConfig"
)

var rootCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate and inspect operator BLS and ECDSA keys",
	Long:  `A tool for generating BN254 operator keys and ECDSA transaction keys, optionally encrypted as keystore files.`,
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
	Config     *keygenConfig.KeygenConfig
)

func init() {
	cobra.OnInitialize(initConfigIfPresent)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with key passwords, skipped when missing")

	initConfig()

	rootCmd.PersistentFlags().Bool(keygenConfig.Debug, false, `"true" or "false"`)
	rootCmd.PersistentFlags().String(keygenConfig.KeyType, "bls", "Key type: bls or ecdsa")
	rootCmd.PersistentFlags().String(keygenConfig.OutputDir, "./keys", "Directory to save generated keystores")
	rootCmd.PersistentFlags().String(keygenConfig.FilePrefix, "operator", "Prefix for generated keystore files")
	rootCmd.PersistentFlags().Bool(keygenConfig.Light, false, "Use fast scrypt parameters, for local devnets")

	// setup sub commands
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(infoCmd)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig() {
	viper.SetEnvPrefix(strings.TrimSuffix(keygenConfig.EnvPrefix, "_"))
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func initConfigIfPresent() {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Errorf("failed to load %s: %w", envFile, err))
	}

	if configFile == "" {
		Config = keygenConfig.NewKeygenConfig()
		return
	}

	fmt.Printf("Using config file: %s\n", configFile)
	data, err := os.ReadFile(configFile)
	if err != nil {
		panic(err)
	}
	c, err := keygenConfig.NewKeygenConfigFromYamlBytes(data)
	if err != nil {
		panic(err)
	}
	c.Password = viper.GetString(config.NormalizeFlagName(keygenConfig.Password))
	Config = c
}

func main() {
	Execute()
}
