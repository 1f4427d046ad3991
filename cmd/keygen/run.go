package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/keygen"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/keygen/keygenConfig"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/logger"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new key",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		if err := Config.Validate(); err != nil {
			return err
		}

		l.Sugar().Infow("Generating key", "keyType", Config.KeyType)

		scryptN, scryptP := keystore.StandardScryptN, keystore.StandardScryptP
		if Config.Light {
			scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
		}

		var out interface{}
		switch Config.KeyType {
		case keygen.KeyTypeEcdsa:
			info, err := keygen.GenerateEcdsaKeystore(Config.OutputDir, Config.FilePrefix, Config.Password, scryptN, scryptP)
			if err != nil {
				return err
			}
			l.Sugar().Infow("Generated ECDSA keystore", "address", info.Address, "file", info.File)
			out = info
		default:
			seed, err := Config.SeedBytes()
			if err != nil {
				return fmt.Errorf("invalid seed format: %w", err)
			}
			kp, err := keygen.GenerateBlsKeyPair(seed)
			if err != nil {
				return err
			}
			// without a password the private key is printed instead of saved
			info := keygen.DescribeBlsKeyPair(kp, Config.Password == "")
			if Config.Password != "" {
				path, err := keygen.WriteBlsKeystore(kp, Config.OutputDir, Config.FilePrefix, Config.Password, &bn254.KeystoreOptions{
					ScryptN: scryptN,
					ScryptP: scryptP,
				})
				if err != nil {
					return err
				}
				info.File = path
				l.Sugar().Infow("Generated BLS keystore", "operatorId", info.OperatorId, "file", path)
			}
			out = info
		}

		s, err := keygen.ToJson(out)
		if err != nil {
			return err
		}
		fmt.Println(s)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display the public information of a keystore file",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		if Config.KeyFile == "" {
			return fmt.Errorf("key file path is required")
		}
		l.Sugar().Infow("Reading key file", "file", Config.KeyFile)

		info, err := keygen.DescribeKeystore(Config.KeyFile, Config.Password)
		if err != nil {
			return err
		}
		s, err := keygen.ToJson(info)
		if err != nil {
			return err
		}
		fmt.Println(s)
		return nil
	},
}

func init() {
	generateCmd.Flags().String(keygenConfig.Seed, "", "Hex-encoded seed of at least 32 bytes for deterministic BLS keys")
	infoCmd.Flags().String(keygenConfig.KeyFile, "", "Path to the keystore file to display information about")
}

func initRunCmd(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(config.KebabToSnakeCase(f.Name)); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
	if configFile == "" {
		Config = keygenConfig.NewKeygenConfig()
	}
}
