package keygenConfig

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/keygen"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"
)

const (
	EnvPrefix = "KEYGEN_"

	Debug      = "debug"
	KeyType    = "key-type"
	OutputDir  = "output-dir"
	FilePrefix = "file-prefix"
	KeyFile    = "key-file"
	Seed       = "seed"
	Password   = "password"
	Light      = "light"
)

// KeygenConfig represents the configuration for the key generation utility
type KeygenConfig struct {
	Debug      bool   `json:"debug" yaml:"debug"`
	KeyType    string `json:"keyType" yaml:"keyType"`
	OutputDir  string `json:"outputDir" yaml:"outputDir"`
	FilePrefix string `json:"filePrefix" yaml:"filePrefix"`
	KeyFile    string `json:"keyFile" yaml:"keyFile"`
	Seed       string `json:"seed" yaml:"seed"`
	// Password encrypts written keystores; an empty password prints the key instead of saving it
	Password string `json:"-" yaml:"-"`
	// Light uses the fast scrypt parameters
	Light bool `json:"light" yaml:"light"`
}

func (kc *KeygenConfig) Validate() error {
	var allErrors field.ErrorList

	if kc.KeyType != keygen.KeyTypeBls && kc.KeyType != keygen.KeyTypeEcdsa {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("keyType"), kc.KeyType, []string{keygen.KeyTypeBls, keygen.KeyTypeEcdsa}))
	}
	if kc.Password != "" && kc.OutputDir == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("outputDir"), "outputDir is required to write a keystore"))
	}
	if kc.KeyType == keygen.KeyTypeEcdsa && kc.Password == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("password"), "ECDSA keys are only written as keystores"))
	}
	if kc.Seed != "" {
		if kc.KeyType != keygen.KeyTypeBls {
			allErrors = append(allErrors, field.Invalid(field.NewPath("seed"), "<redacted>", "seed is only supported for bls keys"))
		} else if seed, err := kc.SeedBytes(); err != nil || len(seed) < 32 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("seed"), "<redacted>", "must be at least 32 hex encoded bytes"))
		}
	}

	return allErrors.ToAggregate()
}

func (kc *KeygenConfig) SeedBytes() ([]byte, error) {
	if kc.Seed == "" {
		return nil, nil
	}
	return hex.DecodeString(strings.TrimPrefix(kc.Seed, "0x"))
}

// NewKeygenConfig creates a new KeygenConfig with values from viper
func NewKeygenConfig() *KeygenConfig {
	return &KeygenConfig{
		Debug:      viper.GetBool(config.NormalizeFlagName(Debug)),
		KeyType:    viper.GetString(config.NormalizeFlagName(KeyType)),
		OutputDir:  viper.GetString(config.NormalizeFlagName(OutputDir)),
		FilePrefix: viper.GetString(config.NormalizeFlagName(FilePrefix)),
		KeyFile:    viper.GetString(config.NormalizeFlagName(KeyFile)),
		Seed:       viper.GetString(config.NormalizeFlagName(Seed)),
		Password:   viper.GetString(config.NormalizeFlagName(Password)),
		Light:      viper.GetBool(config.NormalizeFlagName(Light)),
	}
}

func NewKeygenConfigFromYamlBytes(data []byte) (*KeygenConfig, error) {
	var kc *KeygenConfig
	if err := yaml.Unmarshal(data, &kc); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal KeygenConfig from YAML")
	}
	return kc, nil
}

func NewKeygenConfigFromJsonBytes(data []byte) (*KeygenConfig, error) {
	var kc *KeygenConfig
	if err := json.Unmarshal(data, &kc); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal KeygenConfig from JSON")
	}
	return kc, nil
}
