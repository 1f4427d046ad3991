package challengerConfig

import (
	"encoding/json"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/transactionSigner"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"
)

const (
	EnvPrefix = "CHALLENGER_"

	Debug                         = "debug"
	EthRpcUrl                     = "eth-rpc-url"
	ChainId                       = "chain-id"
	TaskManagerAddress            = "task-manager-address"
	OperatorStateRetrieverAddress = "operator-state-retriever-address"
	RegistryCoordinatorAddress    = "avs-registry-coordinator-address"
	EcdsaPrivateKey               = "ecdsa-private-key"
	EcdsaPrivateKeyStorePath      = "ecdsa-private-key-store-path"
	EcdsaKeyPassword              = "ecdsa-key-password"
	FromBlock                     = "from-block"
	PollIntervalSeconds           = "poll-interval-seconds"
	ChallengeWindowBlocks         = "task-challenge-window-block"
	MetricsAddress                = "metrics-address"

	DefaultPollIntervalSeconds = 3
)

type ChallengerConfig struct {
	Debug                    bool                `json:"debug" yaml:"debug"`
	EthRpcUrl                string              `json:"ethRpcUrl" yaml:"ethRpcUrl"`
	ChainId                  config.ChainId      `json:"chainId" yaml:"chainId"`
	Contracts                config.AvsContracts `json:"contracts" yaml:"contracts"`
	EcdsaPrivateKey          string              `json:"ecdsaPrivateKey" yaml:"ecdsaPrivateKey"`
	EcdsaPrivateKeyStorePath string              `json:"ecdsaPrivateKeyStorePath" yaml:"ecdsaPrivateKeyStorePath"`
	// EcdsaKeyPassword is only read from the environment
	EcdsaKeyPassword      string `json:"-" yaml:"-"`
	FromBlock             uint64 `json:"fromBlock" yaml:"fromBlock"`
	PollIntervalSeconds   int    `json:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
	ChallengeWindowBlocks uint32 `json:"taskChallengeWindowBlock" yaml:"taskChallengeWindowBlock"`
	// MetricsAddress serves /metrics when set
	MetricsAddress string `json:"metricsAddress" yaml:"metricsAddress"`
}

func (cc *ChallengerConfig) ApplyDefaults() {
	if cc.PollIntervalSeconds == 0 {
		cc.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if cc.ChallengeWindowBlocks == 0 {
		cc.ChallengeWindowBlocks = config.TaskChallengeWindowBlock
	}
}

func (cc *ChallengerConfig) Validate() error {
	var allErrors field.ErrorList
	if cc.EthRpcUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("ethRpcUrl"), "ethRpcUrl is required"))
	}
	if cc.ChainId != 0 && !slices.Contains(config.SupportedChainIds, cc.ChainId) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainId"), cc.ChainId, "unsupported chainId"))
	}
	allErrors = append(allErrors, cc.Contracts.Validate(field.NewPath("contracts"))...)
	if cc.EcdsaPrivateKey == "" && cc.EcdsaPrivateKeyStorePath == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("ecdsaPrivateKey"), "either ecdsaPrivateKey or ecdsaPrivateKeyStorePath is required"))
	}
	if cc.PollIntervalSeconds < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("pollIntervalSeconds"), cc.PollIntervalSeconds, "must be positive"))
	}
	return allErrors.ToAggregate()
}

func (cc *ChallengerConfig) SignerConfig() *transactionSigner.SignerConfig {
	if cc.EcdsaPrivateKeyStorePath != "" {
		return &transactionSigner.SignerConfig{
			Type:             transactionSigner.SignerTypeKeystore,
			KeystorePath:     cc.EcdsaPrivateKeyStorePath,
			KeystorePassword: cc.EcdsaKeyPassword,
		}
	}
	return &transactionSigner.SignerConfig{
		Type:       transactionSigner.SignerTypePrivateKey,
		PrivateKey: cc.EcdsaPrivateKey,
	}
}

func NewChallengerConfigFromJsonBytes(data []byte) (*ChallengerConfig, error) {
	var c ChallengerConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal ChallengerConfig from JSON")
	}
	return &c, nil
}

func NewChallengerConfigFromYamlBytes(data []byte) (*ChallengerConfig, error) {
	var c ChallengerConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal ChallengerConfig from YAML")
	}
	return &c, nil
}

func NewChallengerConfig() *ChallengerConfig {
	return &ChallengerConfig{
		Debug:     viper.GetBool(config.NormalizeFlagName(Debug)),
		EthRpcUrl: viper.GetString(config.NormalizeFlagName(EthRpcUrl)),
		ChainId:   config.ChainId(viper.GetUint(config.NormalizeFlagName(ChainId))),
		Contracts: config.AvsContracts{
			RegistryCoordinator:    viper.GetString(config.NormalizeFlagName(RegistryCoordinatorAddress)),
			OperatorStateRetriever: viper.GetString(config.NormalizeFlagName(OperatorStateRetrieverAddress)),
			TaskManager:            viper.GetString(config.NormalizeFlagName(TaskManagerAddress)),
		},
		EcdsaPrivateKey:          viper.GetString(config.NormalizeFlagName(EcdsaPrivateKey)),
		EcdsaPrivateKeyStorePath: viper.GetString(config.NormalizeFlagName(EcdsaPrivateKeyStorePath)),
		EcdsaKeyPassword:         viper.GetString(config.NormalizeFlagName(EcdsaKeyPassword)),
		FromBlock:                viper.GetUint64(config.NormalizeFlagName(FromBlock)),
		PollIntervalSeconds:      viper.GetInt(config.NormalizeFlagName(PollIntervalSeconds)),
		ChallengeWindowBlocks:    viper.GetUint32(config.NormalizeFlagName(ChallengeWindowBlocks)),
		MetricsAddress:           viper.GetString(config.NormalizeFlagName(MetricsAddress)),
	}
}
