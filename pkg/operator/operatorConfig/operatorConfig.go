package operatorConfig

import (
	"encoding/json"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"
)

const (
	EnvPrefix = "OPERATOR_"

	Debug                   = "debug"
	EthRpcUrl               = "eth-rpc-url"
	ChainId                 = "chain-id"
	TaskManagerAddress      = "task-manager-address"
	AggregatorServerAddress = "aggregator-server-ip-port-address"
	BlsPrivateKey           = "bls-private-key"
	BlsPrivateKeyStorePath  = "bls-private-key-store-path"
	BlsKeyPassword          = "bls-key-password"
	TimesFailing            = "times-failing"
	FromBlock               = "from-block"
	PollIntervalSeconds     = "poll-interval-seconds"
	SubmitDelaySeconds      = "submit-delay-seconds"

	DefaultAggregatorServerAddress = "localhost:8090"
	DefaultPollIntervalSeconds     = 3
	DefaultSubmitDelaySeconds      = 3
)

type OperatorConfig struct {
	Debug                   bool           `json:"debug" yaml:"debug"`
	EthRpcUrl               string         `json:"ethRpcUrl" yaml:"ethRpcUrl"`
	ChainId                 config.ChainId `json:"chainId" yaml:"chainId"`
	TaskManagerAddress      string         `json:"taskManagerAddress" yaml:"taskManagerAddress"`
	AggregatorServerAddress string         `json:"aggregatorServerIpPortAddress" yaml:"aggregatorServerIpPortAddress"`
	BlsPrivateKey           string         `json:"blsPrivateKey" yaml:"blsPrivateKey"`
	BlsPrivateKeyStorePath  string         `json:"blsPrivateKeyStorePath" yaml:"blsPrivateKeyStorePath"`
	// BlsKeyPassword is only read from the environment
	BlsKeyPassword string `json:"-" yaml:"-"`
	// TimesFailing is the percentage of tasks answered with a wrong result
	TimesFailing        int    `json:"timesFailing" yaml:"timesFailing"`
	FromBlock           uint64 `json:"fromBlock" yaml:"fromBlock"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
	SubmitDelaySeconds  int    `json:"submitDelaySeconds" yaml:"submitDelaySeconds"`
}

func (oc *OperatorConfig) ApplyDefaults() {
	if oc.AggregatorServerAddress == "" {
		oc.AggregatorServerAddress = DefaultAggregatorServerAddress
	}
	if oc.PollIntervalSeconds == 0 {
		oc.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if oc.SubmitDelaySeconds == 0 {
		oc.SubmitDelaySeconds = DefaultSubmitDelaySeconds
	}
}

func (oc *OperatorConfig) Validate() error {
	var allErrors field.ErrorList
	if oc.EthRpcUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("ethRpcUrl"), "ethRpcUrl is required"))
	}
	if oc.ChainId != 0 && !slices.Contains(config.SupportedChainIds, oc.ChainId) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainId"), oc.ChainId, "unsupported chainId"))
	}
	if !common.IsHexAddress(oc.TaskManagerAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("taskManagerAddress"), oc.TaskManagerAddress, "must be a hex address"))
	}
	if oc.BlsPrivateKey == "" && oc.BlsPrivateKeyStorePath == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("blsPrivateKey"), "either blsPrivateKey or blsPrivateKeyStorePath is required"))
	}
	if oc.TimesFailing < 0 || oc.TimesFailing > 100 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("timesFailing"), oc.TimesFailing, "must be between 0 and 100"))
	}
	if oc.PollIntervalSeconds < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("pollIntervalSeconds"), oc.PollIntervalSeconds, "must be positive"))
	}
	if oc.SubmitDelaySeconds < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("submitDelaySeconds"), oc.SubmitDelaySeconds, "must be positive"))
	}
	return allErrors.ToAggregate()
}

// Contracts is the contract set the operator binds; only the task manager is used.
func (oc *OperatorConfig) Contracts() *config.AvsContracts {
	return &config.AvsContracts{TaskManager: oc.TaskManagerAddress}
}

func NewOperatorConfigFromJsonBytes(data []byte) (*OperatorConfig, error) {
	var c OperatorConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal OperatorConfig from JSON")
	}
	return &c, nil
}

func NewOperatorConfigFromYamlBytes(data []byte) (*OperatorConfig, error) {
	var c OperatorConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal OperatorConfig from YAML")
	}
	return &c, nil
}

// NewOperatorConfig builds the config from flags and OPERATOR_ prefixed environment variables.
func NewOperatorConfig() *OperatorConfig {
	return &OperatorConfig{
		Debug:                   viper.GetBool(config.NormalizeFlagName(Debug)),
		EthRpcUrl:               viper.GetString(config.NormalizeFlagName(EthRpcUrl)),
		ChainId:                 config.ChainId(viper.GetUint(config.NormalizeFlagName(ChainId))),
		TaskManagerAddress:      viper.GetString(config.NormalizeFlagName(TaskManagerAddress)),
		AggregatorServerAddress: viper.GetString(config.NormalizeFlagName(AggregatorServerAddress)),
		BlsPrivateKey:           viper.GetString(config.NormalizeFlagName(BlsPrivateKey)),
		BlsPrivateKeyStorePath:  viper.GetString(config.NormalizeFlagName(BlsPrivateKeyStorePath)),
		BlsKeyPassword:          viper.GetString(config.NormalizeFlagName(BlsKeyPassword)),
		TimesFailing:            viper.GetInt(config.NormalizeFlagName(TimesFailing)),
		FromBlock:               viper.GetUint64(config.NormalizeFlagName(FromBlock)),
		PollIntervalSeconds:     viper.GetInt(config.NormalizeFlagName(PollIntervalSeconds)),
		SubmitDelaySeconds:      viper.GetInt(config.NormalizeFlagName(SubmitDelaySeconds)),
	}
}
