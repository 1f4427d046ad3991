package aggregatorConfig

import (
	"encoding/json"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/config"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/operatorRegistry"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/aggregation"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/transactionSigner"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"
)

const (
	EnvPrefix = "AGGREGATOR_"

	Debug                         = "debug"
	EthRpcUrl                     = "eth-rpc-url"
	ChainId                       = "chain-id"
	ServerAddress                 = "aggregator-server-ip-port-address"
	SubgraphUrl                   = "subgraph-url"
	TaskManagerAddress            = "task-manager-address"
	OperatorStateRetrieverAddress = "operator-state-retriever-address"
	RegistryCoordinatorAddress    = "avs-registry-coordinator-address"
	EcdsaPrivateKey               = "ecdsa-private-key"
	EcdsaPrivateKeyStorePath      = "ecdsa-private-key-store-path"
	EcdsaKeyPassword              = "ecdsa-key-password"
	TaskIntervalSeconds           = "task-interval-seconds"
	ThresholdPercent              = "threshold-percent"
	ChallengeWindowBlocks         = "task-challenge-window-block"
	FinalizePolicy                = "finalize-policy"
	SubmissionTimeoutSeconds      = "submission-timeout-seconds"
	SubmissionRetries             = "submission-retries"
	TaskStoreType                 = "task-store-type"
	TaskStoreDir                  = "task-store-dir"

	StorageTypeMemory = "memory"
	StorageTypeBadger = "badger"

	DefaultServerAddress       = "localhost:8090"
	DefaultTaskIntervalSeconds = 10

	DefaultSubmissionTimeoutSeconds = 120
	DefaultSubmissionRetries        = 3
)

type AggregatorConfig struct {
	Debug                    bool                `json:"debug" yaml:"debug"`
	EthRpcUrl                string              `json:"ethRpcUrl" yaml:"ethRpcUrl"`
	ChainId                  config.ChainId      `json:"chainId" yaml:"chainId"`
	ServerAddress            string              `json:"aggregatorServerIpPortAddress" yaml:"aggregatorServerIpPortAddress"`
	AllowedOrigins           []string            `json:"allowedOrigins" yaml:"allowedOrigins"`
	SubgraphUrl              string              `json:"subgraphUrl" yaml:"subgraphUrl"`
	Contracts                config.AvsContracts `json:"contracts" yaml:"contracts"`
	EcdsaPrivateKey          string              `json:"ecdsaPrivateKey" yaml:"ecdsaPrivateKey"`
	EcdsaPrivateKeyStorePath string              `json:"ecdsaPrivateKeyStorePath" yaml:"ecdsaPrivateKeyStorePath"`
	// EcdsaKeyPassword is only read from the environment
	EcdsaKeyPassword      string `json:"-" yaml:"-"`
	TaskIntervalSeconds   int    `json:"taskIntervalSeconds" yaml:"taskIntervalSeconds"`
	ThresholdPercent      uint32 `json:"thresholdPercent" yaml:"thresholdPercent"`
	ChallengeWindowBlocks uint32 `json:"taskChallengeWindowBlock" yaml:"taskChallengeWindowBlock"`
	FinalizePolicy        string `json:"finalizePolicy" yaml:"finalizePolicy"`
	// SubmissionTimeoutSeconds bounds fetching indices and mining respondToTask once a quorum is reached
	SubmissionTimeoutSeconds int `json:"submissionTimeoutSeconds" yaml:"submissionTimeoutSeconds"`
	// SubmissionRetries is how often sending respondToTask is retried before it is broadcast
	SubmissionRetries int `json:"submissionRetries" yaml:"submissionRetries"`
	// Storage selects where registered tasks are kept, in memory when unset
	Storage *StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`
}

type BadgerConfig struct {
	// Directory where BadgerDB will store its data
	Dir string `json:"dir" yaml:"dir"`
	// InMemory runs BadgerDB in memory-only mode (for testing)
	InMemory          bool  `json:"inMemory,omitempty" yaml:"inMemory,omitempty"`
	ValueLogFileSize  int64 `json:"valueLogFileSize,omitempty" yaml:"valueLogFileSize,omitempty"`
	NumVersionsToKeep int   `json:"numVersionsToKeep,omitempty" yaml:"numVersionsToKeep,omitempty"`
}

type StorageConfig struct {
	Type         string        `json:"type" yaml:"type"`
	BadgerConfig *BadgerConfig `json:"badger,omitempty" yaml:"badger,omitempty"`
}

func (sc *StorageConfig) Validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch sc.Type {
	case StorageTypeMemory:
	case StorageTypeBadger:
		if sc.BadgerConfig == nil {
			allErrors = append(allErrors, field.Required(path.Child("badger"), "badger config is required for badger storage"))
		} else if sc.BadgerConfig.Dir == "" && !sc.BadgerConfig.InMemory {
			allErrors = append(allErrors, field.Required(path.Child("badger", "dir"), "dir is required unless inMemory is set"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), sc.Type, []string{StorageTypeMemory, StorageTypeBadger}))
	}
	return allErrors
}

// ApplyDefaults fills every unset optional field.
func (ac *AggregatorConfig) ApplyDefaults() {
	if ac.ServerAddress == "" {
		ac.ServerAddress = DefaultServerAddress
	}
	if ac.SubgraphUrl == "" {
		ac.SubgraphUrl = operatorRegistry.DefaultSubgraphUrl
	}
	if ac.TaskIntervalSeconds == 0 {
		ac.TaskIntervalSeconds = DefaultTaskIntervalSeconds
	}
	if ac.ThresholdPercent == 0 {
		ac.ThresholdPercent = config.ThresholdPercent
	}
	if ac.ChallengeWindowBlocks == 0 {
		ac.ChallengeWindowBlocks = config.TaskChallengeWindowBlock
	}
	if ac.FinalizePolicy == "" {
		ac.FinalizePolicy = string(aggregation.FinalizeBeforeSubmit)
	}
	if ac.SubmissionTimeoutSeconds == 0 {
		ac.SubmissionTimeoutSeconds = DefaultSubmissionTimeoutSeconds
	}
}

func (ac *AggregatorConfig) Validate() error {
	var allErrors field.ErrorList
	if ac.EthRpcUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("ethRpcUrl"), "ethRpcUrl is required"))
	}
	if ac.ChainId != 0 && !slices.Contains(config.SupportedChainIds, ac.ChainId) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainId"), ac.ChainId, "unsupported chainId"))
	}
	if ac.ServerAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("aggregatorServerIpPortAddress"), "server address is required"))
	}
	if ac.SubgraphUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("subgraphUrl"), "subgraphUrl is required"))
	}
	allErrors = append(allErrors, ac.Contracts.Validate(field.NewPath("contracts"))...)
	if ac.Contracts.RegistryCoordinator == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("contracts", "registryCoordinatorAddress"), "registry coordinator is required to fetch signature indices"))
	}
	if ac.EcdsaPrivateKey == "" && ac.EcdsaPrivateKeyStorePath == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("ecdsaPrivateKey"), "either ecdsaPrivateKey or ecdsaPrivateKeyStorePath is required"))
	}
	if ac.TaskIntervalSeconds < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("taskIntervalSeconds"), ac.TaskIntervalSeconds, "must be positive"))
	}
	if ac.ThresholdPercent > 100 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("thresholdPercent"), ac.ThresholdPercent, "must be between 1 and 100"))
	}
	if ac.FinalizePolicy != "" && !aggregation.FinalizePolicy(ac.FinalizePolicy).Valid() {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("finalizePolicy"), ac.FinalizePolicy, []string{
			string(aggregation.FinalizeBeforeSubmit),
			string(aggregation.ReopenOnFailure),
		}))
	}
	if ac.SubmissionTimeoutSeconds < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("submissionTimeoutSeconds"), ac.SubmissionTimeoutSeconds, "must be positive"))
	}
	if ac.SubmissionRetries < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("submissionRetries"), ac.SubmissionRetries, "must not be negative"))
	}
	if ac.Storage != nil {
		allErrors = append(allErrors, ac.Storage.Validate(field.NewPath("storage"))...)
	}
	return allErrors.ToAggregate()
}

// SignerConfig selects a keystore signer when a keystore path is configured.
func (ac *AggregatorConfig) SignerConfig() *transactionSigner.SignerConfig {
	if ac.EcdsaPrivateKeyStorePath != "" {
		return &transactionSigner.SignerConfig{
			Type:             transactionSigner.SignerTypeKeystore,
			KeystorePath:     ac.EcdsaPrivateKeyStorePath,
			KeystorePassword: ac.EcdsaKeyPassword,
		}
	}
	return &transactionSigner.SignerConfig{
		Type:       transactionSigner.SignerTypePrivateKey,
		PrivateKey: ac.EcdsaPrivateKey,
	}
}

func NewAggregatorConfigFromJsonBytes(data []byte) (*AggregatorConfig, error) {
	var c AggregatorConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal AggregatorConfig from JSON")
	}
	return &c, nil
}

func NewAggregatorConfigFromYamlBytes(data []byte) (*AggregatorConfig, error) {
	var c AggregatorConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal AggregatorConfig from YAML")
	}
	return &c, nil
}

// NewAggregatorConfig builds the config from flags and AGGREGATOR_ prefixed environment variables.
func NewAggregatorConfig() *AggregatorConfig {
	return &AggregatorConfig{
		Debug:         viper.GetBool(config.NormalizeFlagName(Debug)),
		EthRpcUrl:     viper.GetString(config.NormalizeFlagName(EthRpcUrl)),
		ChainId:       config.ChainId(viper.GetUint(config.NormalizeFlagName(ChainId))),
		ServerAddress: viper.GetString(config.NormalizeFlagName(ServerAddress)),
		SubgraphUrl:   viper.GetString(config.NormalizeFlagName(SubgraphUrl)),
		Contracts: config.AvsContracts{
			RegistryCoordinator:    viper.GetString(config.NormalizeFlagName(RegistryCoordinatorAddress)),
			OperatorStateRetriever: viper.GetString(config.NormalizeFlagName(OperatorStateRetrieverAddress)),
			TaskManager:            viper.GetString(config.NormalizeFlagName(TaskManagerAddress)),
		},
		EcdsaPrivateKey:          viper.GetString(config.NormalizeFlagName(EcdsaPrivateKey)),
		EcdsaPrivateKeyStorePath: viper.GetString(config.NormalizeFlagName(EcdsaPrivateKeyStorePath)),
		EcdsaKeyPassword:         viper.GetString(config.NormalizeFlagName(EcdsaKeyPassword)),
		TaskIntervalSeconds:      viper.GetInt(config.NormalizeFlagName(TaskIntervalSeconds)),
		ThresholdPercent:         viper.GetUint32(config.NormalizeFlagName(ThresholdPercent)),
		ChallengeWindowBlocks:    viper.GetUint32(config.NormalizeFlagName(ChallengeWindowBlocks)),
		FinalizePolicy:           viper.GetString(config.NormalizeFlagName(FinalizePolicy)),
		SubmissionTimeoutSeconds: viper.GetInt(config.NormalizeFlagName(SubmissionTimeoutSeconds)),
		SubmissionRetries:        viper.GetInt(config.NormalizeFlagName(SubmissionRetries)),
		Storage:                  storageConfigFromViper(),
	}
}

func storageConfigFromViper() *StorageConfig {
	storageType := viper.GetString(config.NormalizeFlagName(TaskStoreType))
	if storageType == "" {
		return nil
	}
	sc := &StorageConfig{Type: storageType}
	if storageType == StorageTypeBadger {
		sc.BadgerConfig = &BadgerConfig{Dir: viper.GetString(config.NormalizeFlagName(TaskStoreDir))}
	}
	return sc
}
