package config

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumHolesky ChainId = 17000
	ChainId_EthereumHoodi   ChainId = 560048
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
)

var (
	SupportedChainIds = []ChainId{
		ChainId_EthereumMainnet,
		ChainId_EthereumHolesky,
		ChainId_EthereumHoodi,
		ChainId_EthereumSepolia,
		ChainId_EthereumAnvil,
	}
)

const (
	// ThresholdPercent is the share of total stake that must agree on an answer.
	ThresholdPercent uint32 = 70

	// TaskChallengeWindowBlock is the number of blocks after a response during which it can be challenged.
	TaskChallengeWindowBlock uint32 = 100

	DefaultQuorumNumber byte = 0
)

// AvsContracts is the set of contract addresses shared by every binary.
type AvsContracts struct {
	RegistryCoordinator    string `json:"registryCoordinatorAddress" yaml:"registryCoordinatorAddress"`
	OperatorStateRetriever string `json:"operatorStateRetrieverAddress" yaml:"operatorStateRetrieverAddress"`
	TaskManager            string `json:"taskManagerAddress" yaml:"taskManagerAddress"`
}

func (c *AvsContracts) Validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	if !common.IsHexAddress(c.TaskManager) {
		allErrors = append(allErrors, field.Invalid(path.Child("taskManagerAddress"), c.TaskManager, "must be a hex address"))
	}
	if !common.IsHexAddress(c.OperatorStateRetriever) {
		allErrors = append(allErrors, field.Invalid(path.Child("operatorStateRetrieverAddress"), c.OperatorStateRetriever, "must be a hex address"))
	}
	if c.RegistryCoordinator != "" && !common.IsHexAddress(c.RegistryCoordinator) {
		allErrors = append(allErrors, field.Invalid(path.Child("registryCoordinatorAddress"), c.RegistryCoordinator, "must be a hex address"))
	}
	return allErrors
}

var (
	matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap   = regexp.MustCompile("([a-z0-9])([A-Z])")
)

// KebabToSnakeCase converts a flag name like "eth-rpc-url" to "eth_rpc_url".
func KebabToSnakeCase(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

// NormalizeFlagName converts camelCase and kebab-case names to the snake_case keys viper is bound with.
func NormalizeFlagName(name string) string {
	snake := matchFirstCap.ReplaceAllString(name, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(KebabToSnakeCase(snake))
}
