package contracts

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	TaskManagerContractName            = "IncredibleSquaringTaskManager"
	OperatorStateRetrieverContractName = "OperatorStateRetriever"

	DefaultAbiVersion = "v1"
)

//go:embed abi
var abis embed.FS

func GetContractAbi(contractName string, version string) (*abi.ABI, error) {
	abiFile := fmt.Sprintf("abi/%s/%s.abi.json", version, contractName)
	abiBytes, err := abis.ReadFile(abiFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded ABI file %s: %w", abiFile, err)
	}

	parsedABI, err := abi.JSON(bytes.NewReader(abiBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return &parsedABI, nil
}

func TaskManagerAbi() (*abi.ABI, error) {
	return GetContractAbi(TaskManagerContractName, DefaultAbiVersion)
}

func OperatorStateRetrieverAbi() (*abi.ABI, error) {
	return GetContractAbi(OperatorStateRetrieverContractName, DefaultAbiVersion)
}
