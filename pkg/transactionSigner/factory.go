package transactionSigner

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	SignerTypePrivateKey = "private_key"
	SignerTypeKeystore   = "keystore"
)

// SignerConfig represents configuration for creating signers
type SignerConfig struct {
	Type             string `json:"type" yaml:"type"`
	PrivateKey       string `json:"privateKey,omitempty" yaml:"privateKey,omitempty"`
	KeystorePath     string `json:"keystorePath,omitempty" yaml:"keystorePath,omitempty"`
	KeystorePassword string `json:"-" yaml:"-"`
}

// CreateSigner creates a signer based on configuration
func CreateSigner(ctx context.Context, config *SignerConfig, ethClient EthClient, logger *zap.Logger) (TransactionSigner, error) {
	signingContext, err := NewSigningContext(ctx, ethClient, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create signing context: %w", err)
	}

	switch config.Type {
	case SignerTypePrivateKey, "":
		return NewPrivateKeySigner(config.PrivateKey, signingContext)
	case SignerTypeKeystore:
		privateKeyHex, err := LoadPrivateKeyFromKeystore(config.KeystorePath, config.KeystorePassword)
		if err != nil {
			return nil, err
		}
		return NewPrivateKeySigner(privateKeyHex, signingContext)
	default:
		return nil, fmt.Errorf("unsupported signer type: %s", config.Type)
	}
}

// LoadPrivateKeyFromKeystore decrypts a web3 secret storage JSON file and returns the key as hex.
func LoadPrivateKeyFromKeystore(path string, password string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read ECDSA keystore %s: %w", path, err)
	}
	key, err := keystore.DecryptKey(data, password)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt ECDSA keystore %s: %w", path, err)
	}
	return hexutil.Encode(crypto.FromECDSA(key.PrivateKey)), nil
}
