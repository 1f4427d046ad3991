package bn254

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
)

// ErrInvalidKeystoreFile is returned when a keystore file is not valid or is corrupted
var ErrInvalidKeystoreFile = errors.New("invalid keystore file")

// encryptedBLSKey is the on-disk layout of an operator BLS key.
type encryptedBLSKey struct {
	PubkeyG1 string              `json:"pubKey"`
	Crypto   keystore.CryptoJSON `json:"crypto"`
	UUID     string              `json:"uuid"`
	Version  int                 `json:"version"`
}

type KeystoreOptions struct {
	ScryptN int
	ScryptP int
}

func DefaultKeystoreOptions() *KeystoreOptions {
	return &KeystoreOptions{
		ScryptN: keystore.StandardScryptN,
		ScryptP: keystore.StandardScryptP,
	}
}

// LightKeystoreOptions trades encryption strength for speed; intended for tests and local devnets.
func LightKeystoreOptions() *KeystoreOptions {
	return &KeystoreOptions{
		ScryptN: keystore.LightScryptN,
		ScryptP: keystore.LightScryptP,
	}
}

// SaveToKeystore encrypts the private key of kp and writes it to filePath.
func SaveToKeystore(kp *KeyPair, filePath, password string, opts *KeystoreOptions) error {
	if opts == nil {
		opts = DefaultKeystoreOptions()
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("failed to generate UUID: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	cryptoStruct, err := keystore.EncryptDataV3(kp.PrivateKey.Bytes(), []byte(password), opts.ScryptN, opts.ScryptP)
	if err != nil {
		return fmt.Errorf("failed to encrypt private key: %w", err)
	}

	x, y := kp.PubkeyG1.BigInts()
	encryptedKey := encryptedBLSKey{
		PubkeyG1: fmt.Sprintf("E([%s,%s])", x.String(), y.String()),
		Crypto:   cryptoStruct,
		UUID:     id.String(),
		Version:  3,
	}

	content, err := json.MarshalIndent(encryptedKey, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keystore: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0600); err != nil {
		return fmt.Errorf("failed to write keystore file: %w", err)
	}
	return nil
}

// LoadFromKeystore decrypts the key stored at filePath and rebuilds its key pair.
func LoadFromKeystore(filePath, password string) (*KeyPair, error) {
	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}

	var encryptedKey encryptedBLSKey
	if err := json.Unmarshal(content, &encryptedKey); err != nil {
		return nil, fmt.Errorf("failed to parse keystore file: %w", err)
	}
	if encryptedKey.PubkeyG1 == "" {
		return nil, ErrInvalidKeystoreFile
	}

	keyBytes, err := keystore.DecryptDataV3(encryptedKey.Crypto, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}

	privateKey, err := NewPrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create private key from decrypted data: %w", err)
	}
	return NewKeyPair(privateKey), nil
}
