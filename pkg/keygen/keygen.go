package keygen

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

const (
	KeyTypeBls   = "bls"
	KeyTypeEcdsa = "ecdsa"
)

// BlsKeyInfo is the printable form of a BN254 key pair. Coordinates are decimal strings and G2 coordinates
// are in EVM order [A1, A0].
type BlsKeyInfo struct {
	PrivateKey string    `json:"privateKey,omitempty"`
	OperatorId string    `json:"operatorId"`
	PubkeyG1X  string    `json:"pubkeyG1_X"`
	PubkeyG1Y  string    `json:"pubkeyG1_Y"`
	PubkeyG2X  [2]string `json:"pubkeyG2_X"`
	PubkeyG2Y  [2]string `json:"pubkeyG2_Y"`
	File       string    `json:"file,omitempty"`
}

type EcdsaKeyInfo struct {
	PrivateKey string `json:"privateKey,omitempty"`
	Address    string `json:"address"`
	File       string `json:"file,omitempty"`
}

// GenerateBlsKeyPair returns a random key pair, or a deterministic one when seed is set.
func GenerateBlsKeyPair(seed []byte) (*bn254.KeyPair, error) {
	if len(seed) > 0 {
		return bn254.GenerateKeyPairFromSeed(seed)
	}
	return bn254.GenerateKeyPair()
}

func DescribeBlsKeyPair(kp *bn254.KeyPair, includePrivate bool) *BlsKeyInfo {
	g1x, g1y := kp.PubkeyG1.BigInts()
	g2x, g2y := kp.PubkeyG2.BigInts()
	info := &BlsKeyInfo{
		OperatorId: types.OperatorIdFromG1(kp.PubkeyG1).Hex(),
		PubkeyG1X:  g1x.String(),
		PubkeyG1Y:  g1y.String(),
		PubkeyG2X:  [2]string{g2x[0].String(), g2x[1].String()},
		PubkeyG2Y:  [2]string{g2y[0].String(), g2y[1].String()},
	}
	if includePrivate {
		info.PrivateKey = kp.PrivateKey.String()
	}
	return info
}

// WriteBlsKeystore encrypts kp to <dir>/<prefix>.bls.key.json.
func WriteBlsKeystore(kp *bn254.KeyPair, dir, prefix, password string, opts *bn254.KeystoreOptions) (string, error) {
	path := filepath.Join(dir, prefix+".bls.key.json")
	if err := bn254.SaveToKeystore(kp, path, password, opts); err != nil {
		return "", err
	}
	return path, nil
}

// GenerateEcdsaKeystore creates a new ECDSA key and writes it to <dir>/<prefix>.ecdsa.key.json.
func GenerateEcdsaKeystore(dir, prefix, password string, scryptN, scryptP int) (*EcdsaKeyInfo, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate UUID: %w", err)
	}
	key := &keystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		PrivateKey: privateKey,
	}
	content, err := keystore.EncryptKey(key, password, scryptN, scryptP)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt ECDSA key: %w", err)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, prefix+".ecdsa.key.json")
	if err := os.WriteFile(path, content, 0600); err != nil {
		return nil, fmt.Errorf("failed to write keystore file: %w", err)
	}
	return &EcdsaKeyInfo{Address: key.Address.Hex(), File: path}, nil
}

// DescribeKeystore decrypts a BLS or ECDSA keystore file and returns its public information.
func DescribeKeystore(path, password string) (interface{}, error) {
	kp, err := bn254.LoadFromKeystore(path, password)
	if err == nil {
		info := DescribeBlsKeyPair(kp, false)
		info.File = path
		return info, nil
	}
	if !errors.Is(err, bn254.ErrInvalidKeystoreFile) {
		return nil, err
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(content, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt ECDSA keystore: %w", err)
	}
	return &EcdsaKeyInfo{Address: key.Address.Hex(), File: path}, nil
}

func ToJson(v interface{}) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
