package keygenConfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/keygen"
)

func Test_KeygenConfig(t *testing.T) {
	t.Run("YAML", func(t *testing.T) {
		c, err := NewKeygenConfigFromYamlBytes([]byte("keyType: bls\noutputDir: ./keys\nlight: true\n"))
		require.NoError(t, err)
		assert.Equal(t, keygen.KeyTypeBls, c.KeyType)
		assert.True(t, c.Light)
		assert.NoError(t, c.Validate())
	})
	t.Run("JSON", func(t *testing.T) {
		c, err := NewKeygenConfigFromJsonBytes([]byte(`{"keyType":"ecdsa","outputDir":"./keys"}`))
		require.NoError(t, err)
		// ecdsa keys need a password
		assert.Error(t, c.Validate())
		c.Password = "pw"
		assert.NoError(t, c.Validate())
	})
	t.Run("Validate", func(t *testing.T) {
		err := (&KeygenConfig{KeyType: "bls381"}).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "keyType")

		c := &KeygenConfig{KeyType: keygen.KeyTypeBls, Seed: "0x" + strings.Repeat("ab", 32)}
		assert.NoError(t, c.Validate())
		seed, err := c.SeedBytes()
		require.NoError(t, err)
		assert.Len(t, seed, 32)

		c.Seed = "abcd"
		assert.Error(t, c.Validate())
		c.Seed = "zz"
		assert.Error(t, c.Validate())
	})
}
