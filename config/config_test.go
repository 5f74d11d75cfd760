package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfirmationRequirements(t *testing.T) {
	t.Run("single currency", func(t *testing.T) {
		reqs, err := parseConfirmationRequirements("btc_satoshi:6")
		require.NoError(t, err)
		assert.Equal(t, map[string]int32{"btc_satoshi": 6}, reqs)
	})

	t.Run("multiple currencies with whitespace", func(t *testing.T) {
		reqs, err := parseConfirmationRequirements("btc_satoshi:6, eth_wei: 12")
		require.NoError(t, err)
		assert.Equal(t, int32(6), reqs["btc_satoshi"])
		assert.Equal(t, int32(12), reqs["eth_wei"])
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := parseConfirmationRequirements("btc_satoshi=6")
		assert.Error(t, err)
	})

	t.Run("negative count", func(t *testing.T) {
		_, err := parseConfirmationRequirements("btc_satoshi:-1")
		assert.Error(t, err)
	})

	t.Run("empty list", func(t *testing.T) {
		_, err := parseConfirmationRequirements(" , ")
		assert.Error(t, err)
	})
}
