package account

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference vectors from EIP-55.
var checksummed = []string{
	"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
}

func TestParseChecksummed(t *testing.T) {
	for _, s := range checksummed {
		a, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, a.String())
		assert.Equal(t, strings.ToLower(s), a.Hex())
	}
}

func TestParseNormalisesSingleCase(t *testing.T) {
	for _, s := range checksummed {
		lower, err := Parse(strings.ToLower(s))
		require.NoError(t, err)
		upper, err := Parse("0x" + strings.ToUpper(s[2:]))
		require.NoError(t, err)

		assert.Equal(t, lower, upper)
		assert.Equal(t, s, lower.String())
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"no prefix":    "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"short":        "0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea",
		"long":         "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed00",
		"not hex":      "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beazz",
		"bad checksum": "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(input)
			assert.ErrorIs(t, err, ErrInvalidAddress)
		})
	}
}

func TestAddressJSON(t *testing.T) {
	a := MustParse(checksummed[0])

	raw, err := json.Marshal(map[string]Address{"subject": a})
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"`+checksummed[0]+`"}`, string(raw))

	var decoded map[string]Address
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, a, decoded["subject"])
}

func TestIsZero(t *testing.T) {
	assert.True(t, Address{}.IsZero())
	assert.False(t, MustParse(checksummed[1]).IsZero())
}
