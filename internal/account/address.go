package account

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// AddressLength is the number of bytes in an account identifier.
const AddressLength = 20

// ErrInvalidAddress is returned for malformed or badly checksummed identifiers.
var ErrInvalidAddress = errors.New("invalid account address")

// Address identifies an account. Identities are issued by the environment
// (a public-key-derived address) and are never minted by this service.
type Address [AddressLength]byte

// Parse accepts a 0x-prefixed hex address. All-lower and all-upper forms are
// accepted as-is; mixed case must carry a valid EIP-55 checksum.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok {
		digits, ok = strings.CutPrefix(s, "0X")
	}
	if !ok || len(digits) != 2*AddressLength {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	var a Address
	if _, err := hex.Decode(a[:], []byte(digits)); err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if isMixedCase(digits) && a.checksumHex() != digits {
		return Address{}, fmt.Errorf("%w: checksum mismatch for %q", ErrInvalidAddress, s)
	}
	return a, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the checksummed form.
func (a Address) String() string {
	return "0x" + a.checksumHex()
}

// Hex renders the lower-case form used as a storage key.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// checksumHex applies EIP-55: a hex letter is upper-cased when the matching
// nibble of keccak256(lowercase hex) is >= 8.
func (a Address) checksumHex() string {
	lower := hex.EncodeToString(a[:])
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}

func isMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}
