package registry

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"Press3/internal/fault"
)

// maxIdentityDigits is the number of hex digits in a canonical address.
const maxIdentityDigits = 64

// Identity is a ledger address: "0x" followed by 1 to 64 hex digits.
type Identity string

// ValidateIdentity checks the well-formedness of an address.
func ValidateIdentity(id Identity) error {
	s := string(id)

	if s == "" {
		return fault.Validationf("empty identity")
	}

	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fault.Validationf("invalid identity %q: missing 0x prefix", s)
	}

	digits := s[2:]
	if len(digits) == 0 || len(digits) > maxIdentityDigits {
		return fault.Validationf("invalid identity %q: want 1 to %d hex digits", s, maxIdentityDigits)
	}

	for _, c := range digits {
		if !isHexDigit(c) {
			return fault.Validationf("invalid identity %q: non-hex digit %q", s, c)
		}
	}

	return nil
}

// NormalizeIdentity validates id and returns its canonical form:
// lowercase, left-padded to 64 hex digits.
func NormalizeIdentity(id Identity) (Identity, error) {
	if err := ValidateIdentity(id); err != nil {
		return "", err
	}

	digits := strings.ToLower(string(id)[2:])
	digits = strings.Repeat("0", maxIdentityDigits-len(digits)) + digits

	return Identity("0x" + digits), nil
}

// AddressFromPublicKey derives the canonical address of a public key:
// 0x + hex(blake3(pubkey)).
func AddressFromPublicKey(pub []byte) Identity {
	sum := blake3.Sum256(pub)
	return Identity("0x" + hex.EncodeToString(sum[:]))
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
