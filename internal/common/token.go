package common

import (
	"crypto/rand"
	"math/big"
)

// TokenAlphabet omits characters that are easy to confuse (0/O, 1/l/I).
const TokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

const (
	// ContentTokenSize is the length of content item tokens.
	ContentTokenSize = 26
	// GiftCodeSize is the length of generated gift codes.
	GiftCodeSize = 10
)

// NewToken returns a random token of the given size drawn from TokenAlphabet.
func NewToken(size int) (string, error) {
	return newTokenFrom(TokenAlphabet, size)
}

// NewGiftCode returns a random upper-case gift code. Gift codes are compared
// case-insensitively, so the alphabet has no lower-case letters.
func NewGiftCode() (string, error) {
	return newTokenFrom("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", GiftCodeSize)
}

func newTokenFrom(alphabet string, size int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, size)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
