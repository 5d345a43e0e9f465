package verifier

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// AlgKeccak256 is the protocol default hashing algorithm, used whenever a
// payload does not declare one.
const (
	AlgKeccak256 = "keccak256"
	AlgSha256    = "sha256"
)

var ErrUnknownHashAlg = errors.New("unknown hash algorithm")

// Hash computes the hex encoded digest of data under the named algorithm.
// An empty algorithm falls back to keccak256.
func Hash(data []byte, alg string) (string, error) {
	switch alg {
	case "", AlgKeccak256:
		return hex.EncodeToString(crypto.Keccak256(data)), nil
	case AlgSha256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	}

	return "", errors.Join(ErrUnknownHashAlg, fmt.Errorf("alg: %s", alg))
}
