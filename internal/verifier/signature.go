package verifier

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

var ErrRecoverAddress = errors.New("failed to recover signer address")

// RecoverAddress recovers the signer address from a 65 byte secp256k1
// signature over the given hex encoded hash. The returned address is hex
// without a 0x prefix, lowercase, matching the protocol's user_address
// representation.
func RecoverAddress(signatureHex, hashHex string) (string, error) {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return "", errors.Join(ErrRecoverAddress, err)
	}
	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return "", errors.Join(ErrRecoverAddress, err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", errors.Join(ErrRecoverAddress, fmt.Errorf("signature length: %d", len(sig)))
	}

	// some signers emit the recovery id as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", errors.Join(ErrRecoverAddress, err)
	}

	addr := crypto.PubkeyToAddress(*pubKey)
	return hex.EncodeToString(addr.Bytes()), nil
}

// VerifySignature recomputes the canonical hash of payload and checks that
// signature over it was produced by claimedAddress. Any malformed input
// yields false; a failed verification is an expected outcome, not an error.
func VerifySignature(payload, claimedHash, signature, claimedAddress string) bool {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return false
	}

	hash, err := Hash([]byte(canonical), AlgKeccak256)
	if err != nil {
		return false
	}
	if hash != strings.ToLower(claimedHash) {
		return false
	}

	recovered, err := RecoverAddress(signature, hash)
	if err != nil {
		return false
	}

	return recovered == strings.ToLower(claimedAddress)
}
