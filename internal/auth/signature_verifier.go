package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignature = errors.New("auth: invalid signature")
	ErrInvalidAddress   = errors.New("auth: invalid address")
)

// SignatureVerifierConfig configures wallet login verification.
type SignatureVerifierConfig struct {
	// LoginMessage is the fixed challenge the wallet signs via personal_sign.
	LoginMessage string
}

// SignatureVerifier recovers the signer of the configured login message and
// compares it to the claimed account address.
type SignatureVerifier struct {
	message string
}

// NewSignatureVerifier constructs a verifier for the configured login message.
func NewSignatureVerifier(cfg SignatureVerifierConfig) (*SignatureVerifier, error) {
	message := strings.TrimSpace(cfg.LoginMessage)
	if message == "" {
		return nil, errors.New("auth: login message required")
	}
	return &SignatureVerifier{message: message}, nil
}

// Verify checks that signatureHex was produced over the login message by the
// holder of claimedAddress. The comparison is case-insensitive.
func (v *SignatureVerifier) Verify(signatureHex, claimedAddress string) error {
	if !common.IsHexAddress(claimedAddress) {
		return ErrInvalidAddress
	}
	recovered, err := v.RecoverAddress(signatureHex)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered, claimedAddress) {
		return ErrInvalidSignature
	}
	return nil
}

// RecoverAddress returns the checksummed address that signed the login message.
//
// personal_sign hashes keccak256("\x19Ethereum Signed Message:\n" + len(message) + message).
func (v *SignatureVerifier) RecoverAddress(signatureHex string) (string, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: unexpected length %d", ErrInvalidSignature, len(sig))
	}

	// Ledger-produced signatures have V = 0 or 1.
	if sig[64] == 0 || sig[64] == 1 {
		sig[64] += 27
	}
	if sig[64] != 27 && sig[64] != 28 {
		return "", fmt.Errorf("%w: V is not 27 or 28", ErrInvalidSignature)
	}
	sig[64] -= 27

	framed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(v.message), v.message)
	hash := crypto.Keccak256Hash([]byte(framed))

	publicKey, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*publicKey).Hex(), nil
}

// ChecksumAddress normalizes an account address to its EIP-55 representation.
func ChecksumAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(address).Hex(), nil
}
