package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// GovernancePayload is the canonical signed form of a risk-parameter
// update. The payload is JSON-encoded with fixed field order before
// hashing; the nonce prevents replay.
type GovernancePayload struct {
	Pool                 string `json:"pool"`
	LiquidationMarginBps uint64 `json:"liquidation_margin_bps"`
	BaseRateBps          uint64 `json:"base_rate_bps"`
	MultiplierBps        uint64 `json:"multiplier_bps"`
	PenaltyRateBps       uint64 `json:"penalty_rate_bps"`
	CollateralLimit      string `json:"collateral_limit,omitempty"`
	Borrowable           bool   `json:"borrowable"`
	UsableAsCollateral   bool   `json:"usable_as_collateral"`
	Nonce                uint64 `json:"nonce"`
}

// digest hashes the payload with Keccak-256 over its canonical JSON.
func (p GovernancePayload) digest() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal governance payload: %w", err)
	}
	return ethcrypto.Keccak256(data), nil
}

// GovernanceSigner signs risk-parameter updates with a secp256k1 key.
type GovernanceSigner struct {
	key *ecdsa.PrivateKey
}

// NewGovernanceSigner loads the signer from a hex-encoded private key.
func NewGovernanceSigner(privateKeyHex string) (*GovernanceSigner, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: parse governance key: %w", err)
	}
	return &GovernanceSigner{key: key}, nil
}

// Address returns the signer's hex address.
func (s *GovernanceSigner) Address() string {
	return ethcrypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// Sign returns the hex-encoded 65-byte recoverable signature over the
// payload digest.
func (s *GovernanceSigner) Sign(p GovernancePayload) (string, error) {
	digest, err := p.digest()
	if err != nil {
		return "", err
	}
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign governance payload: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// VerifyGovernance recovers the signer address from a hex signature and
// checks it against the expected governance address, case-insensitive,
// with or without 0x prefix.
func VerifyGovernance(p GovernancePayload, sigHex, expectedAddr string) error {
	digest, err := p.digest()
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return fmt.Errorf("crypto: decode governance signature: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("crypto: governance signature must be 65 bytes, got %d", len(sig))
	}

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("crypto: recover governance signer: %w", err)
	}
	got := ethcrypto.PubkeyToAddress(*pub).Hex()

	want := strings.TrimPrefix(expectedAddr, "0x")
	if !strings.EqualFold(strings.TrimPrefix(got, "0x"), want) {
		return fmt.Errorf("crypto: governance signer %s is not authorized", got)
	}
	return nil
}
