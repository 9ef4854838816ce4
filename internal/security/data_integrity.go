// Package security provides checksums for published predictions and
// signatures for exported signal batches.
package security

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Signature is attached to exported payloads so receivers can check origin
type Signature struct {
	Digest    string `json:"digest"`
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
	Algorithm string `json:"algorithm"`
}

const signatureAlgorithm = "secp256k1-keccak256"

// Signer signs payloads with a secp256k1 key
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner loads a hex encoded private key. An empty key generates an
// ephemeral one, which is only useful for development.
func NewSigner(hexKey string) (*Signer, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"); hexKey == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		logrus.Warn("No signing key configured, using an ephemeral key")
	} else {
		key, err = crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
	}

	s := &Signer{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}
	logrus.WithField("signer", s.address.Hex()).Info("Payload signer initialized")
	return s, nil
}

// Address returns the signer's address in hex
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign hashes the payload with Keccak256 and signs the digest
func (s *Signer) Sign(payload []byte) (Signature, error) {
	digest := crypto.Keccak256Hash(payload)
	sig, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to sign payload: %w", err)
	}
	return Signature{
		Digest:    digest.Hex(),
		Signature: "0x" + hex.EncodeToString(sig),
		Signer:    s.address.Hex(),
		Algorithm: signatureAlgorithm,
	}, nil
}

// VerifySignature checks that sig was produced over payload by sig.Signer
func VerifySignature(payload []byte, sig Signature) error {
	digest := crypto.Keccak256Hash(payload)
	if sig.Digest != "" && !strings.EqualFold(sig.Digest, digest.Hex()) {
		return fmt.Errorf("payload digest mismatch")
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(sig.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	pub, err := crypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return fmt.Errorf("failed to recover public key: %w", err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != common.HexToAddress(sig.Signer) {
		return fmt.Errorf("signature from %s, expected %s", recovered.Hex(), sig.Signer)
	}
	return nil
}
