package mintauth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrSignerUnavailable indicates the signing key is not provisioned or the
// signing call failed. It is fatal for the authorization request: there is no
// partial attestation.
var ErrSignerUnavailable = errors.New("signer unavailable")

// Signer produces secp256k1 signatures over 32-byte digests.
type Signer interface {
	Address() common.Address
	Sign(ctx context.Context, digest []byte) ([]byte, error)
}

// EnvSigner sources its key material from an environment variable. The key
// stays inside this struct and is never logged.
type EnvSigner struct {
	key *ecdsa.PrivateKey
}

// NewEnvSigner reads a hex-encoded secp256k1 key from the named environment
// variable.
func NewEnvSigner(varName string) (*EnvSigner, error) {
	material := strings.TrimSpace(os.Getenv(varName))
	if material == "" {
		return nil, fmt.Errorf("%w: environment variable %s not set", ErrSignerUnavailable, varName)
	}
	return NewKeySigner(material)
}

// NewKeySigner builds a signer from hex-encoded key material.
func NewKeySigner(material string) (*EnvSigner, error) {
	material = strings.TrimPrefix(strings.TrimSpace(material), "0x")
	key, err := ethcrypto.HexToECDSA(material)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid key material: %v", ErrSignerUnavailable, err)
	}
	return &EnvSigner{key: key}, nil
}

// Address returns the signer's Ethereum address. The minting contract holds
// the same address and rejects signatures from anyone else.
func (s *EnvSigner) Address() common.Address {
	if s == nil || s.key == nil {
		return common.Address{}
	}
	return ethcrypto.PubkeyToAddress(s.key.PublicKey)
}

// Sign produces a 65-byte [R || S || V] signature with V in {27, 28}, the form
// Solidity's ecrecover expects.
func (s *EnvSigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, ErrSignerUnavailable
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerUnavailable, err)
	}
	sig[64] += 27
	return sig, nil
}
