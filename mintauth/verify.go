package mintauth

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrAttestationExpired is returned once the deadline has passed.
	ErrAttestationExpired = errors.New("attestation expired")
	// ErrNonceConsumed is returned on replay of an already-spent nonce.
	ErrNonceConsumed = errors.New("nonce already consumed")
	// ErrBadSignature is returned when the signature does not recover to
	// the trusted signer.
	ErrBadSignature = errors.New("signature does not match trusted signer")
	// ErrBoundFieldMismatch is returned when the transaction's minter or
	// price differs from the signed values.
	ErrBoundFieldMismatch = errors.New("attestation fields do not match transaction")
)

// Verifier mirrors the minting contract's acceptance rules so integration
// tests can exercise the full trust handshake off-chain.
type Verifier struct {
	domain Domain
	signer common.Address

	mu       sync.Mutex
	consumed map[uint64]struct{}
}

// NewVerifier builds a verifier trusting the given signer address.
func NewVerifier(domain Domain, signer common.Address) *Verifier {
	return &Verifier{
		domain:   domain,
		signer:   signer,
		consumed: make(map[uint64]struct{}),
	}
}

// Consume validates the attestation against a claimed transaction and, on
// success, permanently spends its nonce.
func (v *Verifier) Consume(att Attestation, txMinter common.Address, txPriceWei *big.Int, now time.Time) error {
	if now.Unix() > att.Deadline {
		return ErrAttestationExpired
	}
	if txMinter != att.Minter || txPriceWei.Cmp(att.PriceWei) != 0 {
		return ErrBoundFieldMismatch
	}
	if err := v.checkSignature(att); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, spent := v.consumed[att.Nonce]; spent {
		return ErrNonceConsumed
	}
	v.consumed[att.Nonce] = struct{}{}
	return nil
}

func (v *Verifier) checkSignature(att Attestation) error {
	if len(att.Signature) != 65 {
		return ErrBadSignature
	}
	digest := MintDigest(v.domain, att.Minter, att.PriceWei, att.Nonce, att.Deadline)
	sig := make([]byte, 65)
	copy(sig, att.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pubkey, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return ErrBadSignature
	}
	if ethcrypto.PubkeyToAddress(*pubkey) != v.signer {
		return ErrBadSignature
	}
	return nil
}
