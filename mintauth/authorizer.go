// Package mintauth issues signed, time-boxed price attestations for the
// minting contract. This is the only place a discounted price crosses the
// trust boundary to an external system.
package mintauth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"clanktonmint/ledger"
	"clanktonmint/pricing"
)

const defaultValidityWindow = 300 * time.Second

// weiPerToken scales whole-token prices to wei for the ERC-20 payment token.
var weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Attestation binds a minter, a price, a single-use nonce, and a deadline
// under the authorizer's signature. The contract rejects it once the deadline
// passes, the nonce is consumed, or any bound field differs from the
// transaction.
type Attestation struct {
	ID       string
	Minter   common.Address
	PriceWei *big.Int
	Nonce    uint64
	Deadline int64
	IssuedAt time.Time

	// Signature is [R || S || V] over the EIP-712 digest of the four bound
	// fields.
	Signature []byte
}

// Ledger is the read side of the discount store the authorizer depends on.
type Ledger interface {
	Get(ctx context.Context, address string) (ledger.Record, error)
}

// Authorizer reads current discount truth and issues attestations.
type Authorizer struct {
	ledger   Ledger
	table    pricing.Table
	signer   Signer
	domain   Domain
	validity time.Duration
	logger   *slog.Logger
	nowFn    func() time.Time
	nonceFn  func() (uint64, error)
}

// NewAuthorizer wires an authorizer. validity defaults to 300s when zero.
func NewAuthorizer(store Ledger, table pricing.Table, signer Signer, domain Domain, validity time.Duration, logger *slog.Logger) *Authorizer {
	if validity <= 0 {
		validity = defaultValidityWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{
		ledger:   store,
		table:    table,
		signer:   signer,
		domain:   domain,
		validity: validity,
		logger:   logger,
		nowFn:    time.Now,
		nonceFn:  randomNonce,
	}
}

func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generate nonce: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// Authorize issues an attestation for the wallet's current price. The ledger
// is read fresh on every call so the signed price always reflects the latest
// acknowledged discount state.
func (a *Authorizer) Authorize(ctx context.Context, address string) (Attestation, ledger.Record, error) {
	normalized, err := ledger.NormalizeAddress(address)
	if err != nil {
		return Attestation{}, ledger.Record{}, err
	}
	if a.signer == nil {
		return Attestation{}, ledger.Record{}, ErrSignerUnavailable
	}

	record, err := a.ledger.Get(ctx, normalized)
	if err != nil {
		return Attestation{}, ledger.Record{}, err
	}
	quote := a.table.Quote(record.Flags)
	priceWei := new(big.Int).Mul(new(big.Int).SetUint64(quote.FinalPrice), weiPerToken)

	nonce, err := a.nonceFn()
	if err != nil {
		return Attestation{}, ledger.Record{}, err
	}
	now := a.nowFn().UTC()
	deadline := now.Add(a.validity).Unix()
	minter := common.HexToAddress(normalized)

	digest := MintDigest(a.domain, minter, priceWei, nonce, deadline)
	signature, err := a.signer.Sign(ctx, digest)
	if err != nil {
		return Attestation{}, ledger.Record{}, fmt.Errorf("sign mint authorization: %w", err)
	}

	att := Attestation{
		ID:        uuid.NewString(),
		Minter:    minter,
		PriceWei:  priceWei,
		Nonce:     nonce,
		Deadline:  deadline,
		IssuedAt:  now,
		Signature: signature,
	}
	a.logger.Info("mint authorization issued",
		"attestation", att.ID,
		"minter", normalized,
		"price", quote.FinalPrice,
		"nonce", nonce,
		"deadline", deadline,
	)
	return att, record, nil
}
