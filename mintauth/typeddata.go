package mintauth

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain is the EIP-712 signing domain. Chain id, verifying contract, and
// scheme version are all bound into every digest, so an attestation cannot be
// replayed against a different contract, chain, or scheme revision.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var (
	domainTypeHash = ethcrypto.Keccak256([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	mintRequestTypeHash = ethcrypto.Keccak256([]byte(
		"MintRequest(address minter,uint256 price,uint256 nonce,uint256 deadline)"))
)

func pad32(b []byte) []byte { return common.LeftPadBytes(b, 32) }

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(d.Name)),
		ethcrypto.Keccak256([]byte(d.Version)),
		pad32(d.ChainID.Bytes()),
		pad32(d.VerifyingContract.Bytes()),
	)
}

// MintDigest computes the EIP-712 digest for a mint authorization. The fields
// are exactly the ones the minting contract checks: nothing more, nothing less.
func MintDigest(domain Domain, minter common.Address, priceWei *big.Int, nonce uint64, deadline int64) []byte {
	structHash := ethcrypto.Keccak256(
		mintRequestTypeHash,
		pad32(minter.Bytes()),
		pad32(priceWei.Bytes()),
		pad32(new(big.Int).SetUint64(nonce).Bytes()),
		pad32(big.NewInt(deadline).Bytes()),
	)
	return ethcrypto.Keccak256(
		[]byte{0x19, 0x01},
		domain.Separator(),
		structHash,
	)
}
