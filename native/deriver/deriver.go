// Package deriver turns an ordered list of seed byte-strings into a
// reproducible 20-byte account address with no corresponding private key.
//
// A candidate digest is keccak256 over a domain tag, the length-prefixed
// seeds and a single trailing bump byte. The candidate is accepted only when
// the digest does not parse as a secp256k1 X coordinate: such a digest can
// never be a public key, so no signature can ever authorise the address
// directly. Holders of the seeds plus the accepted bump can re-derive the
// address and thereby prove control without any secret.
package deriver

import (
	"encoding/binary"
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrNoBump is returned when no bump byte yields an off-curve digest. With a
// ~50% rejection rate per candidate this is unreachable in practice.
var ErrNoBump = errors.New("deriver: no valid bump for seeds")

// ErrOnCurve is returned by DeriveWithBump when the supplied bump produces a
// digest that lies on the curve and therefore cannot be a derived authority.
var ErrOnCurve = errors.New("deriver: candidate digest lies on curve")

// domainTag separates derived-account digests from every other keccak use in
// the ledger (storage keys, pubkey hashing).
var domainTag = []byte("escrowd/derived/v1")

// Derived pairs an address with the bump byte that proves its derivation.
type Derived struct {
	Address [20]byte
	Bump    uint8
}

// Derive searches bump bytes from 255 downward and returns the first
// candidate whose digest is off-curve. The function is pure: any caller with
// the same seeds obtains the same address and bump.
func Derive(seeds ...[]byte) (Derived, error) {
	for b := 255; b >= 0; b-- {
		digest := candidate(uint8(b), seeds)
		if onCurve(digest) {
			continue
		}
		return Derived{Address: toAddress(digest), Bump: uint8(b)}, nil
	}
	return Derived{}, ErrNoBump
}

// DeriveWithBump recomputes the candidate for a stored bump. It fails when
// the candidate is on-curve, i.e. when the bump could never have been handed
// out by Derive for these seeds.
func DeriveWithBump(bump uint8, seeds ...[]byte) (Derived, error) {
	digest := candidate(bump, seeds)
	if onCurve(digest) {
		return Derived{}, ErrOnCurve
	}
	return Derived{Address: toAddress(digest), Bump: bump}, nil
}

func candidate(bump uint8, seeds [][]byte) [32]byte {
	buf := make([]byte, 0, len(domainTag)+1+len(seeds)*12)
	buf = append(buf, domainTag...)
	// Length-prefix every seed so that seed boundaries cannot be shifted to
	// produce colliding derivations.
	var lenBuf [4]byte
	for _, seed := range seeds {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(seed)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, seed...)
	}
	buf = append(buf, bump)
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256(buf))
	return digest
}

// onCurve reports whether the digest, read as a big-endian integer, is a
// valid secp256k1 X coordinate. Values >= P are out of field and therefore
// off-curve.
func onCurve(digest [32]byte) bool {
	params := ethcrypto.S256().Params()
	x := new(big.Int).SetBytes(digest[:])
	if x.Cmp(params.P) >= 0 {
		return false
	}
	// y^2 = x^3 + B mod P; the digest is on-curve iff the RHS has a root.
	rhs := new(big.Int).Exp(x, big.NewInt(3), params.P)
	rhs.Add(rhs, params.B)
	rhs.Mod(rhs, params.P)
	return new(big.Int).ModSqrt(rhs, params.P) != nil
}

func toAddress(digest [32]byte) [20]byte {
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}
