// Package merkle implements the pack reward commitment: leaf hashing over
// (index, amount, salt) and position-ordered inclusion proofs.
//
// Sibling placement is decided by the bits of the leaf index, never by
// comparing digests. Proofs built any other way fail verification.
package merkle

import (
	"encoding/binary"

	sha256 "github.com/minio/sha256-simd"
)

// HashSize is the digest width of leaves, nodes and roots.
const HashSize = 32

// leafSize is LE32(index) || LE64(amount) || salt.
const leafSize = 4 + 8 + HashSize

// Leaf returns the commitment for one pack.
func Leaf(index uint32, amount uint64, salt [32]byte) [32]byte {
	var buf [leafSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], index)
	binary.LittleEndian.PutUint64(buf[4:12], amount)
	copy(buf[12:], salt[:])
	return sha256.Sum256(buf[:])
}

// HashPair hashes two nodes in the given order.
func HashPair(left, right [32]byte) [32]byte {
	var buf [2 * HashSize]byte
	copy(buf[:HashSize], left[:])
	copy(buf[HashSize:], right[:])
	return sha256.Sum256(buf[:])
}

// Verify folds proof into leaf and compares the result with root. An even
// index places the running hash on the left. It never fails loudly: wrong,
// short or long proofs simply return false.
func Verify(proof [][32]byte, root, leaf [32]byte, index uint32) bool {
	computed := leaf
	idx := index
	for _, sibling := range proof {
		if idx%2 == 0 {
			computed = HashPair(computed, sibling)
		} else {
			computed = HashPair(sibling, computed)
		}
		idx /= 2
	}
	return computed == root
}
