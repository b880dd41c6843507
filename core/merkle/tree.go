package merkle

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTree    = errors.New("merkle: tree requires at least one leaf")
	ErrIndexRange   = errors.New("merkle: leaf index out of range")
	ErrTreeTooLarge = errors.New("merkle: too many leaves")
)

// maxLeaves keeps every index representable as a uint32 pack index.
const maxLeaves = 1 << 31

// Tree is a complete binary tree over the pack leaves. The leaf level is
// padded with zero digests up to the next power of two.
type Tree struct {
	levels [][][32]byte
	count  int
}

// NewTree builds the tree for leaves in pack index order.
func NewTree(leaves [][32]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if len(leaves) > maxLeaves {
		return nil, ErrTreeTooLarge
	}
	width := 1
	for width < len(leaves) {
		width <<= 1
	}
	level := make([][32]byte, width)
	copy(level, leaves)

	levels := [][][32]byte{level}
	for len(level) > 1 {
		next := make([][32]byte, len(level)/2)
		for i := range next {
			next[i] = HashPair(level[2*i], level[2*i+1])
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels, count: len(leaves)}, nil
}

// Root returns the committed root.
func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of real (unpadded) leaves.
func (t *Tree) Len() int { return t.count }

// Depth returns the number of siblings in every proof.
func (t *Tree) Depth() int { return len(t.levels) - 1 }

// Leaf returns the leaf stored at index.
func (t *Tree) Leaf(index uint32) ([32]byte, error) {
	if int(index) >= t.count {
		return [32]byte{}, fmt.Errorf("%w: %d", ErrIndexRange, index)
	}
	return t.levels[0][index], nil
}

// Proof returns the sibling path for index, bottom up.
func (t *Tree) Proof(index uint32) ([][32]byte, error) {
	if int(index) >= t.count {
		return nil, fmt.Errorf("%w: %d", ErrIndexRange, index)
	}
	proof := make([][32]byte, 0, t.Depth())
	idx := int(index)
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx + 1
		if idx%2 == 1 {
			sibling = idx - 1
		}
		proof = append(proof, level[sibling])
		idx /= 2
	}
	return proof, nil
}
