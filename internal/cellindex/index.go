// Package cellindex implements the hierarchical data-cell coordinate that
// every product, message and scope in the scheduler is keyed by.
package cellindex

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/tmthrgd/go-hex"
)

// MaxNumber is the sentinel data-cell number reserved for the base (root)
// index. No real index may use it.
const MaxNumber = ^uint64(0)

const baseLayerName = "job"

// Index is an immutable node in the hierarchy tree. The zero value is not
// valid; use Base() or a parent's MakeChild.
type Index struct {
	parent    *Index
	number    uint64
	layerName string
	layerHash uint64
	depth     uint64
	hash      uint64
}

var baseIndex = &Index{
	number:    MaxNumber,
	layerName: baseLayerName,
	layerHash: hashBytes([]byte(baseLayerName)),
}

// Base returns the shared root index. Every index chain bottoms out here.
func Base() *Index { return baseIndex }

// MakeChild creates a child of idx at the given layer, numbered number.
// idx is never mutated; the returned Index is a new, independent value.
func (idx *Index) MakeChild(number uint64, layerName string) *Index {
	layerHash := combine(idx.layerHash, hashBytes([]byte(layerName)))
	return &Index{
		parent:    idx,
		number:    number,
		layerName: layerName,
		layerHash: layerHash,
		depth:     idx.depth + 1,
		hash:      combine(idx.hash, number, layerHash),
	}
}

// LayerName returns the name of the layer this index occupies.
func (idx *Index) LayerName() string { return idx.layerName }

// Number returns the data-cell number, or MaxNumber for the base index.
func (idx *Index) Number() uint64 { return idx.number }

// Depth returns the distance from the base index (base has depth 0).
func (idx *Index) Depth() uint64 { return idx.depth }

// Hash returns the 64-bit content hash of the full index chain.
func (idx *Index) Hash() uint64 { return idx.hash }

// LayerHash returns the 64-bit hash of the layer-name chain, independent of
// data-cell numbers. Two indices at the same position in the hierarchy
// (same sequence of layer names) share a LayerHash.
func (idx *Index) LayerHash() uint64 { return idx.layerHash }

// HasParent reports whether idx has an ancestor (false only for Base()).
func (idx *Index) HasParent() bool { return idx.parent != nil }

// Parent returns the immediate parent, or nil for the base index.
func (idx *Index) Parent() *Index { return idx.parent }

// ParentAt walks up the chain until it finds an ancestor whose layer name
// matches layerName, returning the nearest such ancestor, or nil if none
// exists on the path from root to idx.
func (idx *Index) ParentAt(layerName string) *Index {
	for p := idx.parent; p != nil; p = p.parent {
		if p.layerName == layerName {
			return p
		}
	}
	return nil
}

// LayerPath returns "/" + layer names from root to idx, slash-separated,
// e.g. "/job/run/subrun/event".
func (idx *Index) LayerPath() string {
	names := idx.layerChain()
	return "/" + strings.Join(names, "/")
}

func (idx *Index) layerChain() []string {
	names := make([]string, idx.depth+1)
	cur := idx
	for i := int(idx.depth); i >= 0; i-- {
		names[i] = cur.layerName
		cur = cur.parent
	}
	return names
}

// numberChain returns the numbers from root to idx, excluding the base's
// sentinel number. Used for lexicographic ordering.
func (idx *Index) numberChain() []uint64 {
	if !idx.HasParent() {
		return nil
	}
	nums := make([]uint64, idx.depth)
	cur := idx
	for i := int(idx.depth); i > 0; i-- {
		nums[i-1] = cur.number
		cur = cur.parent
	}
	return nums
}

// Less reports whether idx sorts before other: the sequence of numbers from
// root to idx lexicographically precedes that of other.
func (idx *Index) Less(other *Index) bool {
	a, b := idx.numberChain(), other.numberChain()
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Equal reports deep structural equality (depth, layer hash and every
// number along the chain must match).
func (idx *Index) Equal(other *Index) bool {
	if idx == other {
		return true
	}
	if other == nil || idx.depth != other.depth || idx.number != other.number || idx.layerHash != other.layerHash {
		return false
	}
	if idx.parent == nil {
		return other.parent == nil
	}
	if other.parent == nil {
		return false
	}
	return idx.parent.Equal(other.parent)
}

// String renders a compact diagnostic form, innermost-first:
// "[event:3, subrun:1, run:0]". Mirrors the original framework's
// to_string()/to_string_this_layer().
func (idx *Index) String() string {
	if idx.number == MaxNumber {
		return "[]"
	}
	var parts []string
	for cur := idx; cur != nil && cur.number != MaxNumber; cur = cur.parent {
		parts = append(parts, cur.layerName+":"+strconv.FormatUint(cur.number, 10))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// HashHex renders Hash's eight bytes, least-significant byte first, as
// lowercase hex, for compact diagnostic output.
func (idx *Index) HashHex() string {
	var buf [8]byte
	putUint64(buf[:], idx.hash)
	return hex.EncodeToString(buf[:])
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// combine deterministically mixes a sequence of 64-bit values into one
// hash, used for both the layer-hash and content-hash contracts.
func combine(parts ...uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, p := range parts {
		putUint64(buf[:], p)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}
