package trie

import (
	"errors"

	"github.com/ethnova/statecore/crypto"
	"github.com/ethnova/statecore/types"
)

// errFlatChildUnconstructed is the value stage panics with when a Put* call
// references a view index that has not been staged yet, violating I-F1
// (topological order).
var errFlatChildUnconstructed = errors.New("flattrie: child index refers to an unconstructed view")

type flatPointerKind byte

const (
	ptrInBuffer flatPointerKind = iota
	ptrInPut
)

// flatPointer is either InBuffer(start,end), once materialized, or
// InPut(index) while still staged (spec §3.7).
type flatPointer struct {
	kind       flatPointerKind
	start, end int
	index      int
}

type flatNodeKind byte

const (
	flatLeaf flatNodeKind = iota
	flatExtension
	flatBranch
)

// flatView is one entry in the FlatTrie's view vector.
type flatView struct {
	pointer  flatPointer
	kind     flatNodeKind
	children []int // view indices this node depends on, always < its own index (I-F1)
	hash     types.Hash
}

type pendingNode struct {
	kind     flatNodeKind
	key      []byte   // compact-encoded key, for leaf/extension
	value    []byte   // leaf value, or branch's 17th slot
	children [16]int  // branch: view-index+1 per nibble, 0 = absent
	childRef int       // extension: view-index+1 of its single child
}

// FlatTrie is an append-only, store-free MPT builder (spec §3.7, §4.2): a
// contiguous byte buffer holding the RLP of each node in construction order,
// plus an ordered vector of views. Put* calls stage new views in InPut mode;
// ApplyPuts folds them into the buffer and rewrites their pointers. It needs
// no backing NodeStore.
type FlatTrie struct {
	buf     []byte
	views   []flatView
	pending []pendingNode
	rootIdx int
	root    types.Hash
	authed  bool
}

// NewFlatTrie returns an empty FlatTrie.
func NewFlatTrie() *FlatTrie {
	return &FlatTrie{rootIdx: -1}
}

// PutLeaf stages a leaf view for partial (raw nibbles, no terminator) and
// value, returning its view index.
func (f *FlatTrie) PutLeaf(partial, value []byte) int {
	leafKey := append(append([]byte(nil), partial...), terminatorByte)
	pn := pendingNode{kind: flatLeaf, key: hexToCompact(leafKey), value: append([]byte(nil), value...)}
	return f.stage(flatLeaf, pn, nil)
}

// PutExtension stages an extension view over child, a previously-staged
// view index (I-F1: child must already exist).
func (f *FlatTrie) PutExtension(prefix []byte, child int) int {
	pn := pendingNode{kind: flatExtension, key: hexToCompact(append([]byte(nil), prefix...)), childRef: child + 1}
	return f.stage(flatExtension, pn, []int{child})
}

// PutBranch stages a branch view. children[i] < 0 means no child at nibble
// i; value is the branch's 17th slot, nil if absent.
func (f *FlatTrie) PutBranch(children [16]int, value []byte) int {
	var pn pendingNode
	pn.kind = flatBranch
	if len(value) > 0 {
		pn.value = append([]byte(nil), value...)
	}
	var deps []int
	for i, c := range children {
		if c >= 0 {
			pn.children[i] = c + 1
			deps = append(deps, c)
		}
	}
	return f.stage(flatBranch, pn, deps)
}

func (f *FlatTrie) stage(kind flatNodeKind, pn pendingNode, deps []int) int {
	for _, d := range deps {
		if d < 0 || d >= len(f.views) {
			panic(errFlatChildUnconstructed)
		}
	}
	f.pending = append(f.pending, pn)
	idx := len(f.views)
	f.views = append(f.views, flatView{
		pointer:  flatPointer{kind: ptrInPut, index: len(f.pending) - 1},
		kind:     kind,
		children: deps,
	})
	f.rootIdx = idx
	f.authed = false
	return idx
}

// ApplyPuts materializes every InPut view's RLP encoding into the buffer in
// view order (already topological per I-F1) and rewrites its pointer to
// InBuffer(start,end). The root index is always the last-inserted view
// afterward (I-F2).
func (f *FlatTrie) ApplyPuts() error {
	for i := range f.views {
		v := &f.views[i]
		if v.pointer.kind != ptrInPut {
			continue
		}
		enc, err := f.encodeView(i)
		if err != nil {
			return err
		}
		start := len(f.buf)
		f.buf = append(f.buf, enc...)
		v.pointer = flatPointer{kind: ptrInBuffer, start: start, end: len(f.buf)}
		v.hash = crypto.Keccak256Hash(enc)
	}
	return nil
}

// nodeBytes returns the RLP encoding of view idx, from the buffer if
// already applied, otherwise computed on demand.
func (f *FlatTrie) nodeBytes(idx int) []byte {
	v := f.views[idx]
	if v.pointer.kind == ptrInBuffer {
		return f.buf[v.pointer.start:v.pointer.end]
	}
	enc, _ := f.encodeView(idx)
	return enc
}

// childRef returns the reference bytes for child view idx used inside a
// parent's encoding: the raw encoding when under 32 bytes (inline), else
// the 32-byte hash.
func (f *FlatTrie) childRef(idx int) []byte {
	enc := f.nodeBytes(idx)
	if len(enc) < 32 {
		return enc
	}
	h := f.views[idx].hash
	if h == (types.Hash{}) {
		h = crypto.Keccak256Hash(enc)
	}
	return append([]byte(nil), h[:]...)
}

func (f *FlatTrie) encodeView(idx int) ([]byte, error) {
	v := f.views[idx]
	pn := f.pending[v.pointer.index]
	switch v.kind {
	case flatLeaf:
		return encodeRLPList(encodeRLPBytes(pn.key), encodeRLPBytes(pn.value)), nil

	case flatExtension:
		child := pn.childRef - 1
		ref := f.childRef(child)
		if len(ref) == 32 {
			return encodeRLPList(encodeRLPBytes(pn.key), encodeRLPBytes(ref)), nil
		}
		return encodeRLPList(encodeRLPBytes(pn.key), ref), nil

	case flatBranch:
		items := make([][]byte, 17)
		for i := 0; i < 16; i++ {
			if pn.children[i] == 0 {
				items[i] = []byte{0x80}
				continue
			}
			ref := f.childRef(pn.children[i] - 1)
			if len(ref) == 32 {
				items[i] = encodeRLPBytes(ref)
			} else {
				items[i] = ref
			}
		}
		if len(pn.value) == 0 {
			items[16] = []byte{0x80}
		} else {
			items[16] = encodeRLPBytes(pn.value)
		}
		return encodeRLPList(items...), nil

	default:
		return nil, errors.New("flattrie: unknown node kind")
	}
}

// Authenticate walks every materialized view from the root, recomputing
// each node's hash from its buffer bytes and verifying it against the hash
// recorded at ApplyPuts time, recursively over children. It succeeds by
// initializing Root() and returns false on the first mismatch (spec §4.2).
func (f *FlatTrie) Authenticate() (types.Hash, bool) {
	if f.rootIdx < 0 {
		f.root = emptyRoot
		f.authed = true
		return f.root, true
	}
	if f.views[f.rootIdx].pointer.kind != ptrInBuffer {
		return types.Hash{}, false
	}
	if !f.authenticateView(f.rootIdx) {
		return types.Hash{}, false
	}
	f.root = f.views[f.rootIdx].hash
	f.authed = true
	return f.root, true
}

func (f *FlatTrie) authenticateView(idx int) bool {
	v := f.views[idx]
	if v.pointer.kind != ptrInBuffer {
		return false
	}
	enc := f.buf[v.pointer.start:v.pointer.end]
	if crypto.Keccak256Hash(enc) != v.hash {
		return false
	}
	for _, c := range v.children {
		if !f.authenticateView(c) {
			return false
		}
	}
	return true
}

// Root returns the authenticated root hash and whether Authenticate has
// succeeded since the last Put call.
func (f *FlatTrie) Root() (types.Hash, bool) {
	return f.root, f.authed
}

// encodeRLPList wraps already RLP-encoded items as a list.
func encodeRLPList(items ...[]byte) []byte {
	var payload []byte
	for _, it := range items {
		payload = append(payload, it...)
	}
	return wrapListPayload(payload)
}
