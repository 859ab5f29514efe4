package trie

// NodeStore is the pluggable backing key-value store for trie nodes
// (spec §6.1). Keys are nibble paths from the trie root — the empty path
// addresses the root slot — rather than node hashes: this lets a store
// group sibling nodes physically and lets the trie cross-check the
// fetched bytes against the hash reference that led to it, instead of
// trusting the store's own indexing to be tamper-proof.
type NodeStore interface {
	// Get returns the encoded node stored at path, or found=false if
	// nothing is stored there.
	Get(path []byte) (blob []byte, found bool, err error)
	// PutBatch applies entries atomically with respect to subsequent
	// Get calls once Commit returns. An entry with an empty Blob deletes
	// the path.
	PutBatch(entries []PutEntry) error
	// Commit makes the most recent PutBatch durable and visible to future
	// readers/instances of the store.
	Commit() error
}

// PutEntry is a single (path, encoded-node) write. An empty Blob denotes
// deletion of Path.
type PutEntry struct {
	Path []byte
	Blob []byte
}

// flatKVHinter declares the optional flat_kv_computed capability of spec
// §6.1 that a NodeStore may implement. Trie never type-asserts for it, so
// implementing it does not change how lookups resolve.
type flatKVHinter interface {
	FlatKVComputed(path []byte) bool
}
