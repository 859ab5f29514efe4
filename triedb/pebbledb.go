package triedb

import (
	"github.com/cockroachdb/pebble"
	"github.com/golang/snappy"

	"github.com/ethnova/statecore/log"
	"github.com/ethnova/statecore/trie"
)

// nodeKeyPrefix namespaces trie node entries within a Pebble instance that
// may also hold other keyspaces (receipts, headers, ...) in a full client.
var nodeKeyPrefix = []byte{'n'}

// PebbleStore is a trie.NodeStore backed by a Pebble key-value database.
// Node blobs are snappy-compressed before they hit disk, matching the
// compression go-ethereum's freezer/ancient store applies to large blobs.
// Keys are the node path prefixed with nodeKeyPrefix so the node keyspace
// can share a Pebble instance with other data.
type PebbleStore struct {
	db     *pebble.DB
	batch  *pebble.Batch
	log    *log.Logger
}

// OpenPebbleStore opens (creating if necessary) a Pebble database at dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, log: log.Default().Module("triedb.pebble")}, nil
}

func nodeKey(path []byte) []byte {
	k := make([]byte, len(nodeKeyPrefix)+len(path))
	copy(k, nodeKeyPrefix)
	copy(k[len(nodeKeyPrefix):], path)
	return k
}

// Get implements trie.NodeStore.
func (p *PebbleStore) Get(path []byte) ([]byte, bool, error) {
	compressed, closer, err := p.db.Get(nodeKey(path))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	blob, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

// PutBatch implements trie.NodeStore, staging entries into a pending Pebble
// batch that is applied atomically on Commit.
func (p *PebbleStore) PutBatch(entries []trie.PutEntry) error {
	if p.batch == nil {
		p.batch = p.db.NewBatch()
	}
	for _, e := range entries {
		if len(e.Blob) == 0 {
			if err := p.batch.Delete(nodeKey(e.Path), nil); err != nil {
				return err
			}
			continue
		}
		compressed := snappy.Encode(nil, e.Blob)
		if err := p.batch.Set(nodeKey(e.Path), compressed, nil); err != nil {
			return err
		}
	}
	return nil
}

// Commit implements trie.NodeStore, flushing the pending batch to disk.
func (p *PebbleStore) Commit() error {
	if p.batch == nil {
		return nil
	}
	err := p.batch.Commit(pebble.Sync)
	p.batch = nil
	if err != nil {
		return err
	}
	p.log.Debug("triedb: pebble commit")
	return nil
}

// Close releases the underlying Pebble database.
func (p *PebbleStore) Close() error {
	return p.db.Close()
}
