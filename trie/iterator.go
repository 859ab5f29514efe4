package trie

// Iterator performs an in-order, depth-first walk over all key-value
// pairs in a trie, resolving hash nodes against the trie's backing store
// as it descends (spec §4.1 "Iteration"). Used for validation and
// snap-sync-style full scans.
//
// Usage:
//
//	it := NewIterator(t)
//	for it.Next() {
//	    key, value := it.Key, it.Value
//	}
//	if err := it.Err(); err != nil {
//	    // handle error
//	}
type Iterator struct {
	trie  *Trie
	Key   []byte
	Value []byte

	stack []iterFrame
	err   error
}

type iterFrame struct {
	node  node
	path  []byte
	index int
}

// NewIterator creates an iterator positioned before the first element.
func NewIterator(t *Trie) *Iterator {
	it := &Iterator{trie: t}
	if t.root != nil {
		it.stack = []iterFrame{{node: t.root, path: nil, index: 0}}
	}
	return it
}

// Next advances to the next key-value pair, returning false once
// iteration completes or a resolution error occurs (check Err).
func (it *Iterator) Next() bool {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]

		resolved, err := it.trie.resolve(top.node, top.path)
		if err != nil {
			it.err = err
			it.stack = it.stack[:0]
			return false
		}
		top.node = resolved

		switch n := resolved.(type) {
		case nil:
			it.stack = it.stack[:len(it.stack)-1]

		case *shortNode:
			if top.index > 0 {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}
			top.index = 1
			childPath := concat(top.path, n.Key)

			if v, ok := n.Val.(valueNode); ok {
				if hasTerm(childPath) {
					it.Key = hexToKeybytes(childPath[:len(childPath)-1])
				} else {
					it.Key = hexToKeybytes(childPath)
				}
				it.Value = append([]byte(nil), v...)
				return true
			}
			it.stack = append(it.stack, iterFrame{node: n.Val, path: childPath, index: 0})

		case *fullNode:
			found := false
			for top.index <= 16 {
				idx := top.index
				top.index++

				if idx == 0 {
					if v, ok := n.Children[16].(valueNode); ok {
						it.Key = hexToKeybytes(top.path)
						it.Value = append([]byte(nil), v...)
						return true
					}
					continue
				}

				childIdx := idx - 1
				child := n.Children[childIdx]
				if child == nil {
					continue
				}
				childPath := concat(top.path, []byte{byte(childIdx)})
				it.stack = append(it.stack, iterFrame{node: child, path: childPath, index: 0})
				found = true
				break
			}
			if !found {
				it.stack = it.stack[:len(it.stack)-1]
			}

		case valueNode:
			it.stack = it.stack[:len(it.stack)-1]
			if hasTerm(top.path) {
				it.Key = hexToKeybytes(top.path[:len(top.path)-1])
			} else if len(top.path)%2 == 0 {
				it.Key = hexToKeybytes(top.path)
			} else {
				continue
			}
			it.Value = append([]byte(nil), n...)
			return true

		default:
			it.stack = it.stack[:len(it.stack)-1]
		}
	}
	return false
}

// Err returns any error encountered during iteration.
func (it *Iterator) Err() error {
	return it.err
}
