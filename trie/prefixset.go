package trie

import "sort"

// PrefixSet tracks a set of nibble paths touched during a sparse-trie
// update pass and answers mutual-prefix overlap queries (spec §4.2): a path
// is "contained" if it is a prefix of some stored path, or some stored path
// is a prefix of it.
type PrefixSet struct {
	paths  [][]byte
	sorted bool
}

// NewPrefixSet returns an empty PrefixSet.
func NewPrefixSet() *PrefixSet {
	return &PrefixSet{}
}

// Insert records path as modified.
func (p *PrefixSet) Insert(path []byte) {
	cp := make([]byte, len(path))
	copy(cp, path)
	p.paths = append(p.paths, cp)
	p.sorted = false
}

// Len returns the number of inserts recorded; a path inserted more than
// once is counted each time.
func (p *PrefixSet) Len() int {
	return len(p.paths)
}

func (p *PrefixSet) ensureSorted() {
	if p.sorted {
		return
	}
	sort.Slice(p.paths, func(i, j int) bool {
		return compareBytesLess(p.paths[i], p.paths[j])
	})
	p.sorted = true
}

// Contains reports whether path overlaps any stored path as a mutual
// prefix in either direction.
func (p *PrefixSet) Contains(path []byte) bool {
	p.ensureSorted()
	if len(p.paths) == 0 {
		return false
	}
	idx := sort.Search(len(p.paths), func(i int) bool {
		return !compareBytesLess(p.paths[i], path)
	})
	if idx < len(p.paths) && isNibblePrefix(path, p.paths[idx]) {
		return true
	}
	// A stored prefix of path need not sort directly before it, so each
	// shorter prefix of path is looked up exactly.
	for i := 0; i < len(path); i++ {
		prefix := path[:i]
		j := sort.Search(len(p.paths), func(k int) bool {
			return !compareBytesLess(p.paths[k], prefix)
		})
		if j < len(p.paths) && len(p.paths[j]) == i && isNibblePrefix(prefix, p.paths[j]) {
			return true
		}
	}
	return false
}

// isNibblePrefix reports whether prefix is a prefix of s.
func isNibblePrefix(prefix, s []byte) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i, b := range prefix {
		if s[i] != b {
			return false
		}
	}
	return true
}
