package trie

// batchItem is one pending update against the trie during a grouped batch
// traversal. key is the full hex nibble path (including the terminator);
// value is set for inserts and ignored for removals.
type batchItem struct {
	key   []byte
	value node
}

// batchInsert applies a group of inserts sharing the subtree rooted at n in
// one resolve of n, recursing once per distinct child subtree instead of
// once per key. Every leaf below n is reached by exactly one call in this
// traversal, matching spec §4.1's "DB reads per node at most 1".
func (t *Trie) batchInsert(n node, path []byte, depth int, items []batchItem) (node, error) {
	n, err := t.resolve(n, path)
	if err != nil {
		return nil, err
	}
	if len(items) == 1 {
		it := items[0]
		return t.insert(n, path, it.key[depth:], it.value)
	}

	switch n := n.(type) {
	case nil:
		return t.batchInsertFresh(path, depth, items)

	case *shortNode:
		return t.batchInsertShort(n, path, depth, items)

	case *fullNode:
		return t.batchInsertFull(n, path, depth, items)

	default:
		return nil, newInconsistentErr(path, errUnknownNode)
	}
}

// batchInsertShort splits a multi-item group against an existing leaf or
// extension node. If every item's suffix matches the node's full key, the
// whole group continues together into the child (the common case: one
// resolve, one recursive call for the entire group). Otherwise the group
// diverges partway through the key and a branch must be introduced at the
// point of first divergence, same as a single insert's split case.
func (t *Trie) batchInsertShort(n *shortNode, path []byte, depth int, items []batchItem) (node, error) {
	commonLen := len(n.Key)
	for _, it := range items {
		if m := prefixLen(it.key[depth:], n.Key); m < commonLen {
			commonLen = m
		}
	}
	if commonLen == len(n.Key) {
		child, err := t.batchInsert(n.Val, concat(path, n.Key), depth+len(n.Key), items)
		if err != nil {
			return nil, err
		}
		return &shortNode{Key: n.Key, Val: child, flags: nodeFlag{dirty: true}}, nil
	}

	branch := &fullNode{flags: nodeFlag{dirty: true}}
	oldNibble := n.Key[commonLen]
	buckets := make(map[byte][]batchItem)
	var continuing []batchItem
	for _, it := range items {
		nib := it.key[depth:][commonLen]
		if nib == oldNibble {
			continuing = append(continuing, it)
		} else {
			buckets[nib] = append(buckets[nib], it)
		}
	}

	oldRemainder := n.Key[commonLen+1:]
	var oldNode node
	if len(oldRemainder) == 0 {
		oldNode = n.Val
	} else {
		oldNode = &shortNode{Key: oldRemainder, Val: n.Val, flags: nodeFlag{dirty: true}}
	}
	if len(continuing) > 0 {
		child, err := t.batchInsert(oldNode, concat(path, n.Key[:commonLen+1]), depth+commonLen+1, continuing)
		if err != nil {
			return nil, err
		}
		branch.Children[oldNibble] = child
	} else {
		branch.Children[oldNibble] = oldNode
	}

	for nib, bucket := range buckets {
		child, err := t.batchInsertFresh(concat(path, n.Key[:commonLen], []byte{nib}), depth+commonLen+1, bucket)
		if err != nil {
			return nil, err
		}
		branch.Children[nib] = child
	}

	if commonLen > 0 {
		return &shortNode{Key: n.Key[:commonLen], Val: branch, flags: nodeFlag{dirty: true}}, nil
	}
	return branch, nil
}

// batchInsertFull groups a multi-item update set by the nibble at depth
// and recurses into each occupied child once, reusing any node already
// resolved this pass for children visited by more than one item.
func (t *Trie) batchInsertFull(n *fullNode, path []byte, depth int, items []batchItem) (node, error) {
	nn := n.copy()
	nn.flags = nodeFlag{dirty: true}
	buckets := make(map[byte][]batchItem)
	for _, it := range items {
		nib := it.key[depth]
		buckets[nib] = append(buckets[nib], it)
	}
	for nib, bucket := range buckets {
		child, err := t.batchInsert(nn.Children[nib], concat(path, []byte{nib}), depth+1, bucket)
		if err != nil {
			return nil, err
		}
		nn.Children[nib] = child
	}
	return nn, nil
}

// batchInsertFresh builds a brand-new subtree for a group of items with no
// existing node to resolve against (no DB reads possible or needed here).
func (t *Trie) batchInsertFresh(path []byte, depth int, items []batchItem) (node, error) {
	if len(items) == 1 {
		it := items[0]
		return t.insert(nil, path, it.key[depth:], it.value)
	}

	first := items[0].key[depth:]
	commonLen := len(first)
	for _, it := range items[1:] {
		if m := prefixLen(it.key[depth:], first); m < commonLen {
			commonLen = m
		}
	}

	branch := &fullNode{flags: nodeFlag{dirty: true}}
	buckets := make(map[byte][]batchItem)
	for _, it := range items {
		nib := it.key[depth:][commonLen]
		buckets[nib] = append(buckets[nib], it)
	}
	for nib, bucket := range buckets {
		child, err := t.batchInsertFresh(concat(path, first[:commonLen], []byte{nib}), depth+commonLen+1, bucket)
		if err != nil {
			return nil, err
		}
		branch.Children[nib] = child
	}
	if commonLen > 0 {
		return &shortNode{Key: first[:commonLen], Val: branch, flags: nodeFlag{dirty: true}}, nil
	}
	return branch, nil
}

// batchDelete mirrors batchInsert for a group of removals: it resolves n
// once and recurses once per subtree that actually contains one of the
// target keys, applying the same branch-collapse rule as a single delete
// (I-TR3) once every affected child has been processed.
func (t *Trie) batchDelete(n node, path []byte, depth int, items []batchItem) (node, error) {
	n, err := t.resolve(n, path)
	if err != nil {
		return nil, err
	}
	if len(items) == 1 {
		return t.delete(n, path, items[0].key[depth:])
	}

	switch n := n.(type) {
	case nil:
		return nil, nil

	case *shortNode:
		var matching []batchItem
		for _, it := range items {
			suffix := it.key[depth:]
			if prefixLen(suffix, n.Key) == len(n.Key) {
				matching = append(matching, it)
			}
		}
		if len(matching) == 0 {
			return n, nil
		}
		child, err := t.batchDelete(n.Val, concat(path, n.Key), depth+len(n.Key), matching)
		if err != nil {
			return nil, err
		}
		switch child := child.(type) {
		case nil:
			return nil, nil
		case *shortNode:
			return &shortNode{Key: concat(n.Key, child.Key), Val: child.Val, flags: nodeFlag{dirty: true}}, nil
		default:
			return &shortNode{Key: n.Key, Val: child, flags: nodeFlag{dirty: true}}, nil
		}

	case *fullNode:
		nn := n.copy()
		nn.flags = nodeFlag{dirty: true}
		buckets := make(map[byte][]batchItem)
		for _, it := range items {
			nib := it.key[depth]
			buckets[nib] = append(buckets[nib], it)
		}
		for nib, bucket := range buckets {
			child, err := t.batchDelete(nn.Children[nib], concat(path, []byte{nib}), depth+1, bucket)
			if err != nil {
				return nil, err
			}
			nn.Children[nib] = child
		}
		return t.collapseFullNode(nn, path)

	case valueNode:
		return nil, newInconsistentErr(path, errUnknownNode)

	default:
		return nil, newInconsistentErr(path, errUnknownNode)
	}
}

// collapseFullNode applies spec §4.1's branch-collapse rule: a branch left
// with zero children disappears, one remaining child collapses into an
// extension or leaf (merging keys if that child is itself a shortNode),
// and two or more children stay a branch. Shared by single-key delete and
// batchDelete so the two paths can never drift apart.
func (t *Trie) collapseFullNode(nn *fullNode, path []byte) (node, error) {
	remaining := -1
	for i := 0; i < 17; i++ {
		if nn.Children[i] != nil {
			if remaining >= 0 {
				return nn, nil
			}
			remaining = i
		}
	}
	if remaining < 0 {
		return nil, nil
	}
	if remaining == 16 {
		return &shortNode{Key: []byte{terminatorByte}, Val: nn.Children[16], flags: nodeFlag{dirty: true}}, nil
	}
	// Resolve the sole remaining child to decide how to collapse: a
	// hashNode child must be fetched to know whether it is itself a
	// leaf/extension (merge keys) or a branch (wrap in a 1-nibble
	// extension), per spec §4.1's three collapse cases.
	childPath := concat(path, []byte{byte(remaining)})
	child, err := t.resolve(nn.Children[remaining], childPath)
	if err != nil {
		return nil, err
	}
	if cnode, ok := child.(*shortNode); ok {
		return &shortNode{Key: concat([]byte{byte(remaining)}, cnode.Key), Val: cnode.Val, flags: nodeFlag{dirty: true}}, nil
	}
	return &shortNode{Key: []byte{byte(remaining)}, Val: child, flags: nodeFlag{dirty: true}}, nil
}
