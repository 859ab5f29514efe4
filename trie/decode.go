package trie

import "errors"

// decodeRLPList splits a top-level RLP list encoding into its item byte
// strings, without recursing into nested lists. Each returned slice is the
// raw content bytes of a string item (an embedded list item, as used for
// an inline child node, is returned as its full encoding instead).
func decodeRLPList(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("trie: empty RLP data")
	}
	payload, err := rlpListPayload(data)
	if err != nil {
		return nil, err
	}
	var items [][]byte
	for len(payload) > 0 {
		item, rest, err := rlpNextItem(payload)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		payload = rest
	}
	return items, nil
}

// rlpListPayload validates that data is an RLP list and returns its payload.
func rlpListPayload(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("trie: empty RLP data")
	}
	b0 := data[0]
	switch {
	case b0 >= 0xc0 && b0 <= 0xf7:
		n := int(b0 - 0xc0)
		if len(data) < 1+n {
			return nil, errors.New("trie: truncated RLP list")
		}
		return data[1 : 1+n], nil
	case b0 >= 0xf8:
		lenOfLen := int(b0 - 0xf7)
		if len(data) < 1+lenOfLen {
			return nil, errors.New("trie: truncated RLP list length")
		}
		n := 0
		for _, bb := range data[1 : 1+lenOfLen] {
			n = n<<8 | int(bb)
		}
		if len(data) < 1+lenOfLen+n {
			return nil, errors.New("trie: truncated RLP list")
		}
		return data[1+lenOfLen : 1+lenOfLen+n], nil
	default:
		return nil, errors.New("trie: expected RLP list")
	}
}

// rlpNextItem reads one RLP item (string or list) from the front of data
// and returns its "value" bytes: for a string, the content; for a list,
// the full original encoding (so callers can treat it as an inline node).
func rlpNextItem(data []byte) (item []byte, rest []byte, err error) {
	if len(data) == 0 {
		return nil, nil, errors.New("trie: unexpected end of RLP data")
	}
	b0 := data[0]
	switch {
	case b0 < 0x80:
		return data[0:1], data[1:], nil
	case b0 <= 0xb7:
		n := int(b0 - 0x80)
		if len(data) < 1+n {
			return nil, nil, errors.New("trie: truncated RLP string")
		}
		return data[1 : 1+n], data[1+n:], nil
	case b0 <= 0xbf:
		lenOfLen := int(b0 - 0xb7)
		if len(data) < 1+lenOfLen {
			return nil, nil, errors.New("trie: truncated RLP string length")
		}
		n := 0
		for _, bb := range data[1 : 1+lenOfLen] {
			n = n<<8 | int(bb)
		}
		if len(data) < 1+lenOfLen+n {
			return nil, nil, errors.New("trie: truncated RLP string")
		}
		return data[1+lenOfLen : 1+lenOfLen+n], data[1+lenOfLen+n:], nil
	case b0 <= 0xf7:
		n := int(b0 - 0xc0)
		total := 1 + n
		if len(data) < total {
			return nil, nil, errors.New("trie: truncated RLP list")
		}
		return data[:total], data[total:], nil
	default:
		lenOfLen := int(b0 - 0xf7)
		if len(data) < 1+lenOfLen {
			return nil, nil, errors.New("trie: truncated RLP list length")
		}
		n := 0
		for _, bb := range data[1 : 1+lenOfLen] {
			n = n<<8 | int(bb)
		}
		total := 1 + lenOfLen + n
		if len(data) < total {
			return nil, nil, errors.New("trie: truncated RLP list")
		}
		return data[:total], data[total:], nil
	}
}

// decodeNode parses the RLP encoding of a single trie node (a 2-item
// shortNode list or a 17-item fullNode list) back into the node interface.
// hash, if non-nil, is cached on the resulting node's flags.
func decodeNode(hash []byte, buf []byte) (node, error) {
	items, err := decodeRLPList(buf)
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 2:
		key := compactToHex(items[0])
		if hasTerm(key) {
			return &shortNode{Key: key, Val: valueNode(items[1]), flags: nodeFlag{hash: hash}}, nil
		}
		val, err := decodeNodeRef(items[1])
		if err != nil {
			return nil, err
		}
		return &shortNode{Key: key, Val: val, flags: nodeFlag{hash: hash}}, nil
	case 17:
		n := &fullNode{flags: nodeFlag{hash: hash}}
		for i := 0; i < 16; i++ {
			child, err := decodeNodeRef(items[i])
			if err != nil {
				return nil, err
			}
			n.Children[i] = child
		}
		if len(items[16]) > 0 {
			n.Children[16] = valueNode(items[16])
		}
		return n, nil
	default:
		return nil, errors.New("trie: invalid node encoding: expected 2 or 17 items")
	}
}

// decodeNodeRef interprets one child slot: empty string => nil, 32-byte
// string => hashNode reference, anything else => the original embedded
// item is itself an inline-encoded node and must be re-decoded.
func decodeNodeRef(item []byte) (node, error) {
	switch {
	case len(item) == 0:
		return nil, nil
	case len(item) == 32:
		return hashNode(item), nil
	default:
		// Inline node: the encoder splices a child's RLP list (<32 bytes)
		// into its parent directly, and rlpNextItem returns that nested
		// list whole, so item is the child node's own list encoding.
		return decodeNode(nil, item)
	}
}
