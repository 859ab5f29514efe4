package bal

import (
	"encoding/hex"
	"testing"

	"github.com/holiman/uint256"

	"github.com/ethnova/statecore/types"
)

// TestEmptyBALHash is scenario S5: an untouched recorder must produce the
// canonical empty-list hash.
func TestEmptyBALHash(t *testing.T) {
	r := NewRecorder()
	got, err := r.Build().ComputeHash()
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}
	if got != types.EmptyUncleHash {
		t.Fatalf("empty BAL hash = %s, want %s", got.Hex(), types.EmptyUncleHash.Hex())
	}
}

// TestNetZeroFiltering is scenario S6: a slot written away and back to its
// captured pre-value within one transaction must not appear in the built
// BAL at all.
func TestNetZeroFiltering(t *testing.T) {
	addr := types.HexToAddress("0x1111111111111111111111111111111111111111")
	slot := uint256.NewInt(0x10)

	r := NewRecorder()
	r.SetBlockAccessIndex(1)
	r.CapturePreStorage(addr, slot, uint256.NewInt(100))
	r.RecordStorageWrite(addr, slot, uint256.NewInt(200))
	r.RecordStorageWrite(addr, slot, uint256.NewInt(100))

	bal := r.Build()
	if len(bal.Accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(bal.Accounts))
	}
	if len(bal.Accounts[0].StorageChanges) != 0 {
		t.Fatalf("expected net-zero storage change to be filtered, got %+v", bal.Accounts[0].StorageChanges)
	}
}

// TestNetZeroDoesNotApplyToNonce verifies a recorded nonce change always
// reaches the built BAL: the recorder captures no pre-nonce to compare it
// against.
func TestNetZeroDoesNotApplyToNonce(t *testing.T) {
	addr := types.HexToAddress("0x2222222222222222222222222222222222222222")

	r := NewRecorder()
	r.SetBlockAccessIndex(1)
	r.RecordNonceChange(addr, 5)

	bal := r.Build()
	if len(bal.Accounts) != 1 || len(bal.Accounts[0].NonceChanges) != 1 {
		t.Fatalf("expected a recorded nonce change, got %+v", bal.Accounts)
	}
}

// TestSortedEncodingIndependentOfTouchOrder is scenario S7: touching three
// addresses in different orders must still produce the same BAL hash.
func TestSortedEncodingIndependentOfTouchOrder(t *testing.T) {
	alice := types.HexToAddress("0x00000000000000000000000000000000000001")
	bob := types.HexToAddress("0x00000000000000000000000000000000000002")
	charlie := types.HexToAddress("0x00000000000000000000000000000000000003")

	build := func(order []types.Address) types.Hash {
		r := NewRecorder()
		r.SetBlockAccessIndex(1)
		for _, a := range order {
			r.RecordTouchedAddress(a)
			r.RecordBalanceChange(a, uint256.NewInt(1))
		}
		h, err := r.Build().ComputeHash()
		if err != nil {
			t.Fatalf("compute hash: %v", err)
		}
		return h
	}

	h1 := build([]types.Address{charlie, alice, bob})
	h2 := build([]types.Address{alice, bob, charlie})
	if h1 != h2 {
		t.Fatalf("touch order changed BAL hash: %s != %s", h1.Hex(), h2.Hex())
	}
}

// TestRLPHexAnchor is scenario S8: a single-account BAL with a fixed shape
// must encode to the literal RLP byte sequence from the spec.
func TestRLPHexAnchor(t *testing.T) {
	addr := types.HexToAddress("0x000000000000000000000000000000000000000a")
	ac := AccountChanges{
		Address:      addr,
		StorageReads: []*uint256.Int{uint256.NewInt(1), uint256.NewInt(2)},
		BalanceChanges: []BalanceChange{
			{BlockAccessIndex: 1, PostBalance: uint256.NewInt(100)},
		},
		NonceChanges: []NonceChange{
			{BlockAccessIndex: 1, PostNonce: 1},
		},
	}
	bal := &BlockAccessList{Accounts: []AccountChanges{ac}}

	enc, err := bal.EncodeRLP()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "e3e294000000000000000000000000000000000000000ac0c20102c3c20164c3c20101c0"
	if got := hex.EncodeToString(enc); got != want {
		t.Fatalf("RLP encoding = %s, want %s", got, want)
	}
}

// TestCheckpointRestore exercises I-BAL1/I-BAL2/I-BAL3: reverting a nested
// checkpoint undoes every recorded mutation above the outer token but
// leaves the touched-address set intact.
func TestCheckpointRestore(t *testing.T) {
	addr := types.HexToAddress("0x3333333333333333333333333333333333333333")
	slot := uint256.NewInt(1)

	r := NewRecorder()
	r.SetBlockAccessIndex(1)
	r.CapturePreStorage(addr, slot, uint256.NewInt(0))

	outer := r.Checkpoint()
	r.RecordStorageWrite(addr, slot, uint256.NewInt(5))

	inner := r.Checkpoint()
	r.RecordStorageWrite(addr, slot, uint256.NewInt(9))
	r.Restore(inner)

	// After restoring the inner checkpoint only, the write of 5 survives.
	bal := r.Build()
	if len(bal.Accounts[0].StorageChanges) != 1 || !bal.Accounts[0].StorageChanges[0].Changes[0].NewValue.Eq(uint256.NewInt(5)) {
		t.Fatalf("expected surviving write of 5, got %+v", bal.Accounts[0].StorageChanges)
	}

	r.Restore(outer)
	bal = r.Build()
	if _, ok := indexAccount(bal, addr); !ok {
		t.Fatal("expected address to remain touched after outer restore (I-BAL1)")
	}
	if len(bal.Accounts) != 1 || len(bal.Accounts[0].StorageChanges) != 0 {
		t.Fatalf("expected all storage writes undone after outer restore, got %+v", bal.Accounts)
	}
}

func indexAccount(bal *BlockAccessList, addr types.Address) (AccountChanges, bool) {
	for _, ac := range bal.Accounts {
		if ac.Address == addr {
			return ac, true
		}
	}
	return AccountChanges{}, false
}
