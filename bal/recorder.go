package bal

import (
	"bytes"
	"sort"

	"github.com/holiman/uint256"

	"github.com/ethnova/statecore/log"
	"github.com/ethnova/statecore/metrics"
	"github.com/ethnova/statecore/types"
)

var (
	balLog = log.Default().Module("bal.recorder")

	buildCount    = metrics.DefaultRegistry.Counter("bal.recorder.builds")
	buildAccounts = metrics.DefaultRegistry.Histogram("bal.recorder.build.account_count")
)

// Token identifies a point in the recorder's journal that Restore can wind
// back to.
type Token int

type storageKey struct {
	addr  types.Address
	slot  [32]byte
	index uint16
}

type readKey struct {
	addr types.Address
	slot [32]byte
}

type addrIndexKey struct {
	addr  types.Address
	index uint16
}

// journalEntry undoes exactly one recorded mutation. This mirrors the
// revert-closure pattern used for state snapshots: each record call pushes
// an entry capturing enough of the prior state to put it back.
type journalEntry struct {
	undo func()
}

// Recorder observes per-transaction storage/balance/nonce/code touches
// during block execution and produces a BlockAccessList (spec §4.4). All
// mutations except RecordTouchedAddress go through the journal so
// Checkpoint/Restore can undo a reverted call's frame without losing the
// fact that it touched an address (I-BAL1).
type Recorder struct {
	journal      []journalEntry
	currentIndex uint16

	touched map[types.Address]struct{}
	reads   map[readKey]struct{}

	storagePre    map[storageKey]*uint256.Int
	storageWrites map[storageKey]*uint256.Int

	balancePre    map[addrIndexKey]*uint256.Int
	balanceWrites map[addrIndexKey]*uint256.Int

	nonceWrites map[addrIndexKey]uint64

	codePresence map[addrIndexKey]bool
	codePre      map[addrIndexKey][]byte
	codeWrites   map[addrIndexKey][]byte
}

// NewRecorder returns an empty Recorder positioned at block access index 0
// (the pre-execution system phase).
func NewRecorder() *Recorder {
	return &Recorder{
		touched:       make(map[types.Address]struct{}),
		reads:         make(map[readKey]struct{}),
		storagePre:    make(map[storageKey]*uint256.Int),
		storageWrites: make(map[storageKey]*uint256.Int),
		balancePre:    make(map[addrIndexKey]*uint256.Int),
		balanceWrites: make(map[addrIndexKey]*uint256.Int),
		nonceWrites:   make(map[addrIndexKey]uint64),
		codePresence:  make(map[addrIndexKey]bool),
		codePre:       make(map[addrIndexKey][]byte),
		codeWrites:    make(map[addrIndexKey][]byte),
	}
}

// SetBlockAccessIndex moves the recorder to a new phase: 0 is the
// pre-execution system phase, 1..n are transaction indices, n+1 is
// post-execution.
func (r *Recorder) SetBlockAccessIndex(idx uint16) {
	r.currentIndex = idx
}

// RecordTouchedAddress marks addr as accessed. Not journaled: reverted
// calls still count as accessed per EIP-7928 (I-BAL1).
func (r *Recorder) RecordTouchedAddress(addr types.Address) {
	r.touched[addr] = struct{}{}
}

// RecordStorageRead records a slot read, once per (addr, slot) for the life
// of the recorder (distinct from capture_pre_storage's once-per-transaction
// scope).
func (r *Recorder) RecordStorageRead(addr types.Address, slot *uint256.Int) {
	r.touched[addr] = struct{}{}
	k := readKey{addr: addr, slot: slot.Bytes32()}
	if _, ok := r.reads[k]; ok {
		return
	}
	r.reads[k] = struct{}{}
	r.journal = append(r.journal, journalEntry{undo: func() { delete(r.reads, k) }})
}

// CapturePreStorage records the value of (addr, slot) before the first
// write to it in the current transaction. Exactly the first call per
// (addr, slot, index) has any effect.
func (r *Recorder) CapturePreStorage(addr types.Address, slot, original *uint256.Int) {
	r.touched[addr] = struct{}{}
	k := storageKey{addr: addr, slot: slot.Bytes32(), index: r.currentIndex}
	if _, ok := r.storagePre[k]; ok {
		return
	}
	r.storagePre[k] = original.Clone()
	r.journal = append(r.journal, journalEntry{undo: func() { delete(r.storagePre, k) }})
}

// RecordStorageWrite records the slot's new value for the current
// transaction, overwriting any earlier write in the same transaction so
// only the final value survives to Build.
func (r *Recorder) RecordStorageWrite(addr types.Address, slot, newValue *uint256.Int) {
	r.touched[addr] = struct{}{}
	k := storageKey{addr: addr, slot: slot.Bytes32(), index: r.currentIndex}
	prev, existed := r.storageWrites[k]
	r.storageWrites[k] = newValue.Clone()
	r.journal = append(r.journal, journalEntry{undo: func() {
		if existed {
			r.storageWrites[k] = prev
		} else {
			delete(r.storageWrites, k)
		}
	}})
}

// SetInitialBalance records addr's balance before the first balance change
// in the current transaction. Exactly the first call per (addr, index) has
// any effect.
func (r *Recorder) SetInitialBalance(addr types.Address, bal *uint256.Int) {
	r.touched[addr] = struct{}{}
	k := addrIndexKey{addr: addr, index: r.currentIndex}
	if _, ok := r.balancePre[k]; ok {
		return
	}
	r.balancePre[k] = bal.Clone()
	r.journal = append(r.journal, journalEntry{undo: func() { delete(r.balancePre, k) }})
}

// RecordBalanceChange records addr's post-change balance for the current
// transaction, overwriting any earlier record in the same transaction.
func (r *Recorder) RecordBalanceChange(addr types.Address, newBalance *uint256.Int) {
	r.touched[addr] = struct{}{}
	k := addrIndexKey{addr: addr, index: r.currentIndex}
	prev, existed := r.balanceWrites[k]
	r.balanceWrites[k] = newBalance.Clone()
	r.journal = append(r.journal, journalEntry{undo: func() {
		if existed {
			r.balanceWrites[k] = prev
		} else {
			delete(r.balanceWrites, k)
		}
	}})
}

// RecordNonceChange records addr's post-change nonce for the current
// transaction. Nonce changes are never net-zero-filtered (spec §4.4).
func (r *Recorder) RecordNonceChange(addr types.Address, newNonce uint64) {
	r.touched[addr] = struct{}{}
	k := addrIndexKey{addr: addr, index: r.currentIndex}
	prev, existed := r.nonceWrites[k]
	r.nonceWrites[k] = newNonce
	r.journal = append(r.journal, journalEntry{undo: func() {
		if existed {
			r.nonceWrites[k] = prev
		} else {
			delete(r.nonceWrites, k)
		}
	}})
}

// RecordCodeChange records addr's replacement code for the current
// transaction, overwriting any earlier record in the same transaction.
func (r *Recorder) RecordCodeChange(addr types.Address, newCode []byte) {
	r.touched[addr] = struct{}{}
	k := addrIndexKey{addr: addr, index: r.currentIndex}
	prev, existed := r.codeWrites[k]
	r.codeWrites[k] = append([]byte(nil), newCode...)
	r.journal = append(r.journal, journalEntry{undo: func() {
		if existed {
			r.codeWrites[k] = prev
		} else {
			delete(r.codeWrites, k)
		}
	}})
}

// CaptureInitialCodePresence records whether addr already had code before
// the current transaction, used to tell a fresh deployment's "no prior
// code" apart from a delegation-clear back to empty code.
func (r *Recorder) CaptureInitialCodePresence(addr types.Address, hadCode bool) {
	r.touched[addr] = struct{}{}
	k := addrIndexKey{addr: addr, index: r.currentIndex}
	if _, ok := r.codePresence[k]; ok {
		return
	}
	r.codePresence[k] = hadCode
	r.journal = append(r.journal, journalEntry{undo: func() { delete(r.codePresence, k) }})
}

// SetInitialCode records addr's code before the first code change in the
// current transaction. Exactly the first call per (addr, index) has any
// effect.
func (r *Recorder) SetInitialCode(addr types.Address, code []byte) {
	r.touched[addr] = struct{}{}
	k := addrIndexKey{addr: addr, index: r.currentIndex}
	if _, ok := r.codePre[k]; ok {
		return
	}
	r.codePre[k] = append([]byte(nil), code...)
	r.journal = append(r.journal, journalEntry{undo: func() { delete(r.codePre, k) }})
}

// Checkpoint captures a journal cursor that Restore can later wind back to.
func (r *Recorder) Checkpoint() Token {
	return Token(len(r.journal))
}

// Restore replays the journal from the top back to token in reverse,
// undoing each recorded mutation (I-BAL2). Nested checkpoints compose: an
// outer token undoes everything above it, taken or not (I-BAL3). The
// touched-address set is never affected (I-BAL1).
func (r *Recorder) Restore(token Token) {
	for i := len(r.journal) - 1; i >= int(token); i-- {
		r.journal[i].undo()
	}
	r.journal = r.journal[:token]
}

// Build produces a BlockAccessList from everything recorded so far, with
// net-zero filtering applied per (account, transaction) and every list
// sorted for deterministic output (spec §4.4).
func (r *Recorder) Build() *BlockAccessList {
	addrs := make([]types.Address, 0, len(r.touched))
	for a := range r.touched {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })

	var accounts []AccountChanges
	for _, addr := range addrs {
		ac := r.buildAccount(addr)
		if addr == types.SystemAddress && hasNoStateChange(ac) {
			continue
		}
		accounts = append(accounts, ac)
	}
	buildCount.Inc()
	buildAccounts.Observe(float64(len(accounts)))
	balLog.Debug("bal recorder build", "touched", len(r.touched), "accounts", len(accounts), "journal_entries", len(r.journal))
	return &BlockAccessList{Accounts: accounts}
}

func (r *Recorder) buildAccount(addr types.Address) AccountChanges {
	ac := AccountChanges{Address: addr}

	bySlot := make(map[[32]byte][]SlotValueChange)
	for k, val := range r.storageWrites {
		if k.addr != addr {
			continue
		}
		if pre, ok := r.storagePre[k]; ok && pre.Eq(val) {
			continue // net-zero: ended the transaction where it started
		}
		bySlot[k.slot] = append(bySlot[k.slot], SlotValueChange{BlockAccessIndex: k.index, NewValue: val})
	}
	for slotBytes, changes := range bySlot {
		sort.Slice(changes, func(i, j int) bool { return changes[i].BlockAccessIndex < changes[j].BlockAccessIndex })
		slot := new(uint256.Int).SetBytes(slotBytes[:])
		ac.StorageChanges = append(ac.StorageChanges, SlotChange{Slot: slot, Changes: changes})
	}
	sort.Slice(ac.StorageChanges, func(i, j int) bool { return ac.StorageChanges[i].Slot.Lt(ac.StorageChanges[j].Slot) })

	for k := range r.reads {
		if k.addr != addr {
			continue
		}
		ac.StorageReads = append(ac.StorageReads, new(uint256.Int).SetBytes(k.slot[:]))
	}
	sort.Slice(ac.StorageReads, func(i, j int) bool { return ac.StorageReads[i].Lt(ac.StorageReads[j]) })

	for k, val := range r.balanceWrites {
		if k.addr != addr {
			continue
		}
		if pre, ok := r.balancePre[k]; ok && pre.Eq(val) {
			continue
		}
		ac.BalanceChanges = append(ac.BalanceChanges, BalanceChange{BlockAccessIndex: k.index, PostBalance: val})
	}
	sort.Slice(ac.BalanceChanges, func(i, j int) bool {
		return ac.BalanceChanges[i].BlockAccessIndex < ac.BalanceChanges[j].BlockAccessIndex
	})

	for k, val := range r.nonceWrites {
		if k.addr != addr {
			continue
		}
		ac.NonceChanges = append(ac.NonceChanges, NonceChange{BlockAccessIndex: k.index, PostNonce: val})
	}
	sort.Slice(ac.NonceChanges, func(i, j int) bool {
		return ac.NonceChanges[i].BlockAccessIndex < ac.NonceChanges[j].BlockAccessIndex
	})

	for k, code := range r.codeWrites {
		if k.addr != addr {
			continue
		}
		if pre, ok := r.codePre[k]; ok && bytes.Equal(pre, code) {
			continue
		}
		if had, ok := r.codePresence[k]; ok && !had && len(code) == 0 {
			continue // deployment-time "no code" reinstated, not a real change
		}
		ac.CodeChanges = append(ac.CodeChanges, CodeChange{BlockAccessIndex: k.index, NewCode: code})
	}
	sort.Slice(ac.CodeChanges, func(i, j int) bool {
		return ac.CodeChanges[i].BlockAccessIndex < ac.CodeChanges[j].BlockAccessIndex
	})

	return ac
}

// hasNoStateChange reports whether ac records no state change; storage
// reads alone do not count as one.
func hasNoStateChange(ac AccountChanges) bool {
	return len(ac.StorageChanges) == 0 &&
		len(ac.BalanceChanges) == 0 && len(ac.NonceChanges) == 0 && len(ac.CodeChanges) == 0
}
