package ledger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-staking/internal/storage"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/holiman/uint256"
)

var (
	alice = types.Address{0xa1}
	bob   = types.Address{0xb0}
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func newLedger(t *testing.T, db storage.DB) *Ledger {
	t.Helper()
	l, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// snapshot copies every key/value in db for byte-level comparisons.
func snapshot(t *testing.T, db storage.DB) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	if err := db.ForEach(nil, func(k, v []byte) error {
		out[string(k)] = v
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	return out
}

func sameSnapshot(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !bytes.Equal(v, b[k]) {
			return false
		}
	}
	return true
}

func TestRecord_EncodeDecode(t *testing.T) {
	rec := &Record{
		Principal:     uint256.MustFromDecimal("100000000000000000000"),
		StakeTime:     864_000,
		LastClaimTime: 1_728_000,
		ClaimedAmount: uint256.MustFromDecimal("607986379548475081"),
	}
	raw := rec.encode()
	if len(raw) != recordSize {
		t.Fatalf("encode() length = %d, want %d", len(raw), recordSize)
	}
	got, err := decodeRecord(raw)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if !got.Principal.Eq(rec.Principal) || !got.ClaimedAmount.Eq(rec.ClaimedAmount) ||
		got.StakeTime != rec.StakeTime || got.LastClaimTime != rec.LastClaimTime {
		t.Fatalf("decodeRecord() = %+v, want %+v", got, rec)
	}
	if _, err := decodeRecord(raw[:79]); err == nil {
		t.Fatal("decodeRecord(short) expected error")
	}
}

func TestLedger_OpenPeekClose(t *testing.T) {
	l := newLedger(t, storage.NewMemory())

	rec, err := l.Peek(alice)
	if err != nil || rec != nil {
		t.Fatalf("Peek(absent) = %v, %v; want nil, nil", rec, err)
	}

	tx := l.Begin()
	if err := tx.Open(alice, u(100), 10); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Not visible until commit.
	if rec, _ := l.Peek(alice); rec != nil {
		t.Fatal("uncommitted record visible")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rec, err = l.Peek(alice)
	if err != nil || rec == nil {
		t.Fatalf("Peek() = %v, %v", rec, err)
	}
	if rec.Principal.Uint64() != 100 || rec.StakeTime != 10 || rec.LastClaimTime != 10 || !rec.ClaimedAmount.IsZero() {
		t.Fatalf("Peek() = %+v", rec)
	}

	tx = l.Begin()
	closed, err := tx.Close(alice)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Principal.Uint64() != 100 {
		t.Errorf("Close() principal = %d, want 100", closed.Principal.Uint64())
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if rec, _ := l.Peek(alice); rec != nil {
		t.Fatal("record survived Close")
	}
}

func TestLedger_Errors(t *testing.T) {
	l := newLedger(t, storage.NewMemory())
	tx := l.Begin()

	if err := tx.Open(alice, u(0), 1); !errors.Is(err, ErrZeroPrincipal) {
		t.Errorf("Open(0) error = %v, want ErrZeroPrincipal", err)
	}
	if err := tx.TopUp(alice, u(1), 1); !errors.Is(err, ErrNoStake) {
		t.Errorf("TopUp(absent) error = %v, want ErrNoStake", err)
	}
	if _, err := tx.Close(alice); !errors.Is(err, ErrNoStake) {
		t.Errorf("Close(absent) error = %v, want ErrNoStake", err)
	}
	if err := tx.Settle(alice, u(1), 1); !errors.Is(err, ErrNoStake) {
		t.Errorf("Settle(absent) error = %v, want ErrNoStake", err)
	}
	if err := tx.Open(alice, u(5), 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tx.Open(alice, u(5), 1); !errors.Is(err, ErrDuplicateStake) {
		t.Errorf("Open(existing) error = %v, want ErrDuplicateStake", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxDone) {
		t.Errorf("second Commit error = %v, want ErrTxDone", err)
	}
}

func TestLedger_SettleAndTopUp(t *testing.T) {
	l := newLedger(t, storage.NewMemory())

	tx := l.Begin()
	if err := tx.Open(alice, u(100), 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx = l.Begin()
	if err := tx.Settle(alice, u(7), 50); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if err := tx.TopUp(alice, u(25), 50); err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if got := tx.Claimed().Uint64(); got != 7 {
		t.Errorf("Claimed() = %d, want 7", got)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rec, _ := l.Peek(alice)
	if rec.Principal.Uint64() != 125 || rec.StakeTime != 50 || rec.LastClaimTime != 50 || rec.ClaimedAmount.Uint64() != 7 {
		t.Fatalf("record after settle+topup = %+v", rec)
	}
	if got := l.TotalRewardsClaimed().Uint64(); got != 7 {
		t.Fatalf("TotalRewardsClaimed() = %d, want 7", got)
	}
}

func TestLedger_DiscardLeavesStorageUntouched(t *testing.T) {
	db := storage.NewMemory()
	l := newLedger(t, db)

	tx := l.Begin()
	_ = tx.Open(alice, u(100), 0)
	_ = tx.Commit()

	before := snapshot(t, db)
	tx = l.Begin()
	_ = tx.Settle(alice, u(3), 10)
	_, _ = tx.Close(alice)
	_ = tx.Open(bob, u(1), 10)
	tx.Discard()

	if !sameSnapshot(before, snapshot(t, db)) {
		t.Fatal("discarded transaction modified storage")
	}
	if !l.TotalRewardsClaimed().IsZero() {
		t.Fatal("discarded transaction changed accounting")
	}
}

func TestLedger_ListAndStats(t *testing.T) {
	l := newLedger(t, storage.NewMemory())
	tx := l.Begin()
	for i := byte(1); i <= 5; i++ {
		if err := tx.Open(types.Address{i}, u(uint64(i)*10), 0); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	all, err := l.List(0, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("List(0,0) = %d entries, %v; want 5", len(all), err)
	}
	page, err := l.List(1, 2)
	if err != nil || len(page) != 2 {
		t.Fatalf("List(1,2) = %d entries, %v; want 2", len(page), err)
	}
	if page[0].Account != (types.Address{2}) || page[1].Account != (types.Address{3}) {
		t.Errorf("List(1,2) = %v, %v", page[0].Account, page[1].Account)
	}

	stats, err := l.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Stakers != 5 || stats.TotalPrincipal.Uint64() != 150 {
		t.Fatalf("Stats() = %d stakers, %s principal; want 5, 150", stats.Stakers, stats.TotalPrincipal.Dec())
	}
}

func TestLedger_ListAfter(t *testing.T) {
	l := newLedger(t, storage.NewMemory())
	tx := l.Begin()
	for i := byte(1); i <= 5; i++ {
		if err := tx.Open(types.Address{i}, u(uint64(i)), 0); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	first, err := l.ListAfter(nil, 2)
	if err != nil || len(first) != 2 || first[0].Account != (types.Address{1}) {
		t.Fatalf("ListAfter(nil, 2) = %v, %v", first, err)
	}
	var seen []types.Address
	cursor := &first[len(first)-1].Account
	for {
		page, err := l.ListAfter(cursor, 2)
		if err != nil {
			t.Fatalf("ListAfter: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			seen = append(seen, e.Account)
		}
		cursor = &page[len(page)-1].Account
	}
	if len(seen) != 3 || seen[0] != (types.Address{3}) || seen[2] != (types.Address{5}) {
		t.Errorf("pages after cursor = %v, want accounts 3..5", seen)
	}

	// The cursor need not be a staker.
	gap := types.Address{2, 0x80}
	page, _ := l.ListAfter(&gap, 0)
	if len(page) != 3 || page[0].Account != (types.Address{3}) {
		t.Errorf("ListAfter(gap) = %v", page)
	}
}

func TestLedger_StakersCount(t *testing.T) {
	db := storage.NewMemory()
	l := newLedger(t, db)

	tx := l.Begin()
	_ = tx.Open(alice, u(1), 0)
	_ = tx.Open(bob, u(1), 0)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := l.Stakers(); got != 2 {
		t.Fatalf("Stakers() = %d, want 2", got)
	}

	tx = l.Begin()
	_ = tx.TopUp(alice, u(1), 5)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	tx = l.Begin()
	_, _ = tx.Close(bob)
	tx.Discard()
	if got := l.Stakers(); got != 2 {
		t.Fatalf("Stakers() after top-up and discard = %d, want 2", got)
	}

	tx = l.Begin()
	if _, err := tx.Close(bob); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := newLedger(t, db).Stakers(); got != 1 || l.Stakers() != 1 {
		t.Errorf("Stakers() = %d, reopened = %d; want 1", l.Stakers(), got)
	}
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	l := newLedger(t, storage.NewPrefixDB(db, []byte("ledger/")))
	tx := l.Begin()
	_ = tx.Open(alice, u(100), 0)
	_ = tx.Settle(alice, u(9), 20)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	db.Close()

	db, err = storage.NewBadger(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	l = newLedger(t, storage.NewPrefixDB(db, []byte("ledger/")))
	rec, err := l.Peek(alice)
	if err != nil || rec == nil {
		t.Fatalf("Peek after reopen = %v, %v", rec, err)
	}
	if rec.ClaimedAmount.Uint64() != 9 || rec.LastClaimTime != 20 {
		t.Errorf("record after reopen = %+v", rec)
	}
	if got := l.TotalRewardsClaimed().Uint64(); got != 9 {
		t.Errorf("TotalRewardsClaimed() after reopen = %d, want 9", got)
	}
}
