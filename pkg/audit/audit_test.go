package audit

import (
	"testing"
	"time"

	"github.com/mdeadwiler/pf-blotter-fix/pkg/util"
)

func openTestJournal(t *testing.T, dir string) *Journal {
	t.Helper()
	clock := util.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	j, err := Open(dir, clock, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTestJournal(t, t.TempDir())
	defer j.Close()

	j.LogSystem("STARTUP", "test run")
	j.Log("ORDER_SUBMIT", "C1", "AAPL BUY 100")
	j.Log("ORDER_UPDATE", "C1", "FILLED")

	records, err := j.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	// Newest first.
	if records[0].Event != "ORDER_UPDATE" || records[0].Seq != 3 {
		t.Fatalf("head = %+v", records[0])
	}
	if records[2].Event != "STARTUP" || records[2].ClOrdID != "" {
		t.Fatalf("tail = %+v", records[2])
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	j := openTestJournal(t, t.TempDir())
	defer j.Close()

	for i := 0; i < 10; i++ {
		j.Log("ORDER_SUBMIT", "C1", "")
	}
	records, err := j.Recent(4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records = %d, want 4", len(records))
	}
	if records[0].Seq != 10 || records[3].Seq != 7 {
		t.Fatalf("seqs = %d..%d, want 10..7", records[0].Seq, records[3].Seq)
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j := openTestJournal(t, dir)
	j.Log("ORDER_SUBMIT", "C1", "")
	j.Log("ORDER_SUBMIT", "C2", "")
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j = openTestJournal(t, dir)
	defer j.Close()
	j.Log("ORDER_SUBMIT", "C3", "")

	records, err := j.Recent(1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if records[0].Seq != 3 {
		t.Fatalf("seq after reopen = %d, want 3", records[0].Seq)
	}
}
