package ntfs

import "testing"

func TestHistoryRing_PushAndFindRename(t *testing.T) {
	ring := newHistoryRing(0)

	ring.push(UsnRecord{FileID: 1, USN: 10, Path: `C:\old1.txt`})
	ring.push(UsnRecord{FileID: 1, USN: 20, Path: `C:\old2.txt`})
	ring.push(UsnRecord{FileID: 2, USN: 15, Path: `C:\other.txt`})

	got, found := ring.findRename(1, 25)
	if !found {
		t.Fatalf("expected to find a matching rename-history entry")
	}
	// findRename returns the newest entry satisfying FileID match and
	// USN < beforeUSN — here that's the USN-20 entry.
	if got.USN != 20 {
		t.Fatalf("expected the USN-20 entry, got USN %d", got.USN)
	}

	if _, found := ring.findRename(1, 5); found {
		t.Fatalf("did not expect a match below every recorded USN")
	}

	if _, found := ring.findRename(99, 100); found {
		t.Fatalf("did not expect a match for an unknown file ID")
	}
}

func TestHistoryRing_DropsOldestWhenLimited(t *testing.T) {
	ring := newHistoryRing(2)

	ring.push(UsnRecord{FileID: 1, USN: 1})
	ring.push(UsnRecord{FileID: 1, USN: 2})
	ring.push(UsnRecord{FileID: 1, USN: 3})

	if len(ring.entries) != 2 {
		t.Fatalf("expected the ring to cap at 2 entries, got %d", len(ring.entries))
	}
	if ring.entries[0].USN != 2 || ring.entries[1].USN != 3 {
		t.Fatalf("expected the oldest entry to have been dropped, got %+v", ring.entries)
	}
}

func TestHistoryRing_Trim(t *testing.T) {
	ring := newHistoryRing(0)
	ring.push(UsnRecord{FileID: 1, USN: 10})
	ring.push(UsnRecord{FileID: 1, USN: 20})
	ring.push(UsnRecord{FileID: 1, USN: 30})

	min := int64(20)
	ring.trim(&min)

	if len(ring.entries) != 1 || ring.entries[0].USN != 30 {
		t.Fatalf("expected only the USN-30 entry to survive trimming at 20, got %+v", ring.entries)
	}

	ring.trim(nil)
	if len(ring.entries) != 0 {
		t.Fatalf("expected a nil minUSN to clear the ring entirely")
	}
}

func TestIsRenameHistoryReason(t *testing.T) {
	cases := []struct {
		reason uint32
		want   bool
	}{
		{UsnReasonRenameOldName, true},
		{UsnReasonHardLinkChange, true},
		{UsnReasonReparsePointChange, true},
		{UsnReasonRenameNewName, false},
		{UsnReasonClose, false},
		{0, false},
	}

	for _, c := range cases {
		if got := isRenameHistoryReason(c.reason); got != c.want {
			t.Fatalf("isRenameHistoryReason(0x%x) = %v, want %v", c.reason, got, c.want)
		}
	}
}

func TestJournalCore_MatchRename(t *testing.T) {
	core := newJournalCore(`C:\`, DefaultOptions(), 1, 0)
	core.history.push(UsnRecord{FileID: 42, USN: 100, Reason: UsnReasonRenameOldName, Path: `C:\old.txt`})

	newNameRecord := UsnRecord{FileID: 42, USN: 101, Reason: UsnReasonRenameNewName, Path: `C:\new.txt`}

	oldPath, found := core.MatchRename(newNameRecord)
	if !found || oldPath != `C:\old.txt` {
		t.Fatalf("expected to match the old path, got %q (found=%v)", oldPath, found)
	}

	notARename := UsnRecord{FileID: 42, USN: 102, Reason: UsnReasonClose}
	if _, found := core.MatchRename(notARename); found {
		t.Fatalf("did not expect a non-RENAME_NEW_NAME record to match")
	}
}

func TestJournalCore_TrimHistory(t *testing.T) {
	core := newJournalCore(`C:\`, DefaultOptions(), 1, 0)
	core.history.push(UsnRecord{FileID: 1, USN: 10})
	core.history.push(UsnRecord{FileID: 1, USN: 20})

	min := int64(10)
	core.TrimHistory(&min)

	if len(core.history.entries) != 1 || core.history.entries[0].USN != 20 {
		t.Fatalf("expected TrimHistory to drop entries at or below 10, got %+v", core.history.entries)
	}
}

func TestNewJournalCore_NextUSNOptions(t *testing.T) {
	cases := []struct {
		name    string
		opts    Options
		queried int64
		want    int64
	}{
		{"first", Options{NextUSN: NextUSNFirst}, 555, 0},
		{"latest", Options{NextUSN: NextUSNLatest}, 555, 555},
		{"custom", Options{NextUSN: NextUSNCustom, CustomUSN: 777}, 555, 777},
	}

	for _, c := range cases {
		core := newJournalCore(`C:\`, c.opts, 1, c.queried)
		if core.GetNextUSN() != c.want {
			t.Fatalf("%s: expected next USN %d, got %d", c.name, c.want, core.GetNextUSN())
		}
	}
}

func TestNewJournalCore_HistoryLimit(t *testing.T) {
	limited := newJournalCore(`C:\`, Options{MaxHistorySize: HistoryLimited, HistorySize: 1}, 1, 0)
	limited.history.push(UsnRecord{FileID: 1, USN: 1})
	limited.history.push(UsnRecord{FileID: 1, USN: 2})
	if len(limited.history.entries) != 1 {
		t.Fatalf("expected the history ring to respect HistorySize 1, got %d entries", len(limited.history.entries))
	}

	unlimited := newJournalCore(`C:\`, DefaultOptions(), 1, 0)
	unlimited.history.push(UsnRecord{FileID: 1, USN: 1})
	unlimited.history.push(UsnRecord{FileID: 1, USN: 2})
	if len(unlimited.history.entries) != 2 {
		t.Fatalf("expected DefaultOptions to leave the history ring unbounded, got %d entries", len(unlimited.history.entries))
	}
}
