// This package holds the platform-independent parts of the USN change
// journal reader: its configuration, the normalized record shape, and the
// rename-history ring used to correlate a rename's new-name event back to
// its old name. The ioctl-driven read loop itself is Windows-only (see
// journal_windows.go).

package ntfs

import "time"

// NextUSNOption selects where a newly opened Journal starts reading from.
type NextUSNOption int

const (
	// NextUSNFirst starts reading from USN 0 — the oldest record the
	// journal still retains.
	NextUSNFirst NextUSNOption = iota
	// NextUSNLatest starts reading from the journal's current NextUsn —
	// i.e. only records produced from this point on.
	NextUSNLatest
	// NextUSNCustom starts reading from Options.CustomUSN.
	NextUSNCustom
)

// HistorySizeOption bounds the rename-history ring.
type HistorySizeOption int

const (
	// HistoryUnlimited never evicts old rename-history entries.
	HistoryUnlimited HistorySizeOption = iota
	// HistoryLimited evicts the oldest entry once Options.HistorySize
	// is reached.
	HistoryLimited
)

// Options configures a Journal.
type Options struct {
	ReasonMask     uint32
	NextUSN        NextUSNOption
	CustomUSN      int64
	MaxHistorySize HistorySizeOption
	HistorySize    int
}

// DefaultOptions returns the Journal defaults: every reason bit enabled,
// starting from the journal's current position, an unbounded
// rename-history ring.
func DefaultOptions() Options {
	return Options{
		ReasonMask:     0xFFFFFFFF,
		NextUSN:        NextUSNLatest,
		MaxHistorySize: HistoryUnlimited,
	}
}

// UsnExtent describes one contiguous changed-byte-range reported by a
// USN_RECORD_V4 range-tracking record.
type UsnExtent struct {
	Offset int64
	Length int64
}

// UsnRecord is the normalized form of a single USN journal record,
// regardless of which on-disk major version (V2/V3/V4) produced it.
// Extents is only populated on a V3 record that successfully stitches
// onto one or more preceding V4 range-tracking records (see
// pendingV4Chain); it is nil otherwise.
type UsnRecord struct {
	USN       int64
	Timestamp time.Time
	FileID    uint64
	ParentID  uint64
	Reason    uint32
	Path      string
	Extents   []UsnExtent
}

// historyRing is a drop-oldest ring buffer of UsnRecords, used to
// correlate a RENAME_NEW_NAME event back to the RENAME_OLD_NAME event
// that preceded it.
type historyRing struct {
	entries []UsnRecord
	limit   int // 0 means unlimited
}

func newHistoryRing(limit int) *historyRing {
	return &historyRing{limit: limit}
}

func (h *historyRing) push(record UsnRecord) {
	if h.limit > 0 && len(h.entries) >= h.limit {
		h.entries = h.entries[1:]
	}
	h.entries = append(h.entries, record)
}

// findRename returns the newest entry with the given file ID and a USN
// strictly less than `beforeUSN`, matching the original's "most recent
// qualifying old-name event" semantics.
func (h *historyRing) findRename(fileID uint64, beforeUSN int64) (UsnRecord, bool) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		r := h.entries[i]
		if r.FileID == fileID && r.USN < beforeUSN {
			return r, true
		}
	}
	return UsnRecord{}, false
}

func (h *historyRing) trim(minUSN *int64) {
	if minUSN == nil {
		h.entries = nil
		return
	}

	kept := h.entries[:0]
	for _, r := range h.entries {
		if r.USN > *minUSN {
			kept = append(kept, r)
		}
	}
	h.entries = kept
}

// isRenameHistoryReason reports whether a record's reason bits warrant
// keeping it in the rename-history ring: renames, hard-link changes, and
// reparse-point changes are all events whose "old" side a later record may
// need to look back at.
func isRenameHistoryReason(reason uint32) bool {
	return reason&(UsnReasonRenameOldName|UsnReasonHardLinkChange|UsnReasonReparsePointChange) != 0
}

// MatchRename returns the path a RENAME_NEW_NAME record's file had before
// the rename, if a corresponding RENAME_OLD_NAME/HARD_LINK_CHANGE/
// REPARSE_POINT_CHANGE record for the same file ID is still in the
// history ring. It returns false for any record that isn't itself a
// RENAME_NEW_NAME event.
func (j *journalCore) MatchRename(record UsnRecord) (string, bool) {
	if record.Reason&UsnReasonRenameNewName == 0 {
		return "", false
	}

	old, found := j.history.findRename(record.FileID, record.USN)
	if !found {
		return "", false
	}
	return old.Path, true
}

// TrimHistory drops rename-history entries at or below minUSN, or clears
// the whole ring when minUSN is nil.
func (j *journalCore) TrimHistory(minUSN *int64) {
	j.history.trim(minUSN)
}

// GetNextUSN returns the USN the next Read call will start from.
func (j *journalCore) GetNextUSN() int64 {
	return j.nextUSN
}

// journalCore holds the state shared by every platform's Journal
// implementation: the cursor position, reason mask, and rename-history
// ring. The Windows build embeds this in its own Journal type alongside
// the OS handles.
type journalCore struct {
	volumePath     string
	nextUSN        int64
	reasonMask     uint32
	history        *historyRing
	journalID      uint64
}

func newJournalCore(volumePath string, opts Options, journalID uint64, queriedNextUSN int64) *journalCore {
	var nextUSN int64
	switch opts.NextUSN {
	case NextUSNFirst:
		nextUSN = 0
	case NextUSNCustom:
		nextUSN = opts.CustomUSN
	default:
		nextUSN = queriedNextUSN
	}

	limit := 0
	if opts.MaxHistorySize == HistoryLimited {
		limit = opts.HistorySize
	}

	return &journalCore{
		volumePath: volumePath,
		nextUSN:    nextUSN,
		reasonMask: opts.ReasonMask,
		history:    newHistoryRing(limit),
		journalID:  journalID,
	}
}

// pendingV4Chain accumulates consecutive V4 extent records for a file
// until a V3 CLOSE record arrives to stitch onto, matching the original's
// MajorVersion-dispatch table (spec.md §4.7).
type pendingV4Chain struct {
	fileID  uint64
	reason  uint32
	extents []UsnExtent
	active  bool
}

func (p *pendingV4Chain) reset() {
	*p = pendingV4Chain{}
}
