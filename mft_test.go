package ntfs

import (
	"bytes"
	"testing"
)

// buildMftVolumeImage assembles a complete synthetic volume image: a boot
// sector, an unused filler cluster, and a small MFT table (self-record 0
// plus reserved filler records and one normal file record) whose Data and
// Bitmap attributes describe that very table. clusterSize and
// fileRecordSize are both one sector, so every record occupies exactly one
// cluster and the update-sequence-array fixup is a no-op (UpdateSequenceLength
// 1 means zero sectors are checked), keeping this fixture simple.
func buildMftVolumeImage(t *testing.T, recordCount uint64) ([]byte, *Record) {
	t.Helper()

	const clusterSize = 512
	const mftLCN = 2

	// -9 as int8: FileRecordSizeRaw negative means 1<<9 == 512 bytes, one
	// cluster at this fixture's cluster size.
	boot := buildBootSectorBytes(clusterSize, 1, 10_000, mftLCN, mftLCN+recordCount, 247)

	dataLen := recordCount * clusterSize
	image := make([]byte, mftLCN*clusterSize+dataLen)
	copy(image[:len(boot)], boot)

	bitmapLen := (recordCount + 7) / 8
	bitmap := make([]byte, bitmapLen)
	setBit := func(n uint64) { bitmap[n/8] |= 1 << (n % 8) }
	setBit(0)
	setBit(FirstNormalRecord)

	var runs []byte
	runs = appendDataRun(runs, recordCount, mftLCN, false)
	dataAttr := buildNonResidentAttribute(uint32(AttributeData), runs, dataLen, dataLen)
	bitmapAttr := buildResidentAttribute(uint32(AttributeBitmap), bitmap)

	var selfAttrs []byte
	selfAttrs = append(selfAttrs, dataAttr...)
	selfAttrs = append(selfAttrs, bitmapAttr...)
	selfAttrs = append(selfAttrs, buildEndMarker()...)

	selfRecordRaw := buildFileRecord(FileFlagInUse, selfAttrs)
	if len(selfRecordRaw) > clusterSize {
		t.Fatalf("self record (%d bytes) does not fit in one cluster", len(selfRecordRaw))
	}

	mftStart := mftLCN * clusterSize
	copy(image[mftStart:], selfRecordRaw)

	var fileAttrs []byte
	fileAttrs = append(fileAttrs, buildResidentAttribute(
		uint32(AttributeFileName),
		buildFileNameValue(RootRecord, 0, NamespaceWin32, "hello.txt"),
	)...)
	fileAttrs = append(fileAttrs, buildEndMarker()...)
	fileRecordRaw := buildFileRecord(FileFlagInUse, fileAttrs)

	fileRecordOffset := mftStart + FirstNormalRecord*clusterSize
	copy(image[fileRecordOffset:], fileRecordRaw)

	expected, err := NewRecord(FirstNormalRecord, fileRecordRaw)
	if err != nil {
		t.Fatalf("failed to build the expected normal record: %v", err)
	}

	return image, expected
}

func TestOpenMFT_LoadsImageAndIteratesFiles(t *testing.T) {
	const recordCount = 25

	image, expectedFile := buildMftVolumeImage(t, recordCount)

	mft, err := OpenMFT(bytes.NewReader(image), `C:\`)
	if err != nil {
		t.Fatalf("OpenMFT failed: %v", err)
	}

	if mft.MaxRecord() != recordCount {
		t.Fatalf("expected MaxRecord %d, got %d", recordCount, mft.MaxRecord())
	}
	if mft.VolumePath() != `C:\` {
		t.Fatalf("expected volume path %q, got %q", `C:\`, mft.VolumePath())
	}

	if !mft.RecordExists(0) {
		t.Fatalf("expected the self-record (0) to be marked in-use")
	}
	if !mft.RecordExists(FirstNormalRecord) {
		t.Fatalf("expected record %d to be marked in-use", FirstNormalRecord)
	}
	if mft.RecordExists(1) {
		t.Fatalf("did not expect reserved record 1 to be marked in-use")
	}

	record, err := mft.GetRecord(FirstNormalRecord)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	name := record.GetBestFileName(mft)
	if name == nil || name.Name != "hello.txt" {
		t.Fatalf("expected record %d's best name to be %q, got %v", FirstNormalRecord, "hello.txt", name)
	}
	_ = expectedFile

	var visited []uint64
	mft.IterateFiles(func(r *Record) {
		visited = append(visited, r.Number)
	})
	if len(visited) != 1 || visited[0] != FirstNormalRecord {
		t.Fatalf("expected IterateFiles to visit exactly record %d, got %v", FirstNormalRecord, visited)
	}
}

func TestOpenMFT_GetRecordRejectsUnusedSlot(t *testing.T) {
	image, _ := buildMftVolumeImage(t, 25)

	mft, err := OpenMFT(bytes.NewReader(image), `C:\`)
	if err != nil {
		t.Fatalf("OpenMFT failed: %v", err)
	}

	if _, err := mft.GetRecord(1); err == nil {
		t.Fatalf("expected GetRecord to reject an unused record slot")
	}

	if _, err := mft.GetRecord(25); err == nil {
		t.Fatalf("expected GetRecord to reject an out-of-range record number")
	}
}

func TestOpenMFT_FileInfoComposesPath(t *testing.T) {
	image, _ := buildMftVolumeImage(t, 25)

	mft, err := OpenMFT(bytes.NewReader(image), `C:\`)
	if err != nil {
		t.Fatalf("OpenMFT failed: %v", err)
	}

	record, err := mft.GetRecord(FirstNormalRecord)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}

	info := mft.FileInfo(record, NewSparseCache())
	if info.Name != "hello.txt" {
		t.Fatalf("expected name %q, got %q", "hello.txt", info.Name)
	}
}
