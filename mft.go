// This package loads a whole Master File Table image into memory and
// provides record lookup and iteration over it.

package ntfs

import (
	"io"

	"github.com/dsoprea/go-logging"
)

// Mft is an in-memory, fixed-up image of an entire volume's MFT, together
// with the bitmap that marks which record slots are actually in use. Once
// built, an Mft is immutable and safe to share read-only across
// goroutines.
type Mft struct {
	volume     Volume
	data       []byte
	bitmap     []byte
	maxRecord  uint64
}

// Volume returns the volume this MFT image was loaded from.
func (m *Mft) Volume() Volume { return m.volume }

// VolumePath returns the volume's device path, used as the root anchor for
// reconstructed file paths.
func (m *Mft) VolumePath() string { return m.volume.Path }

// MaxRecord returns the number of record slots in the loaded MFT image.
func (m *Mft) MaxRecord() uint64 { return m.maxRecord }

// OpenMFT builds an Mft image by reading the MFT's own Data and Bitmap
// attributes from `reader`, which must already be positioned to read from
// the start of the volume (an *AlignedReader opened over the raw device,
// in production; any io.ReadSeeker in tests).
//
// The construction sequence mirrors the original this package is modeled
// on: read the boot sector, bootstrap-read and fix up the MFT's own file
// record (record 0) directly (before any Mft exists to call GetRecord on),
// then use that record's Data and Bitmap attributes to pull the rest of
// the table into memory.
func OpenMFT(reader io.ReadSeeker, volumePath string) (mft *Mft, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	bootRaw := make([]byte, SectorSize)
	_, ioErr := io.ReadFull(reader, bootRaw)
	log.PanicIf(ioErr)

	bs, err := parseBootSector(bootRaw)
	log.PanicIf(err)

	volume := newVolumeFromBootSector(volumePath, bs)

	mftRecordRaw, err := readRecordFS(reader, volume.MFTPosition, uint64(volume.FileRecordSize))
	log.PanicIf(err)

	fixupErr := fixupRecord(mftRecordRaw, MFTRecord)
	log.PanicIf(fixupErr)

	if !IsValidRecord(mftRecordRaw) {
		log.PanicIf(errInvalidMFTRecord(int64(volume.MFTPosition)))
	}

	selfRecord, err := NewRecord(MFTRecord, mftRecordRaw)
	log.PanicIf(err)

	data, err := readAttributeDataFS(reader, &volume, selfRecord, AttributeData)
	log.PanicIf(err)

	bitmap, err := readAttributeDataFS(reader, &volume, selfRecord, AttributeBitmap)
	log.PanicIf(err)

	maxRecord := uint64(len(data)) / uint64(volume.FileRecordSize)

	mft = &Mft{
		volume:    volume,
		data:      data,
		bitmap:    bitmap,
		maxRecord: maxRecord,
	}

	for number := uint64(0); number < maxRecord; number++ {
		recData := mft.recordSlice(number)
		// Strict policy: an allocated record whose sector tails do not
		// match its update sequence number fails the whole load with
		// CorruptMftRecord. Slots the bitmap marks as free, and slots
		// without a usable update sequence array, are left as they are.
		if fixErr := fixupRecord(recData, number); fixErr != nil && mft.RecordExists(number) {
			if kind, _ := AsKind(fixErr); kind == KindCorruptMFTRecord {
				log.PanicIf(fixErr)
			}
		}
	}

	return mft, nil
}

// recordSlice returns the raw bytes of record `number` within the loaded
// MFT image.
func (m *Mft) recordSlice(number uint64) []byte {
	start := number * uint64(m.volume.FileRecordSize)
	end := start + uint64(m.volume.FileRecordSize)
	return m.data[start:end]
}

// RecordExists reports whether `number` is in range and marked in-use in
// the MFT's bitmap attribute.
func (m *Mft) RecordExists(number uint64) bool {
	if number >= m.maxRecord {
		return false
	}

	byteIndex := number / 8
	if byteIndex >= uint64(len(m.bitmap)) {
		return false
	}

	bit := uint(number % 8)
	return m.bitmap[byteIndex]&(1<<bit) != 0
}

// GetRecord decodes and returns the file record for `number`, failing if
// the slot is out of range, not marked in-use, or does not decode to a
// valid, fixed-up record.
func (m *Mft) GetRecord(number uint64) (*Record, error) {
	if !m.RecordExists(number) {
		return nil, errInvalidMFTRecord(int64(number))
	}

	data := m.recordSlice(number)
	if !IsValidRecord(data) {
		return nil, errCorruptMFTRecord(number)
	}

	return NewRecord(number, data)
}

// FileVisitorFunc is called once per in-use, non-system file record
// encountered by IterateFiles.
type FileVisitorFunc func(record *Record)

// IterateFiles walks every in-use file record starting at
// FirstNormalRecord (skipping the 24 reserved system records), calling
// `visit` for each one. Records that don't exist, fail validation, or
// aren't in use are skipped rather than treated as a fatal error.
func (m *Mft) IterateFiles(visit FileVisitorFunc) {
	for number := uint64(FirstNormalRecord); number < m.maxRecord; number++ {
		if !m.RecordExists(number) {
			continue
		}

		record, err := m.GetRecord(number)
		if err != nil {
			continue
		}

		if !record.IsUsed() {
			continue
		}

		visit(record)
	}
}

// FileInfo composes a FileInfo for `record`, optionally consulting and
// populating `cache` to shortcut ancestor path resolution.
func (m *Mft) FileInfo(record *Record, cache PathCache) *FileInfo {
	return NewFileInfo(m, record, cache)
}

// readRecordFS reads `size` bytes at `position` from `reader`. It is used
// only during bootstrap, before an Mft's in-memory image exists, to pull
// the MFT's own self-describing record.
func readRecordFS(reader io.ReadSeeker, position, size uint64) (data []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	_, ioErr := reader.Seek(int64(position), io.SeekStart)
	log.PanicIf(ioErr)

	data = make([]byte, size)
	_, ioErr = io.ReadFull(reader, data)
	log.PanicIf(ioErr)

	return data, nil
}

// readAttributeDataFS reads the full content of the named attribute type
// of `record`, handling both resident and non-resident forms (seeking
// through `reader` for the latter, following its data runs). It is used
// only during bootstrap, reading relative to the raw device/volume rather
// than the not-yet-built in-memory MFT image.
func readAttributeDataFS(reader io.ReadSeeker, volume *Volume, record *Record, attrType NtfsAttributeType) (out []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	attr := record.GetAttribute(attrType)
	if attr == nil {
		log.PanicIf(errMissingMFTAttribute(attrType.name()))
	}

	if attr.Header.IsNonResident == 0 {
		value, ok := attr.ResidentValue()
		if !ok {
			log.PanicIf(errMissingMFTAttribute(attrType.name()))
		}
		out = make([]byte, len(value))
		copy(out, value)
		return out, nil
	}

	nrh, _ := attr.NonResidentHeader()
	runs, runErr := attr.DataRuns(volume.ClusterSize)
	log.PanicIf(runErr)

	size := nrh.DataSize
	out = make([]byte, 0, size)

	for _, run := range runs {
		if uint64(len(out)) >= size {
			break
		}

		remaining := size - uint64(len(out))
		runBytes := run.LengthBytes
		if runBytes > remaining {
			runBytes = remaining
		}

		if run.IsSparse {
			out = append(out, make([]byte, runBytes)...)
			continue
		}

		position := uint64(run.LCN) * volume.ClusterSize

		_, ioErr := reader.Seek(int64(position), io.SeekStart)
		log.PanicIf(ioErr)

		buf := make([]byte, runBytes)
		_, ioErr = io.ReadFull(reader, buf)
		log.PanicIf(ioErr)

		out = append(out, buf...)
	}

	return out, nil
}

func (t NtfsAttributeType) name() string {
	switch t {
	case AttributeStandardInformation:
		return "StandardInformation"
	case AttributeAttributeList:
		return "AttributeList"
	case AttributeFileName:
		return "FileName"
	case AttributeData:
		return "Data"
	case AttributeBitmap:
		return "Bitmap"
	default:
		return "Unknown"
	}
}
