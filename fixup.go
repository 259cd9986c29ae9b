// This package implements the NTFS "update sequence array" fixup that
// must be applied to every raw file-record buffer before it can be
// interpreted: the last two bytes of every on-disk sector are replaced
// with a stored sequence number while the record sits in a journal-like
// write-ahead area, and restored to their real content (stored in the
// update sequence array) once read back.

package ntfs

// fixupRecord applies the update sequence array fixup to `data` in place.
// Unlike the original this package is modeled on — whose equivalent check
// is dead, commented-out code that never actually ran — this verifies
// every sector's stored tail bytes against the expected update sequence
// number before restoring the real bytes, and reports CorruptMftRecord if
// any sector's tail does not match: the original's leniency would mask
// real on-disk corruption instead of surfacing it.
func fixupRecord(data []byte, recordNumber uint64) error {
	if len(data) < ntfsFileRecordHeaderSize {
		return errInvalidMFTRecord(int64(recordNumber))
	}

	usaOffset := int(defaultEncoding.Uint16(data[4:6]))
	usaLength := int(defaultEncoding.Uint16(data[6:8]))
	if usaLength == 0 {
		return errInvalidMFTRecord(int64(recordNumber))
	}

	usaEnd := usaOffset + usaLength*2
	if usaOffset < 0 || usaEnd > len(data) {
		return errInvalidMFTRecord(int64(recordNumber))
	}

	usn := data[usaOffset : usaOffset+2]
	usaEntries := data[usaOffset+2 : usaEnd]

	sectorCount := usaLength - 1
	if sectorCount*SectorSize > len(data) {
		return errInvalidMFTRecord(int64(recordNumber))
	}

	for i := 0; i < sectorCount; i++ {
		sectorTailOffset := i*SectorSize + SectorSize - 2
		if sectorTailOffset+2 > len(data) {
			return errCorruptMFTRecord(recordNumber)
		}

		tail := data[sectorTailOffset : sectorTailOffset+2]
		if tail[0] != usn[0] || tail[1] != usn[1] {
			return errCorruptMFTRecord(recordNumber)
		}

		real := usaEntries[i*2 : i*2+2]
		tail[0] = real[0]
		tail[1] = real[1]
	}

	return nil
}
