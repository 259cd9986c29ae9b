// This package walks a single decoded MFT file record: validating it,
// walking its attribute list, and selecting the best available file name.

package ntfs

import (
	"github.com/go-restruct/restruct"
)

// Record is a decoded view over one MFT file record's raw bytes.
type Record struct {
	Number uint64
	Header NtfsFileRecordHeader
	data   []byte
}

// NewRecord decodes the file record at `number` backed by `data`. The
// caller is responsible for having already validated and fixed up `data`
// (see fixupRecord); NewRecord only decodes the header.
func NewRecord(number uint64, data []byte) (*Record, error) {
	if len(data) < ntfsFileRecordHeaderSize {
		return nil, errInvalidMFTRecord(int64(number))
	}

	var header NtfsFileRecordHeader
	if err := restruct.Unpack(data[:ntfsFileRecordHeaderSize], defaultEncoding, &header); err != nil {
		return nil, errDecodeBinary(err)
	}

	return &Record{Number: number, Header: header, data: data}, nil
}

// ReferenceNumber returns the file reference number: the record's
// sequence value in the high 16 bits and the record number in the low 48.
func (r *Record) ReferenceNumber() uint64 {
	seq := uint64(r.Header.SequenceValue)
	return (seq << 48) | (r.Number & 0x0000_FFFF_FFFF_FFFF)
}

// IsValidRecord reports whether `data` looks like a well-formed (if not
// necessarily fixed-up) MFT file record: right signature, internally
// consistent update-sequence-array bounds, and an attribute offset inside
// the used portion of the record.
func IsValidRecord(data []byte) bool {
	if len(data) < ntfsFileRecordHeaderSize {
		return false
	}

	var header NtfsFileRecordHeader
	if err := restruct.Unpack(data[:ntfsFileRecordHeaderSize], defaultEncoding, &header); err != nil {
		return false
	}

	if header.Signature != fileRecordSignature {
		return false
	}

	if header.UpdateSequenceLength == 0 {
		return false
	}

	if uint64(header.UsedSize) > uint64(len(data)) {
		return false
	}

	usaEnd := uint64(header.UpdateSequenceOffset) + uint64(header.UpdateSequenceLength)*2
	usaNum := uint64(header.UpdateSequenceLength) - 1
	sectorNum := uint64(len(data)) / SectorSize

	if usaEnd > uint64(len(data)) || usaNum > sectorNum {
		return false
	}

	if uint64(header.AttributesOffset) >= uint64(header.UsedSize) {
		return false
	}

	return true
}

// IsUsed reports whether the record's InUse flag is set.
func (r *Record) IsUsed() bool {
	return NtfsFileFlags(r.Header.Flags).Is(FileFlagInUse)
}

// IsDirectory reports whether the record's IsDirectory flag is set.
func (r *Record) IsDirectory() bool {
	return NtfsFileFlags(r.Header.Flags).Is(FileFlagIsDirectory)
}

// AttributeVisitorFunc is called once per attribute encountered by
// Attributes, in on-disk order, stopping at the End (0xFFFFFFFF) marker.
type AttributeVisitorFunc func(attr *Attribute)

// Attributes walks the record's attribute list in on-disk order, calling
// `visit` for each one. The walk stops silently (not an error) on the End
// marker, a zero-length attribute, or any offset overflow — a record with
// a truncated attribute list still yields whatever attributes precede the
// truncation.
func (r *Record) Attributes(visit AttributeVisitorFunc) {
	offset := int(r.Header.AttributesOffset)
	used := int(r.Header.UsedSize)
	if used > len(r.data) {
		used = len(r.data)
	}

	for offset < used {
		attr, ok := NewAttribute(r.data[offset:used])
		if !ok {
			break
		}

		if attr.Header.TypeID == uint32(AttributeEnd) {
			break
		}

		visit(attr)

		length := attr.Len()
		if length == 0 {
			break
		}

		next := offset + length
		if next <= offset || next > used {
			break
		}
		offset = next
	}
}

// GetAttribute returns the first attribute of the given type, if any.
func (r *Record) GetAttribute(attrType NtfsAttributeType) (found *Attribute) {
	r.Attributes(func(attr *Attribute) {
		if found == nil && attr.Header.TypeID == uint32(attrType) {
			found = attr
		}
	})
	return found
}

// recordGetter is the subset of *Mft that GetBestFileName needs, kept as
// an interface so record.go does not need to import mft.go's full type.
type recordGetter interface {
	GetRecord(number uint64) (*Record, error)
}

// GetBestFileName selects the file name NTFS would show a user for this
// record: it prefers a Win32 or Win32AndDos namespace name over a POSIX or
// DOS-only one, skips reparse-point names entirely, and — when the record
// carries an AttributeList indirecting some of its FILE_NAME attributes to
// other MFT records — follows resident attribute lists (never
// non-resident ones; see the design notes) to inspect those too.
func (r *Record) GetBestFileName(mft recordGetter) (best *NtfsFileName) {
	offset := int(r.Header.AttributesOffset)
	used := int(r.Header.UsedSize)
	if used > len(r.data) {
		used = len(r.data)
	}

	consider := func(name *NtfsFileName) (stop bool) {
		if name.IsReparsePoint() {
			return false
		}
		if name.Header.Namespace == uint8(NamespaceWin32) || name.Header.Namespace == uint8(NamespaceWin32AndDOS) {
			best = name
			return true
		}
		best = name
		return false
	}

	for offset < used {
		attr, ok := NewAttribute(r.data[offset:used])
		if !ok {
			break
		}
		if attr.Header.TypeID == uint32(AttributeEnd) {
			break
		}

		if attr.Header.TypeID == uint32(AttributeFileName) {
			if name, ok := attr.AsFileName(); ok {
				if consider(name) {
					return best
				}
			}
		}

		if attr.Header.TypeID == uint32(AttributeAttributeList) {
			if attr.Header.IsNonResident != 0 {
				// Non-resident attribute lists are not followed.
				break
			}

			if stop := r.walkAttributeList(attr, mft, consider); stop {
				return best
			}
		}

		length := attr.Len()
		if length == 0 {
			break
		}
		next := offset + length
		if next <= offset || next > used {
			break
		}
		offset = next
	}

	return best
}

func (r *Record) walkAttributeList(listAttr *Attribute, mft recordGetter, consider func(*NtfsFileName) bool) (stop bool) {
	value, ok := listAttr.ResidentValue()
	if !ok {
		return false
	}

	offset := 0
	for offset < len(value) {
		if offset+ntfsAttributeListEntrySize > len(value) {
			break
		}

		var entry NtfsAttributeListEntry
		if err := restruct.Unpack(value[offset:offset+ntfsAttributeListEntrySize], defaultEncoding, &entry); err != nil {
			break
		}

		entryLen := int(entry.Length)
		if entryLen < ntfsAttributeListEntrySize || offset+entryLen > len(value) {
			break
		}

		if entry.TypeID == uint32(AttributeFileName) {
			rec, err := mft.GetRecord(entry.Reference())
			if err == nil {
				if att := rec.GetAttribute(AttributeFileName); att != nil {
					if name, ok := att.AsFileName(); ok {
						if !name.IsReparsePoint() {
							if consider(name) {
								return true
							}
						}
					}
				}
			}
		}

		if entryLen == 0 {
			break
		}
		next := offset + entryLen
		if next <= offset {
			break
		}
		align := (8 - (next % 8)) % 8
		next += align
		if next <= offset || next > len(value) {
			break
		}
		offset = next
	}

	return false
}
