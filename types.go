// This package manages the low-level, on-disk NTFS storage structures:
// the boot sector, file record headers, attribute headers, the standard
// attribute payloads, and the raw USN journal record layouts.

package ntfs

import (
	"encoding/binary"
	"time"

	"github.com/go-restruct/restruct"
)

// defaultEncoding is the byte order every NTFS on-disk structure uses.
var defaultEncoding = binary.LittleEndian

const (
	SectorSize         = 512
	MFTRecord          = 0
	RootRecord         = 5
	FirstNormalRecord  = 24
	epochDifference100 = 116_444_736_000_000_000
)

var fileRecordSignature = [4]byte{'F', 'I', 'L', 'E'}

// NtfsToUnixTime converts an NTFS FILETIME (100ns ticks since 1601-01-01)
// into a time.Time.
func NtfsToUnixTime(src uint64) time.Time {
	ticks := int64(src) - epochDifference100
	return time.Unix(0, ticks*100).UTC()
}

// BootSector is the 512-byte NTFS boot sector.
type BootSector struct {
	Reserved0         [11]byte
	SectorSize        uint16
	SectorsPerCluster uint8
	Reserved1         [26]byte
	TotalSectors      uint64
	MFTLCN            uint64
	MFTMirrorLCN      uint64
	FileRecordSizeRaw int8
	Reserved2         [447]byte
}

// FileRecordSize returns the size in bytes of one MFT file record,
// following the boot sector's signed-size-class convention: a positive
// value is a byte count, a negative value n means 1<<(-n) bytes.
func (bs *BootSector) FileRecordSize() int32 {
	if bs.FileRecordSizeRaw > 0 {
		return int32(bs.FileRecordSizeRaw)
	}
	return 1 << uint(-bs.FileRecordSizeRaw)
}

func parseBootSector(raw []byte) (bs BootSector, err error) {
	err = restruct.Unpack(raw, defaultEncoding, &bs)
	if err != nil {
		return BootSector{}, errDecodeBinary(err)
	}
	return bs, nil
}

// NtfsFileRecordHeader is the fixed-size header at the start of every MFT
// file record.
type NtfsFileRecordHeader struct {
	Signature              [4]byte
	UpdateSequenceOffset   uint16
	UpdateSequenceLength   uint16
	LogFileSequenceNumber  uint64
	SequenceValue          uint16
	LinkCount              uint16
	AttributesOffset       uint16
	Flags                  uint16
	UsedSize               uint32
	AllocatedSize          uint32
	BaseReference          uint64
	NextAttributeID        uint16
}

const ntfsFileRecordHeaderSize = 4 + 2 + 2 + 8 + 2 + 2 + 2 + 2 + 4 + 4 + 8 + 2

// NtfsFileFlags holds the bits of NtfsFileRecordHeader.Flags.
type NtfsFileFlags uint16

const (
	FileFlagInUse       NtfsFileFlags = 0x0001
	FileFlagIsDirectory NtfsFileFlags = 0x0002
)

func (f NtfsFileFlags) Is(bit NtfsFileFlags) bool { return f&bit != 0 }

// NtfsAttributeHeader is the common header shared by every attribute,
// resident or not.
type NtfsAttributeHeader struct {
	TypeID       uint32
	Length       uint32
	IsNonResident uint8
	NameLength   uint8
	NameOffset   uint16
	Flags        uint16
	ID           uint16
}

const ntfsAttributeHeaderSize = 4 + 4 + 1 + 1 + 2 + 2 + 2

// NtfsResidentAttributeHeader follows NtfsAttributeHeader when
// IsNonResident == 0.
type NtfsResidentAttributeHeader struct {
	ValueLength uint32
	ValueOffset uint16
	IndexedFlag uint8
	Reserved    uint8
}

const ntfsResidentAttributeHeaderSize = 4 + 2 + 1 + 1

// NtfsNonResidentAttributeHeader follows NtfsAttributeHeader when
// IsNonResident != 0.
type NtfsNonResidentAttributeHeader struct {
	LowestVCN               int64
	HighestVCN              int64
	DataRunsOffset          uint16
	CompressionUnitExponent uint8
	Reserved                [5]byte
	AllocatedSize           uint64
	DataSize                uint64
	InitializedSize         uint64
}

const ntfsNonResidentAttributeHeaderSize = 8 + 8 + 2 + 1 + 5 + 8 + 8 + 8

// NtfsStandardInformation is the resident value of a StandardInformation
// (0x10) attribute.
type NtfsStandardInformation struct {
	CreationTime             uint64
	ModificationTime         uint64
	MFTRecordModificationTime uint64
	AccessTime               uint64
	FileAttributes           uint32
}

const ntfsStandardInformationSize = 8 + 8 + 8 + 8 + 4

// NtfsFileNamespace identifies which namespace a FILE_NAME attribute's
// name was recorded under.
type NtfsFileNamespace uint8

const (
	NamespacePosix       NtfsFileNamespace = 0
	NamespaceWin32       NtfsFileNamespace = 1
	NamespaceDOS         NtfsFileNamespace = 2
	NamespaceWin32AndDOS NtfsFileNamespace = 3
)

// Selected bits of NtfsFileNameHeader.FileAttributes that matter to callers
// of this package.
const (
	FileAttributeReadOnly    uint32 = 0x0001
	FileAttributeHidden      uint32 = 0x0002
	FileAttributeSystem      uint32 = 0x0004
	FileAttributeDirectory   uint32 = 0x0010
	FileAttributeReparsePoint uint32 = 0x0400
)

// NtfsFileNameHeader is the fixed-size portion of a FILE_NAME (0x30)
// attribute's resident value.
type NtfsFileNameHeader struct {
	ParentDirectoryReference uint64
	Reserved                 [32]byte
	AllocatedSize            uint64
	RealSize                 uint64
	FileAttributes           uint32
	ReparsePointTag          uint32
	NameLength               uint8
	Namespace                uint8
}

const ntfsFileNameHeaderSize = 8 + 32 + 8 + 8 + 4 + 4 + 1 + 1

// NtfsFileName is a fully decoded FILE_NAME attribute: the fixed header
// plus the variable-length UTF-16 name.
type NtfsFileName struct {
	Header NtfsFileNameHeader
	Name   string
}

// Parent returns the MFT record number of the containing directory (the
// low 48 bits of ParentDirectoryReference; the high 16 bits are a
// sequence number this package does not need for path resolution).
func (n *NtfsFileName) Parent() uint64 {
	return n.Header.ParentDirectoryReference & 0x0000_FFFF_FFFF_FFFF
}

func (n *NtfsFileName) IsReparsePoint() bool {
	return n.Header.FileAttributes&FileAttributeReparsePoint != 0
}

func (n *NtfsFileName) IsReadOnly() bool { return n.Header.FileAttributes&FileAttributeReadOnly != 0 }
func (n *NtfsFileName) IsHidden() bool   { return n.Header.FileAttributes&FileAttributeHidden != 0 }
func (n *NtfsFileName) IsSystem() bool   { return n.Header.FileAttributes&FileAttributeSystem != 0 }

// NtfsAttributeListEntry is one entry of a resident ATTRIBUTE_LIST (0x20)
// attribute's value.
type NtfsAttributeListEntry struct {
	TypeID         uint32
	Length         uint16
	NameLength     uint8
	NameOffset     uint8
	StartingVCN    uint64
	FileReference  uint64
	AttributeID    uint16
}

const ntfsAttributeListEntrySize = 4 + 2 + 1 + 1 + 8 + 8 + 2

// Reference returns the MFT record number the entry's FileReference
// points at (the low 48 bits).
func (e *NtfsAttributeListEntry) Reference() uint64 {
	return e.FileReference & 0x0000_FFFF_FFFF_FFFF
}

// NtfsAttributeType enumerates the attribute type codes this package
// understands.
type NtfsAttributeType uint32

const (
	AttributeStandardInformation NtfsAttributeType = 0x10
	AttributeAttributeList       NtfsAttributeType = 0x20
	AttributeFileName            NtfsAttributeType = 0x30
	AttributeData                NtfsAttributeType = 0x80
	AttributeBitmap              NtfsAttributeType = 0xB0
	AttributeEnd                 NtfsAttributeType = 0xFFFFFFFF
)

// USN record major versions.
const (
	UsnMajorVersionV2 uint16 = 2
	UsnMajorVersionV3 uint16 = 3
	UsnMajorVersionV4 uint16 = 4
)

// USN reason bits (FSCTL_READ_USN_JOURNAL "Reason" field).
const (
	UsnReasonDataOverwrite     uint32 = 0x00000001
	UsnReasonDataExtend        uint32 = 0x00000002
	UsnReasonDataTruncation    uint32 = 0x00000004
	UsnReasonNamedDataOverwrite uint32 = 0x00000010
	UsnReasonNamedDataExtend   uint32 = 0x00000020
	UsnReasonNamedDataTruncation uint32 = 0x00000040
	UsnReasonFileCreate        uint32 = 0x00000100
	UsnReasonFileDelete        uint32 = 0x00000200
	UsnReasonEAChange          uint32 = 0x00000400
	UsnReasonSecurityChange    uint32 = 0x00000800
	UsnReasonRenameOldName     uint32 = 0x00001000
	UsnReasonRenameNewName     uint32 = 0x00002000
	UsnReasonIndexableChange   uint32 = 0x00004000
	UsnReasonBasicInfoChange   uint32 = 0x00008000
	UsnReasonHardLinkChange    uint32 = 0x00010000
	UsnReasonCompressionChange uint32 = 0x00020000
	UsnReasonEncryptionChange  uint32 = 0x00040000
	UsnReasonObjectIDChange    uint32 = 0x00080000
	UsnReasonReparsePointChange uint32 = 0x00100000
	UsnReasonStreamChange      uint32 = 0x00200000
	UsnReasonTransactedChange  uint32 = 0x00400000
	UsnReasonIntegrityChange   uint32 = 0x00800000
	UsnReasonClose             uint32 = 0x80000000
)

var usnReasonNames = []struct {
	bit  uint32
	name string
}{
	{UsnReasonDataOverwrite, "DATA_OVERWRITE"},
	{UsnReasonDataExtend, "DATA_EXTEND"},
	{UsnReasonDataTruncation, "DATA_TRUNCATION"},
	{UsnReasonNamedDataOverwrite, "NAMED_DATA_OVERWRITE"},
	{UsnReasonNamedDataExtend, "NAMED_DATA_EXTEND"},
	{UsnReasonNamedDataTruncation, "NAMED_DATA_TRUNCATION"},
	{UsnReasonFileCreate, "FILE_CREATE"},
	{UsnReasonFileDelete, "FILE_DELETE"},
	{UsnReasonEAChange, "EA_CHANGE"},
	{UsnReasonSecurityChange, "SECURITY_CHANGE"},
	{UsnReasonRenameOldName, "RENAME_OLD_NAME"},
	{UsnReasonRenameNewName, "RENAME_NEW_NAME"},
	{UsnReasonIndexableChange, "INDEXABLE_CHANGE"},
	{UsnReasonBasicInfoChange, "BASIC_INFO_CHANGE"},
	{UsnReasonHardLinkChange, "HARD_LINK_CHANGE"},
	{UsnReasonCompressionChange, "COMPRESSION_CHANGE"},
	{UsnReasonEncryptionChange, "ENCRYPTION_CHANGE"},
	{UsnReasonObjectIDChange, "OBJECT_ID_CHANGE"},
	{UsnReasonReparsePointChange, "REPARSE_POINT_CHANGE"},
	{UsnReasonStreamChange, "STREAM_CHANGE"},
	{UsnReasonTransactedChange, "TRANSACTED_CHANGE"},
	{UsnReasonIntegrityChange, "INTEGRITY_CHANGE"},
	{UsnReasonClose, "CLOSE"},
}

// DumpReason concatenates the names of every set bit in a USN reason mask,
// joined by "|", e.g. "FILE_CREATE|CLOSE".
func DumpReason(reason uint32) string {
	var names []string
	for _, r := range usnReasonNames {
		if reason&r.bit != 0 {
			names = append(names, r.name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	out := names[0]
	for _, n := range names[1:] {
		out += "|" + n
	}
	return out
}

// usnRecordHeader is the common header shared by every USN_RECORD version.
type usnRecordHeader struct {
	RecordLength uint32
	MajorVersion uint16
	MinorVersion uint16
}

const usnRecordHeaderSize = 4 + 2 + 2

// usnRecordV2 mirrors USN_RECORD_V2.
type usnRecordV2 struct {
	FileReferenceNumber       uint64
	ParentFileReferenceNumber uint64
	USN                       int64
	TimeStamp                 int64
	Reason                    uint32
	SourceInfo                uint32
	SecurityID                uint32
	FileAttributes            uint32
	FileNameLength            uint16
	FileNameOffset            uint16
}

// usnRecordV3 mirrors USN_RECORD_V3: 128-bit file and parent IDs.
type usnRecordV3 struct {
	FileReferenceNumber       [16]byte
	ParentFileReferenceNumber [16]byte
	USN                       int64
	TimeStamp                 int64
	Reason                    uint32
	SourceInfo                uint32
	SecurityID                uint32
	FileAttributes            uint32
	FileNameLength            uint16
	FileNameOffset            uint16
}

// usnRecordV4 mirrors USN_RECORD_V4: no filename, carries an array of
// range-tracking extents instead.
type usnRecordV4 struct {
	FileReferenceNumber       [16]byte
	ParentFileReferenceNumber [16]byte
	USN                       int64
	Reason                    uint32
	SourceInfo                uint32
	RemainingExtents          uint32
	NumberOfExtents           uint16
	ExtentSize                uint16
}
