// This package decodes a single NTFS attribute from the raw bytes of an
// MFT file record, including the variable-length data-run list that
// describes where a non-resident attribute's content lives on disk.

package ntfs

import (
	"unicode/utf16"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

// Attribute is a decoded view over one attribute's raw bytes. It holds no
// copies beyond what decoding the fixed-size headers requires; resident
// values and data runs are read lazily from the backing slice.
type Attribute struct {
	data         []byte
	Header       NtfsAttributeHeader
	residentHdr  *NtfsResidentAttributeHeader
	nonResidentHdr *NtfsNonResidentAttributeHeader
}

// NewAttribute decodes the attribute occupying the start of `data`. It
// returns false if `data` is too short to hold even the common header, or
// if the declared length is internally inconsistent.
func NewAttribute(data []byte) (attr *Attribute, ok bool) {
	if len(data) < ntfsAttributeHeaderSize {
		return nil, false
	}

	var header NtfsAttributeHeader
	if err := restruct.Unpack(data[:ntfsAttributeHeaderSize], defaultEncoding, &header); err != nil {
		return nil, false
	}

	if header.TypeID == uint32(AttributeEnd) {
		return &Attribute{data: data, Header: header}, true
	}

	if header.Length == 0 || uint64(header.Length) > uint64(len(data)) {
		return nil, false
	}

	attr = &Attribute{data: data[:header.Length], Header: header}

	if header.IsNonResident == 0 {
		if len(attr.data) < ntfsAttributeHeaderSize+ntfsResidentAttributeHeaderSize {
			return nil, false
		}
		var rh NtfsResidentAttributeHeader
		if err := restruct.Unpack(attr.data[ntfsAttributeHeaderSize:ntfsAttributeHeaderSize+ntfsResidentAttributeHeaderSize], defaultEncoding, &rh); err != nil {
			return nil, false
		}
		attr.residentHdr = &rh
	} else {
		if len(attr.data) < ntfsAttributeHeaderSize+ntfsNonResidentAttributeHeaderSize {
			return nil, false
		}
		var nrh NtfsNonResidentAttributeHeader
		if err := restruct.Unpack(attr.data[ntfsAttributeHeaderSize:ntfsAttributeHeaderSize+ntfsNonResidentAttributeHeaderSize], defaultEncoding, &nrh); err != nil {
			return nil, false
		}
		attr.nonResidentHdr = &nrh
	}

	return attr, true
}

// Len returns the attribute's declared on-disk length, used by callers to
// advance to the next attribute in a file record.
func (a *Attribute) Len() int {
	return int(a.Header.Length)
}

// ResidentHeader returns the resident-value header, if this attribute is
// resident.
func (a *Attribute) ResidentHeader() (*NtfsResidentAttributeHeader, bool) {
	return a.residentHdr, a.residentHdr != nil
}

// NonResidentHeader returns the non-resident header, if this attribute is
// non-resident.
func (a *Attribute) NonResidentHeader() (*NtfsNonResidentAttributeHeader, bool) {
	return a.nonResidentHdr, a.nonResidentHdr != nil
}

// ResidentValue returns the raw bytes of a resident attribute's value.
func (a *Attribute) ResidentValue() ([]byte, bool) {
	rh := a.residentHdr
	if rh == nil {
		return nil, false
	}

	start := int(rh.ValueOffset)
	end := start + int(rh.ValueLength)
	if start < 0 || end > len(a.data) || end < start {
		return nil, false
	}

	return a.data[start:end], true
}

// AsStandardInformation decodes this attribute's resident value as a
// StandardInformation (0x10) payload.
func (a *Attribute) AsStandardInformation() (*NtfsStandardInformation, bool) {
	if a.Header.TypeID != uint32(AttributeStandardInformation) {
		return nil, false
	}

	value, ok := a.ResidentValue()
	if !ok || len(value) < ntfsStandardInformationSize {
		return nil, false
	}

	var info NtfsStandardInformation
	if err := restruct.Unpack(value[:ntfsStandardInformationSize], defaultEncoding, &info); err != nil {
		return nil, false
	}

	return &info, true
}

// AsFileName decodes this attribute's resident value as a FILE_NAME (0x30)
// payload.
func (a *Attribute) AsFileName() (*NtfsFileName, bool) {
	if a.Header.TypeID != uint32(AttributeFileName) {
		return nil, false
	}

	value, ok := a.ResidentValue()
	if !ok || len(value) < ntfsFileNameHeaderSize {
		return nil, false
	}

	var header NtfsFileNameHeader
	if err := restruct.Unpack(value[:ntfsFileNameHeaderSize], defaultEncoding, &header); err != nil {
		return nil, false
	}

	nameBytesLen := int(header.NameLength) * 2
	nameStart := ntfsFileNameHeaderSize
	nameEnd := nameStart + nameBytesLen
	if nameEnd > len(value) {
		return nil, false
	}

	name := decodeUTF16LE(value[nameStart:nameEnd])

	return &NtfsFileName{Header: header, Name: name}, true
}

// AsResidentData returns the raw bytes of a resident DATA (0x80) payload.
func (a *Attribute) AsResidentData() ([]byte, bool) {
	if a.Header.TypeID != uint32(AttributeData) {
		return nil, false
	}
	return a.ResidentValue()
}

func decodeUTF16LE(raw []byte) string {
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = defaultEncoding.Uint16(raw[i*2 : i*2+2])
	}
	return string(utf16.Decode(units))
}

// DataRun is one element of a non-resident attribute's data-run list: a
// run of allocated clusters starting at an LCN, or a run of sparse
// (unallocated, implicitly zero) bytes.
type DataRun struct {
	IsSparse   bool
	LCN        int64 // meaningful only when !IsSparse
	LengthBytes uint64
}

// DataRuns decodes the variable-length data-run list of a non-resident
// attribute, per the NTFS run-list encoding: each run starts with a header
// byte whose low nibble gives the byte-count of a length field and whose
// high nibble gives the byte-count of a signed LCN-offset field, followed
// by that many length bytes and then that many offset bytes (both
// little-endian; the length is unsigned, the offset sign-extended). A header byte of 0x00 terminates the
// list. LCNs are tracked as a running delta from the previous run's LCN,
// as the on-disk encoding requires; an offset field of length zero marks a
// sparse run rather than an absolute LCN of zero.
func (a *Attribute) DataRuns(clusterSize uint64) (runs []DataRun, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	nrh := a.nonResidentHdr
	if nrh == nil {
		log.Panicf("attribute is resident")
	}

	start := int(nrh.DataRunsOffset)
	if start < 0 || start > len(a.data) {
		log.PanicIf(errInvalidDataRun("data runs offset out of bounds"))
	}
	runBytes := a.data[start:]

	var lcn int64
	var totalBytes uint64
	offset := 0

	for offset < len(runBytes) {
		header := runBytes[offset]
		if header == 0x00 {
			break
		}
		offset++

		lengthFieldSize := int(header & 0x0F)
		offsetFieldSize := int(header >> 4)

		if lengthFieldSize < 1 || lengthFieldSize > 8 {
			log.PanicIf(errInvalidDataRun("run length field size out of range 1..8"))
		}

		if offset+lengthFieldSize+offsetFieldSize > len(runBytes) {
			log.PanicIf(errInvalidDataRun("run header declares more bytes than remain"))
		}

		lengthClusters, runErr := readSignExtended(runBytes[offset:offset+lengthFieldSize], false)
		log.PanicIf(runErr)
		offset += lengthFieldSize

		if lengthClusters == 0 {
			log.PanicIf(errInvalidDataRun("run declares a zero cluster count"))
		}

		lengthBytes, overflow := mulOverflows(uint64(lengthClusters), clusterSize)
		if overflow {
			log.PanicIf(errInvalidDataRun("run length overflows byte count"))
		}

		isSparse := offsetFieldSize == 0

		var run DataRun
		if isSparse {
			run = DataRun{IsSparse: true, LengthBytes: lengthBytes}
		} else {
			delta, deltaErr := readSignExtended(runBytes[offset:offset+offsetFieldSize], true)
			log.PanicIf(deltaErr)

			lcn += delta

			run = DataRun{IsSparse: false, LCN: lcn, LengthBytes: lengthBytes}
		}
		offset += offsetFieldSize

		newTotal, overflow := addOverflows(totalBytes, lengthBytes)
		if overflow {
			log.PanicIf(errInvalidDataRun("accumulated run length overflows"))
		}
		totalBytes = newTotal

		runs = append(runs, run)
	}

	if totalBytes < nrh.DataSize {
		log.PanicIf(errInvalidDataRun("decoded runs shorter than declared data size"))
	}

	return runs, nil
}

// readSignExtended reads a little-endian, sign-extended integer from a
// byte slice of 0-8 bytes, as used by both the length and LCN-delta fields
// of a data run. When signed is false, the value is always treated as
// non-negative (run lengths cannot be negative).
func readSignExtended(raw []byte, signed bool) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	if len(raw) > 8 {
		return 0, errInvalidDataRun("run field wider than 8 bytes")
	}

	var buf [8]byte
	copy(buf[:], raw)

	negative := signed && raw[len(raw)-1]&0x80 != 0
	if negative {
		for i := len(raw); i < 8; i++ {
			buf[i] = 0xFF
		}
	}

	return int64(defaultEncoding.Uint64(buf[:])), nil
}

func mulOverflows(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	result := a * b
	if result/b != a {
		return 0, true
	}
	return result, false
}

func addOverflows(a, b uint64) (uint64, bool) {
	result := a + b
	return result, result < a
}
