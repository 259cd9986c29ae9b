package ntfs

import (
	"testing"
)

// buildResidentAttribute assembles a full attribute buffer: the common
// header, the resident sub-header, and the given value bytes placed
// immediately after it.
func buildResidentAttribute(typeID uint32, value []byte) []byte {
	residentHeaderOffset := ntfsAttributeHeaderSize
	valueOffset := residentHeaderOffset + ntfsResidentAttributeHeaderSize
	total := valueOffset + len(value)

	buf := make([]byte, total)

	defaultEncoding.PutUint32(buf[0:], typeID)
	defaultEncoding.PutUint32(buf[4:], uint32(total))
	buf[8] = 0 // IsNonResident

	defaultEncoding.PutUint32(buf[residentHeaderOffset:], uint32(len(value)))
	defaultEncoding.PutUint16(buf[residentHeaderOffset+4:], uint16(valueOffset))

	copy(buf[valueOffset:], value)

	return buf
}

func buildStandardInformationValue(creation, access, modification uint64) []byte {
	value := make([]byte, ntfsStandardInformationSize)
	defaultEncoding.PutUint64(value[0:], creation)
	defaultEncoding.PutUint64(value[8:], modification)
	defaultEncoding.PutUint64(value[16:], modification) // MFTRecordModificationTime
	defaultEncoding.PutUint64(value[24:], access)
	return value
}

func buildFileNameValue(parent uint64, fileAttributes uint32, namespace NtfsFileNamespace, name string) []byte {
	nameUnits := []uint16(nil)
	for _, r := range name {
		nameUnits = append(nameUnits, uint16(r))
	}

	value := make([]byte, ntfsFileNameHeaderSize+len(nameUnits)*2)
	defaultEncoding.PutUint64(value[0:], parent)
	defaultEncoding.PutUint32(value[56:], fileAttributes)
	value[64] = uint8(len(nameUnits))
	value[65] = uint8(namespace)

	for i, u := range nameUnits {
		defaultEncoding.PutUint16(value[ntfsFileNameHeaderSize+i*2:], u)
	}

	return value
}

func TestNewAttribute_Resident(t *testing.T) {
	value := buildStandardInformationValue(100, 200, 300)
	raw := buildResidentAttribute(uint32(AttributeStandardInformation), value)

	attr, ok := NewAttribute(raw)
	if !ok {
		t.Fatalf("expected NewAttribute to succeed")
	}

	info, ok := attr.AsStandardInformation()
	if !ok {
		t.Fatalf("expected AsStandardInformation to succeed")
	}
	if info.CreationTime != 100 || info.AccessTime != 200 {
		t.Fatalf("decoded StandardInformation does not match: %+v", info)
	}
}

func TestNewAttribute_FileName(t *testing.T) {
	value := buildFileNameValue(RootRecord, FileAttributeDirectory, NamespaceWin32, "hello.txt")
	raw := buildResidentAttribute(uint32(AttributeFileName), value)

	attr, ok := NewAttribute(raw)
	if !ok {
		t.Fatalf("expected NewAttribute to succeed")
	}

	name, ok := attr.AsFileName()
	if !ok {
		t.Fatalf("expected AsFileName to succeed")
	}
	if name.Name != "hello.txt" {
		t.Fatalf("expected name %q, got %q", "hello.txt", name.Name)
	}
	if name.Parent() != RootRecord {
		t.Fatalf("expected parent %d, got %d", RootRecord, name.Parent())
	}
}

func TestNewAttribute_EndMarker(t *testing.T) {
	raw := make([]byte, ntfsAttributeHeaderSize)
	defaultEncoding.PutUint32(raw[0:], uint32(AttributeEnd))

	attr, ok := NewAttribute(raw)
	if !ok {
		t.Fatalf("expected NewAttribute to accept the End marker")
	}
	if attr.Header.TypeID != uint32(AttributeEnd) {
		t.Fatalf("expected the decoded header to carry the End type ID")
	}
}

func TestNewAttribute_TooShort(t *testing.T) {
	if _, ok := NewAttribute(make([]byte, 4)); ok {
		t.Fatalf("expected NewAttribute to reject a too-short buffer")
	}
}

// appendDataRun appends one encoded data run to buf: a header byte, the
// run's length field, and (for non-sparse runs) the signed LCN-delta field.
func appendDataRun(buf []byte, lengthClusters uint64, lcnDelta int64, sparse bool) []byte {
	lengthBytes := encodeRunField(int64(lengthClusters))

	if sparse {
		header := byte(len(lengthBytes))
		buf = append(buf, header)
		buf = append(buf, lengthBytes...)
		return buf
	}

	offsetBytes := encodeRunField(lcnDelta)
	header := byte(len(lengthBytes)) | byte(len(offsetBytes)<<4)
	buf = append(buf, header)
	buf = append(buf, lengthBytes...)
	buf = append(buf, offsetBytes...)
	return buf
}

// encodeRunField returns the minimal little-endian, sign-extended encoding
// of v, matching what a real NTFS data-run list would carry.
func encodeRunField(v int64) []byte {
	if v == 0 {
		return []byte{0}
	}

	var out []byte
	for {
		out = append(out, byte(v))
		v >>= 8
		if (v == 0 && out[len(out)-1]&0x80 == 0) || (v == -1 && out[len(out)-1]&0x80 != 0) {
			break
		}
	}
	return out
}

func buildNonResidentAttribute(typeID uint32, dataRuns []byte, allocatedSize, dataSize uint64) []byte {
	nonResidentHeaderOffset := ntfsAttributeHeaderSize
	runsOffset := nonResidentHeaderOffset + ntfsNonResidentAttributeHeaderSize
	total := runsOffset + len(dataRuns) + 1 // +1 for the terminating 0x00

	buf := make([]byte, total)

	defaultEncoding.PutUint32(buf[0:], typeID)
	defaultEncoding.PutUint32(buf[4:], uint32(total))
	buf[8] = 1 // IsNonResident

	defaultEncoding.PutUint16(buf[nonResidentHeaderOffset+16:], uint16(runsOffset))
	defaultEncoding.PutUint64(buf[nonResidentHeaderOffset+24:], allocatedSize)
	defaultEncoding.PutUint64(buf[nonResidentHeaderOffset+32:], dataSize)

	copy(buf[runsOffset:], dataRuns)

	return buf
}

func TestAttribute_DataRuns_Allocated(t *testing.T) {
	const clusterSize = 4096

	var runs []byte
	runs = appendDataRun(runs, 10, 1000, false)
	runs = appendDataRun(runs, 5, 50, false)

	raw := buildNonResidentAttribute(uint32(AttributeData), runs, 15*clusterSize, 15*clusterSize)

	attr, ok := NewAttribute(raw)
	if !ok {
		t.Fatalf("expected NewAttribute to succeed")
	}

	decoded, err := attr.DataRuns(clusterSize)
	if err != nil {
		t.Fatalf("DataRuns failed: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(decoded))
	}
	if decoded[0].LCN != 1000 || decoded[0].LengthBytes != 10*clusterSize {
		t.Fatalf("unexpected first run: %+v", decoded[0])
	}
	// Second run's LCN accumulates as a delta from the first.
	if decoded[1].LCN != 1050 || decoded[1].LengthBytes != 5*clusterSize {
		t.Fatalf("unexpected second run: %+v", decoded[1])
	}
}

func TestAttribute_DataRuns_Sparse(t *testing.T) {
	const clusterSize = 4096

	var runs []byte
	runs = appendDataRun(runs, 20, 0, false)
	runs = appendDataRun(runs, 100, 0, true)
	runs = appendDataRun(runs, 3, 5, false)

	raw := buildNonResidentAttribute(uint32(AttributeData), runs, 123*clusterSize, 123*clusterSize)

	attr, ok := NewAttribute(raw)
	if !ok {
		t.Fatalf("expected NewAttribute to succeed")
	}

	decoded, err := attr.DataRuns(clusterSize)
	if err != nil {
		t.Fatalf("DataRuns failed: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(decoded))
	}
	if !decoded[1].IsSparse {
		t.Fatalf("expected the middle run to be sparse")
	}
	if decoded[1].LengthBytes != 100*clusterSize {
		t.Fatalf("expected sparse run length %d, got %d", 100*clusterSize, decoded[1].LengthBytes)
	}
	// LCN accumulation skips over the sparse run entirely.
	if decoded[2].LCN != 5 {
		t.Fatalf("expected third run LCN 5, got %d", decoded[2].LCN)
	}
}

func TestAttribute_DataRuns_ShortOfDataSize(t *testing.T) {
	const clusterSize = 4096

	var runs []byte
	runs = appendDataRun(runs, 1, 10, false)

	raw := buildNonResidentAttribute(uint32(AttributeData), runs, 100*clusterSize, 100*clusterSize)

	attr, ok := NewAttribute(raw)
	if !ok {
		t.Fatalf("expected NewAttribute to succeed")
	}

	if _, err := attr.DataRuns(clusterSize); err == nil {
		t.Fatalf("expected an error when decoded runs fall short of DataSize")
	}
}

func TestAttribute_DataRuns_RejectsZeroClusterCount(t *testing.T) {
	const clusterSize = 4096

	var runs []byte
	runs = appendDataRun(runs, 0, 10, false)

	raw := buildNonResidentAttribute(uint32(AttributeData), runs, 0, 0)

	attr, ok := NewAttribute(raw)
	if !ok {
		t.Fatalf("expected NewAttribute to succeed")
	}

	if _, err := attr.DataRuns(clusterSize); err == nil {
		t.Fatalf("expected a zero cluster count to be rejected")
	}
}
