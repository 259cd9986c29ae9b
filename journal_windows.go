//go:build windows

// This package drives the Windows-specific half of the USN journal
// reader: opening the volume handle, querying and reading the journal via
// DeviceIoControl, and resolving a changed file's current path by opening
// it by file ID.

package ntfs

import (
	"syscall"
	"unicode/utf16"
	"unsafe"

	"github.com/dsoprea/go-logging"
	"golang.org/x/sys/windows"
)

const (
	fsctlQueryUsnJournal = 0x000900f4
	fsctlReadUsnJournal  = 0x000900bb

	defaultJournalBufferSize = 4096

	// journalCompletionKey is the completion key CreateIoCompletionPort
	// associates with the volume handle; there is only ever one handle per
	// port, so any fixed value works.
	journalCompletionKey uintptr = 1
)

// usnJournalDataV2 mirrors USN_JOURNAL_DATA_V2.
type usnJournalDataV2 struct {
	UsnJournalID             uint64
	FirstUsn                 int64
	NextUsn                  int64
	LowestValidUsn           int64
	MaxUsn                   int64
	MaximumSize              uint64
	AllocationDelta          uint64
	MinSupportedMajorVersion uint16
	MaxSupportedMajorVersion uint16
}

// readUsnJournalDataV1 mirrors READ_USN_JOURNAL_DATA_V1.
type readUsnJournalDataV1 struct {
	StartUsn          int64
	ReasonMask        uint32
	ReturnOnlyOnClose uint32
	Timeout           uint64
	BytesToWaitFor    uint64
	UsnJournalID      uint64
	MinMajorVersion   uint16
	MaxMajorVersion   uint16
}

var (
	modkernel32           = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileById      = modkernel32.NewProc("OpenFileById")
	procGetFileInfoByHandleEx = modkernel32.NewProc("GetFileInformationByHandleEx")
)

const fileIdTypeExtended = 2 // FILE_ID_TYPE.ExtendedFileId
const fileNameInfoClass = 2  // FILE_INFO_BY_HANDLE_CLASS.FileNameInfo
const errorMoreData = 234

// fileIdDescriptor mirrors FILE_ID_DESCRIPTOR{Type: ExtendedFileId}.
type fileIdDescriptor struct {
	Size          uint32
	Type          uint32
	ExtendedFileId [16]byte
}

// Journal reads USN change-journal records from a live NTFS volume.
// A Journal's cursor state is not safe for concurrent use; callers must
// serialize calls to Read.
type Journal struct {
	*journalCore

	volumeHandle windows.Handle
	port         windows.Handle
	bufferSize   int
}

// OpenJournal opens the USN journal on the volume at `volumePath` (a
// `\\.\X:`-style raw device path). The caller must already be running
// elevated; OpenJournal itself checks this and returns a KindElevation
// error rather than attempting (and failing more confusingly) to open the
// device.
func OpenJournal(volumePath string, opts Options) (j *Journal, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	elevated, elevErr := isElevated()
	log.PanicIf(elevErr)
	if !elevated {
		log.PanicIf(errElevation(nil))
	}

	pathPtr, convErr := windows.UTF16PtrFromString(volumePath)
	log.PanicIf(convErr)

	handle, openErr := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if openErr != nil {
		log.PanicIf(errWindowsCall("CreateFile", openErr))
	}

	var journal usnJournalDataV2
	var bytesReturned uint32
	ioctlErr := windows.DeviceIoControl(
		handle,
		fsctlQueryUsnJournal,
		nil, 0,
		(*byte)(unsafe.Pointer(&journal)), uint32(unsafe.Sizeof(journal)),
		&bytesReturned, nil,
	)
	if ioctlErr != nil {
		windows.CloseHandle(handle)
		log.PanicIf(errWindowsCall("FSCTL_QUERY_USN_JOURNAL", ioctlErr))
	}

	port, portErr := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if portErr != nil {
		windows.CloseHandle(handle)
		log.PanicIf(errWindowsCall("CreateIoCompletionPort", portErr))
	}

	if _, assocErr := windows.CreateIoCompletionPort(handle, port, journalCompletionKey, 0); assocErr != nil {
		windows.CloseHandle(handle)
		windows.CloseHandle(port)
		log.PanicIf(errWindowsCall("CreateIoCompletionPort", assocErr))
	}

	core := newJournalCore(volumePath, opts, journal.UsnJournalID, journal.NextUsn)

	j = &Journal{
		journalCore:  core,
		volumeHandle: handle,
		port:         port,
		bufferSize:   defaultJournalBufferSize,
	}

	return j, nil
}

// Close releases the volume handle and completion port. Calling it from
// another goroutine while a Read is blocked in GetQueuedCompletionStatus
// makes that pending wait return with an OS error, which is the only
// cancellation mechanism this package exposes (see design notes).
func (j *Journal) Close() error {
	windows.CloseHandle(j.port)
	return windows.CloseHandle(j.volumeHandle)
}

// Read issues one FSCTL_READ_USN_JOURNAL request and returns every
// normalized record it produced, advancing the journal's cursor. It loops
// internally while a V4 range-tracking chain is still pending a stitching
// V3 CLOSE record, per spec.md's record-reassembly rules.
func (j *Journal) Read() ([]UsnRecord, error) {
	return j.readSized(j.bufferSize)
}

func (j *Journal) readSized(bufferSize int) (results []UsnRecord, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	var chain pendingV4Chain

	for {
		needLoop, batch := j.readOnce(bufferSize, &chain)
		results = append(results, batch...)
		if !needLoop {
			break
		}
	}

	return results, nil
}

func (j *Journal) readOnce(bufferSize int, chain *pendingV4Chain) (needLoop bool, results []UsnRecord) {
	request := readUsnJournalDataV1{
		StartUsn:        j.nextUSN,
		ReasonMask:      j.reasonMask,
		UsnJournalID:    j.journalID,
		MinMajorVersion: 2,
		MaxMajorVersion: 4,
	}

	buffer := make([]byte, bufferSize)
	var overlapped windows.Overlapped

	ioctlErr := windows.DeviceIoControl(
		j.volumeHandle,
		fsctlReadUsnJournal,
		(*byte)(unsafe.Pointer(&request)), uint32(unsafe.Sizeof(request)),
		&buffer[0], uint32(len(buffer)),
		nil, &overlapped,
	)
	if ioctlErr != nil && ioctlErr != windows.ERROR_IO_PENDING {
		log.PanicIf(errWindowsCall("FSCTL_READ_USN_JOURNAL", ioctlErr))
	}

	var bytesReturned uint32
	var completionKey uintptr
	var completedOverlapped *windows.Overlapped
	compErr := windows.GetQueuedCompletionStatus(j.port, &bytesReturned, &completionKey, &completedOverlapped, windows.INFINITE)
	if compErr != nil {
		log.PanicIf(errWindowsCall("GetQueuedCompletionStatus", compErr))
	}

	if bytesReturned < 8 {
		return false, nil
	}

	nextUSN := int64(defaultEncoding.Uint64(buffer[:8]))
	if nextUSN == 0 || nextUSN < j.nextUSN {
		return false, nil
	}
	j.nextUSN = nextUSN

	offset := uint32(8)
	for offset < bytesReturned {
		if offset+usnRecordHeaderSize > bytesReturned {
			break
		}

		recordLength := defaultEncoding.Uint32(buffer[offset : offset+4])
		majorVersion := defaultEncoding.Uint16(buffer[offset+4 : offset+6])

		if recordLength == 0 {
			break
		}

		recordBuf := buffer[offset : offset+recordLength]

		switch majorVersion {
		case 2:
			record := j.decodeV2(recordBuf)
			j.recordHistory(record)
			results = append(results, record)
			chain.reset()
		case 3:
			record := j.decodeV3(recordBuf)
			if chain.active && chain.fileID == record.FileID && record.Reason&UsnReasonClose != 0 {
				record.Reason |= chain.reason
				record.Extents = chain.extents
				chain.reset()
			}
			j.recordHistory(record)
			results = append(results, record)
		case 4:
			fileID, reason, extents := j.decodeV4(recordBuf)
			if chain.active && chain.fileID == fileID {
				chain.reason |= reason
				chain.extents = append(chain.extents, extents...)
			} else {
				chain.fileID = fileID
				chain.reason = reason
				chain.extents = extents
				chain.active = true
			}
			needLoop = true
		default:
			// Unknown/unsupported major version: skip.
		}

		offset += recordLength
	}

	return needLoop && chain.active, results
}

func (j *Journal) recordHistory(record UsnRecord) {
	if isRenameHistoryReason(record.Reason) {
		j.history.push(record)
	}
}

func (j *Journal) decodeV2(raw []byte) UsnRecord {
	const headerSize = usnRecordHeaderSize
	fileRef := defaultEncoding.Uint64(raw[headerSize : headerSize+8])
	parentRef := defaultEncoding.Uint64(raw[headerSize+8 : headerSize+16])
	usn := int64(defaultEncoding.Uint64(raw[headerSize+16 : headerSize+24]))
	timestamp := int64(defaultEncoding.Uint64(raw[headerSize+24 : headerSize+32]))
	reason := defaultEncoding.Uint32(raw[headerSize+32 : headerSize+36])
	nameLength := defaultEncoding.Uint16(raw[headerSize+48 : headerSize+50])
	nameOffset := defaultEncoding.Uint16(raw[headerSize+50 : headerSize+52])

	name := decodeJournalName(raw, nameOffset, nameLength)

	return UsnRecord{
		USN:       usn,
		Timestamp: NtfsToUnixTime(uint64(timestamp)),
		FileID:    fileRef & 0x0000_FFFF_FFFF_FFFF,
		ParentID:  parentRef & 0x0000_FFFF_FFFF_FFFF,
		Reason:    reason,
		Path:      j.resolvePath(parentRef, name),
	}
}

func (j *Journal) decodeV3(raw []byte) UsnRecord {
	const headerSize = usnRecordHeaderSize
	fileRef128 := raw[headerSize : headerSize+16]
	parentRef128 := raw[headerSize+16 : headerSize+32]
	usn := int64(defaultEncoding.Uint64(raw[headerSize+32 : headerSize+40]))
	timestamp := int64(defaultEncoding.Uint64(raw[headerSize+40 : headerSize+48]))
	reason := defaultEncoding.Uint32(raw[headerSize+48 : headerSize+52])
	nameLength := defaultEncoding.Uint16(raw[headerSize+64 : headerSize+66])
	nameOffset := defaultEncoding.Uint16(raw[headerSize+66 : headerSize+68])

	name := decodeJournalName(raw, nameOffset, nameLength)
	fileID := defaultEncoding.Uint64(fileRef128[:8]) & 0x0000_FFFF_FFFF_FFFF
	parentID := defaultEncoding.Uint64(parentRef128[:8]) & 0x0000_FFFF_FFFF_FFFF

	return UsnRecord{
		USN:       usn,
		Timestamp: NtfsToUnixTime(uint64(timestamp)),
		FileID:    fileID,
		ParentID:  parentID,
		Reason:    reason,
		Path:      j.resolvePathByFileRef128(parentRef128, name),
	}
}

// decodeV4 decodes a USN_RECORD_V4's file ID, reason mask, and extent
// array. USN_RECORD_V4 lays out FileReferenceNumber(16) +
// ParentFileReferenceNumber(16) + Usn(8) + Reason(4) + SourceInfo(4) +
// RemainingExtents(4) + NumberOfExtents(2) + ExtentSize(2) before the
// variable-length Extents array itself.
func (j *Journal) decodeV4(raw []byte) (fileID uint64, reason uint32, extents []UsnExtent) {
	const headerSize = usnRecordHeaderSize
	fileRef128 := raw[headerSize : headerSize+16]
	reason = defaultEncoding.Uint32(raw[headerSize+40 : headerSize+44])
	numberOfExtents := defaultEncoding.Uint16(raw[headerSize+52 : headerSize+54])
	extentSize := defaultEncoding.Uint16(raw[headerSize+54 : headerSize+56])
	fileID = defaultEncoding.Uint64(fileRef128[:8]) & 0x0000_FFFF_FFFF_FFFF

	extentsStart := headerSize + 56
	for i := uint16(0); i < numberOfExtents; i++ {
		start := extentsStart + int(i)*int(extentSize)
		if start+16 > len(raw) {
			break
		}
		extents = append(extents, UsnExtent{
			Offset: int64(defaultEncoding.Uint64(raw[start : start+8])),
			Length: int64(defaultEncoding.Uint64(raw[start+8 : start+16])),
		})
	}

	return fileID, reason, extents
}

func decodeJournalName(raw []byte, nameOffset, nameLength uint16) string {
	if nameLength == 0 {
		return ""
	}
	start := int(nameOffset)
	end := start + int(nameLength)
	if end > len(raw) {
		return ""
	}
	units := make([]uint16, nameLength/2)
	for i := range units {
		units[i] = defaultEncoding.Uint16(raw[start+i*2 : start+i*2+2])
	}
	return string(utf16.Decode(units))
}

func (j *Journal) resolvePath(parentRef uint64, name string) string {
	var buf [16]byte
	defaultEncoding.PutUint64(buf[:8], parentRef)
	return j.resolvePathByFileRef128(buf[:], name)
}

// resolvePathByFileRef128 opens the parent directory by its file
// reference and asks the filesystem for its current full path, then joins
// the changed file's name onto it — following renames/moves that happened
// after the record was generated, which is the whole point of resolving
// paths live instead of trusting the record's own (pre-change) name.
func (j *Journal) resolvePathByFileRef128(parentRef128 []byte, name string) string {
	parentPath, ok := j.getFilePathByID(parentRef128)
	if !ok {
		return name
	}
	if name == "" {
		return parentPath
	}
	return parentPath + "\\" + name
}

func (j *Journal) getFilePathByID(fileRef128 []byte) (string, bool) {
	var desc fileIdDescriptor
	desc.Size = uint32(unsafe.Sizeof(desc))
	desc.Type = fileIdTypeExtended
	copy(desc.ExtendedFileId[:], fileRef128)

	handle, _, callErr := procOpenFileById.Call(
		uintptr(j.volumeHandle),
		uintptr(unsafe.Pointer(&desc)),
		uintptr(windows.GENERIC_READ),
		uintptr(windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE),
		0,
		0,
	)
	if handle == 0 || handle == uintptr(windows.InvalidHandle) {
		_ = callErr
		return "", false
	}
	fh := windows.Handle(handle)
	defer windows.CloseHandle(fh)

	bufSize := uint32(1024)
	for attempt := 0; attempt < 4; attempt++ {
		buf := make([]byte, bufSize)
		ret, _, callErr := procGetFileInfoByHandleEx.Call(
			uintptr(fh),
			uintptr(fileNameInfoClass),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(bufSize),
		)
		if ret != 0 {
			nameLen := defaultEncoding.Uint32(buf[:4])
			if int(4+nameLen) > len(buf) {
				bufSize *= 2
				continue
			}
			units := make([]uint16, nameLen/2)
			for i := range units {
				units[i] = defaultEncoding.Uint16(buf[4+i*2 : 4+i*2+2])
			}
			return string(utf16.Decode(units)), true
		}

		if errno, ok := callErr.(syscall.Errno); ok && errno == errorMoreData {
			bufSize *= 2
			continue
		}
		return "", false
	}

	return "", false
}
