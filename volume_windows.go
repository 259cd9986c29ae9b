//go:build windows

// This package holds the Windows-specific half of Volume: opening the raw
// device handle for a drive letter and checking whether the current
// process is elevated (both the MFT bootstrap read and the USN journal
// ioctls require SeBackupPrivilege-class access, which in practice means
// running elevated).

package ntfs

import (
	"fmt"

	"github.com/dsoprea/go-logging"
	"golang.org/x/sys/windows"
)

// OpenVolumeDevice opens the raw device for drive letter `letter` (e.g.
// 'C') and reads its boot sector to build a Volume. It fails with a
// KindElevation error up front if the current process is not running
// elevated, rather than letting CreateFile fail with a more confusing
// access-denied error.
func OpenVolumeDevice(letter byte) (volume Volume, reader *AlignedReader, err error) {
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

	path := fmt.Sprintf(`\\.\%c:`, letter)
	pathPtr, convErr := windows.UTF16PtrFromString(path)
	log.PanicIf(convErr)

	handle, openErr := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if openErr != nil {
		log.PanicIf(errWindowsCall("CreateFile", openErr))
	}

	file := &volumeFile{handle: handle, path: path}
	reader = NewAlignedReader(file, defaultAlignment)

	bootRaw := make([]byte, SectorSize)
	if _, rErr := reader.Read(bootRaw); rErr != nil {
		windows.CloseHandle(handle)
		log.PanicIf(errIO(rErr))
	}
	if _, sErr := reader.Seek(0, 0); sErr != nil {
		windows.CloseHandle(handle)
		log.PanicIf(errIO(sErr))
	}

	bs, bsErr := parseBootSector(bootRaw)
	log.PanicIf(bsErr)

	volume = newVolumeFromBootSector(path, bs)

	return volume, reader, nil
}

// volumeFile adapts a raw Windows device handle to io.ReadSeeker, which is
// all AlignedReader needs from it.
type volumeFile struct {
	handle   windows.Handle
	path     string
	position int64
}

func (f *volumeFile) Read(p []byte) (int, error) {
	var done uint32
	err := windows.ReadFile(f.handle, p, &done, nil)
	if err != nil {
		return int(done), errWindowsCall("ReadFile", err)
	}
	f.position += int64(done)
	if done == 0 {
		return 0, errIO(nil)
	}
	return int(done), nil
}

func (f *volumeFile) Seek(offset int64, whence int) (int64, error) {
	newPos, err := windows.SetFilePointer(f.handle, int32(offset), nil, uint32(whence))
	if err != nil {
		return 0, errWindowsCall("SetFilePointer", err)
	}
	f.position = int64(newPos)
	return f.position, nil
}

func (f *volumeFile) Close() error {
	return windows.CloseHandle(f.handle)
}

// isElevated reports whether the current process token carries the
// elevated (full-admin) flag, following the same OpenProcessToken /
// GetTokenInformation(TokenElevation) sequence as every other Windows tool
// that needs to tell a user "re-run this as Administrator" up front rather
// than after a confusing access-denied failure deep in an ioctl call.
func isElevated() (elevated bool, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	var token windows.Token
	procHandle := windows.CurrentProcess()
	tokErr := windows.OpenProcessToken(procHandle, windows.TOKEN_QUERY, &token)
	if tokErr != nil {
		log.PanicIf(errWindowsCall("OpenProcessToken", tokErr))
	}
	defer token.Close()

	return token.IsElevated(), nil
}
