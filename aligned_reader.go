// This package manages a buffered random-access reader that only ever
// issues reads and seeks aligned to a fixed block size, suitable for
// reading raw Windows volume devices that reject unaligned I/O.

package ntfs

import (
	"io"

	"github.com/dsoprea/go-logging"
)

const defaultAlignment = 4096

// AlignedReader wraps an io.ReadSeeker and buffers one aligned block at a
// time so that callers can issue arbitrarily-offset reads while the
// underlying reader only ever sees reads and seeks that land on
// `alignment`-byte boundaries.
type AlignedReader struct {
	inner     io.ReadSeeker
	alignment int64
	position  int64

	bufferPos  int64
	bufferSize int
	buffer     []byte
}

// NewAlignedReader returns an AlignedReader over `inner`, bucketing I/O
// into blocks of `alignment` bytes.
func NewAlignedReader(inner io.ReadSeeker, alignment int64) *AlignedReader {
	return &AlignedReader{
		inner:     inner,
		alignment: alignment,
		buffer:    make([]byte, alignment),
	}
}

// NewVolumeAlignedReader returns an AlignedReader over `inner` using the
// alignment Windows volume devices require for unbuffered access.
func NewVolumeAlignedReader(inner io.ReadSeeker) *AlignedReader {
	return NewAlignedReader(inner, defaultAlignment)
}

func roundDown(value, multiple int64) int64 {
	return (value / multiple) * multiple
}

func roundUp(value, multiple int64) int64 {
	return roundDown(value+multiple-1, multiple)
}

func (ar *AlignedReader) fillBuffer() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	alignedPos := roundDown(ar.position, ar.alignment)
	if alignedPos == ar.bufferPos && ar.bufferSize > 0 {
		return nil
	}

	_, err = ar.inner.Seek(alignedPos, io.SeekStart)
	log.PanicIf(err)

	n, err := io.ReadFull(ar.inner, ar.buffer)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		err = errIO(err)
		log.PanicIf(err)
	}
	err = nil

	ar.bufferPos = alignedPos
	ar.bufferSize = n

	return nil
}

// Read implements io.Reader, transparently refilling the aligned buffer as
// the logical read position crosses block boundaries.
func (ar *AlignedReader) Read(p []byte) (n int, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if len(p) == 0 {
		return 0, nil
	}

	err = ar.fillBuffer()
	log.PanicIf(err)

	offsetInBuffer := int(ar.position - ar.bufferPos)
	if offsetInBuffer >= ar.bufferSize {
		return 0, io.EOF
	}

	n = copy(p, ar.buffer[offsetInBuffer:ar.bufferSize])
	ar.position += int64(n)

	return n, nil
}

// Seek implements io.Seeker. SeekFrom end-of-stream is not supported, since
// the underlying volume device generally has no reliable notion of size;
// a relative seek that would underflow below zero is reported as an
// invalid-argument error rather than silently clamped.
func (ar *AlignedReader) Seek(offset int64, whence int) (int64, error) {
	var next int64

	switch whence {
	case io.SeekStart:
		if offset < 0 {
			return 0, errInvalidInput("negative absolute seek")
		}
		next = offset
	case io.SeekCurrent:
		next = ar.position + offset
		if next < 0 {
			return 0, errInvalidInput("relative seek underflows before start of stream")
		}
	case io.SeekEnd:
		return 0, errInvalidInput("seek from end is not supported")
	default:
		return 0, errInvalidInput("unknown seek whence")
	}

	ar.position = next

	return ar.position, nil
}

// Position returns the current logical read position.
func (ar *AlignedReader) Position() int64 {
	return ar.position
}
