// Package scan reads ZIP/JAR central directories over any io.ReaderAt, including Zip64 archives
// whose total size, entry sizes, offsets or entry counts exceed the 32-bit limits of the classic
// format.
//
// The package never decompresses entry data; it only decodes the structural records (local headers,
// central directory headers, the end of central directory record and its Zip64 variants).
package scan

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"math"

	"github.com/valyala/bytebufferpool"
)

var (
	// ErrTooSmall is returned by FindEOCD and NewScanner if the file is shorter than the minimal
	// 22-byte end of central directory record.
	ErrTooSmall = errors.New("file too small to be a ZIP file")

	// ErrNoEOCDFound is returned if no EOCD signature was found; most likely not a ZIP file.
	ErrNoEOCDFound = errors.New("end of central directory not found; most likely not a ZIP file")

	// ErrCorruptDirectory is returned when the EOCD, the zip64 locator or the zip64 EOCD do not
	// validate, or when the central directory ends before its declared entry count.
	ErrCorruptDirectory = errors.New("corrupt central directory")

	// ErrMalformedCentralDirectory is returned when a central directory header fails its signature
	// or length validation mid-scan; this aborts the whole scan.
	ErrMalformedCentralDirectory = errors.New("malformed central directory header")

	// ErrMalformedZip64 is returned when a 32-bit field carries the all-ones sentinel but the Zip64
	// extended-information sub-record is missing or truncated.
	ErrMalformedZip64 = errors.New("malformed zip64 extended-information field")
)

// Entry pairs a central directory header with the local header it points at.
type Entry struct {
	// CDH is never nil for an entry returned by Scanner.Next.
	CDH *CDHeader

	// LH is nil when the local header at CDH.Offset could not be decoded. A nil LH is scoped to
	// this one entry and does not stop the scan.
	LH *LocalHeader
}

// Scanner iterates the entries of one archive's central directory.
//
// A Scanner is not safe for use across multiple goroutines; use one Scanner per goroutine when
// processing many archives in parallel.
type Scanner struct {
	src    io.ReaderAt
	eocd   EOCDRecord
	bb     *bytebufferpool.ByteBuffer
	pos    int
	seen   uint64
	err    error
	closed bool
}

// NewScanner locates the central directory of the archive exposed by src and prepares to iterate
// its entries.
//
// The entire central directory is read into a pooled buffer up front; local headers are read lazily
// from src as each entry is returned, so src must remain usable until Close.
func NewScanner(src io.ReaderAt, size int64) (*Scanner, error) {
	eocd, err := FindEOCD(src, size)
	if err != nil {
		return nil, err
	}

	// overflow-safe: check the size before the sum.
	if eocd.CDSize > uint64(size) || eocd.CDOffset > uint64(size)-eocd.CDSize {
		return nil, fmt.Errorf("central directory [0x%x, 0x%x) extends past end of file (%d bytes): %w", eocd.CDOffset, eocd.CDOffset+eocd.CDSize, size, ErrCorruptDirectory)
	}

	bb := bytebufferpool.Get()
	if n := int(eocd.CDSize); cap(bb.B) < n {
		bb.B = make([]byte, n)
	} else {
		bb.B = bb.B[:n]
	}
	if n, err := src.ReadAt(bb.B, int64(eocd.CDOffset)); n < len(bb.B) {
		bytebufferpool.Put(bb)
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read central directory at offset 0x%x error: %w", eocd.CDOffset, err)
	}

	return &Scanner{src: src, eocd: eocd, bb: bb}, nil
}

// EOCD returns the end of central directory record, with Zip64 fields resolved.
func (s *Scanner) EOCD() EOCDRecord {
	return s.eocd
}

// Err returns the error that stopped the scan, if any.
//
// A scan that ran out of central directory bytes before yielding the declared entry count, or whose
// entries did not consume exactly the declared directory size, reports ErrCorruptDirectory here even
// though Next simply returned false.
func (s *Scanner) Err() error {
	return s.err
}

// Next returns the next entry of the central directory.
//
// The boolean is false once the declared entry count or the directory's byte size is exhausted,
// whichever comes first, or after an error (see Err) or Close. An entry whose local header cannot be
// decoded is still returned, with Entry.LH set to nil.
func (s *Scanner) Next() (Entry, bool) {
	if s.closed || s.err != nil {
		return Entry{}, false
	}

	if s.seen >= s.eocd.CDCount {
		if s.pos != len(s.bb.B) {
			s.err = fmt.Errorf("central directory declares %d bytes but its %d entries occupy %d: %w", len(s.bb.B), s.seen, s.pos, ErrCorruptDirectory)
		}
		return Entry{}, false
	}

	if s.pos >= len(s.bb.B) {
		s.err = fmt.Errorf("central directory ended after %d of %d entries: %w", s.seen, s.eocd.CDCount, ErrCorruptDirectory)
		return Entry{}, false
	}

	cdh, n, err := parseCDHeader(s.bb.B[s.pos:])
	if err != nil {
		s.err = fmt.Errorf("entry %d at offset 0x%x: %w", s.seen, s.eocd.CDOffset+uint64(s.pos), err)
		return Entry{}, false
	}
	s.pos += n
	s.seen++

	e := Entry{CDH: cdh}
	if cdh.Offset <= math.MaxInt64 {
		if lh, err := readLocalHeader(s.src, int64(cdh.Offset)); err == nil {
			e.LH = lh
		}
	}

	return e, true
}

// All returns the remaining entries as an iterator.
//
// Any error that stops the scan is yielded as the final element; reaching the end of the directory
// cleanly yields nothing. Don't mix All and Next as they share the same cursor.
func (s *Scanner) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for {
			e, ok := s.Next()
			if !ok {
				if s.err != nil {
					yield(Entry{}, s.err)
				}
				return
			}

			if !yield(e, nil) {
				return
			}
		}
	}
}

// Close releases the central directory buffer back to the pool. Safe to call more than once; Next
// returns false afterwards.
func (s *Scanner) Close() {
	if !s.closed {
		s.closed = true
		bytebufferpool.Put(s.bb)
		s.bb = nil
	}
}
