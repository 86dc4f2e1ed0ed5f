package scan

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	lfhSig       = 0x04034b50
	cdfhSig      = 0x02014b50
	eocdSig      = 0x06054b50
	eocd64Sig    = 0x06064b50
	locator64Sig = 0x07064b50

	lfhLen       = 30
	cdfhLen      = 46
	eocdLen      = 22
	eocd64Len    = 56
	locator64Len = 20

	// zip64ExtraID tags the Zip64 extended-information sub-record inside a header's extra field.
	zip64ExtraID = 0x0001

	// max16 and max32 are the sentinel values signalling "see the Zip64 record instead of this field".
	max16 = 0xffff
	max32 = 0xffffffff
)

// CDHeader is a central directory file header that extends zip.FileHeader with the fields that only
// exist in the central directory.
//
// The 32-bit CompressedSize, UncompressedSize and RawOffset fields hold the values exactly as stored
// on disk; CompressedSize64, UncompressedSize64 and Offset always hold the true values, resolved from
// the Zip64 extended-information field whenever the on-disk field is saturated.
//
// See https://en.wikipedia.org/wiki/ZIP_(file_format)#Central_directory_file_header_(CDFH).
type CDHeader struct {
	zip.FileHeader

	// DiskNumber is the disk number where the file starts.
	//
	// Since floppy disks aren't a thing anymore, this field is most likely unused.
	DiskNumber uint32

	// Offset is the offset of the local file header, relative to the start of the archive.
	Offset uint64

	// RawOffset is the 32-bit offset field as stored on disk, possibly the 0xffffffff sentinel.
	RawOffset uint32
}

// NoSizeInLocalHeader reports whether the entry was written with a data descriptor (general purpose
// flag bit 3), in which case the local header's size fields are unreliable and must not be
// cross-checked against this record.
func (h *CDHeader) NoSizeInLocalHeader() bool {
	return h.Flags&0x8 != 0
}

// LocalHeader is the local file header stored immediately before an entry's data.
//
// As with CDHeader, the 32-bit size fields hold the values as stored on disk while the 64-bit fields
// are always resolved.
type LocalHeader struct {
	zip.FileHeader
}

// parseCDHeader decodes the central directory file header at the start of b.
//
// Returns the header and the total number of bytes the record occupies (46 plus the variable-size
// name, extra field and comment) so the caller can advance to the next record. The returned header
// does not alias b.
func parseCDHeader(b []byte) (*CDHeader, int, error) {
	if len(b) < cdfhLen {
		return nil, 0, fmt.Errorf("need at least %d bytes for a central directory header, got %d: %w", cdfhLen, len(b), ErrMalformedCentralDirectory)
	}
	if sig := binary.LittleEndian.Uint32(b[:4]); sig != cdfhSig {
		return nil, 0, fmt.Errorf("mismatched signature, got 0x%x, expected 0x%x: %w", sig, uint32(cdfhSig), ErrMalformedCentralDirectory)
	}

	h := &CDHeader{
		FileHeader: zip.FileHeader{
			CreatorVersion:   binary.LittleEndian.Uint16(b[4:6]),
			ReaderVersion:    binary.LittleEndian.Uint16(b[6:8]),
			Flags:            binary.LittleEndian.Uint16(b[8:10]),
			Method:           binary.LittleEndian.Uint16(b[10:12]),
			ModifiedTime:     binary.LittleEndian.Uint16(b[12:14]),
			ModifiedDate:     binary.LittleEndian.Uint16(b[14:16]),
			CRC32:            binary.LittleEndian.Uint32(b[16:20]),
			CompressedSize:   binary.LittleEndian.Uint32(b[20:24]),
			UncompressedSize: binary.LittleEndian.Uint32(b[24:28]),
			ExternalAttrs:    binary.LittleEndian.Uint32(b[38:42]),
		},
		DiskNumber: uint32(binary.LittleEndian.Uint16(b[34:36])),
		RawOffset:  binary.LittleEndian.Uint32(b[42:46]),
	}
	h.CompressedSize64 = uint64(h.CompressedSize)
	h.UncompressedSize64 = uint64(h.UncompressedSize)
	h.Offset = uint64(h.RawOffset)
	h.Modified = msDosTimeToTime(h.ModifiedDate, h.ModifiedTime)

	n := int(binary.LittleEndian.Uint16(b[28:30]))
	m := int(binary.LittleEndian.Uint16(b[30:32]))
	k := int(binary.LittleEndian.Uint16(b[32:34]))
	size := cdfhLen + n + m + k
	if len(b) < size {
		return nil, 0, fmt.Errorf("header declares %d bytes of name/extra/comment but only %d remain: %w", n+m+k, len(b)-cdfhLen, ErrMalformedCentralDirectory)
	}

	// the header must not alias b; b may be a pooled buffer that outlives this record.
	h.Name = string(b[cdfhLen : cdfhLen+n])
	h.Extra = append([]byte(nil), b[cdfhLen+n:cdfhLen+n+m]...)
	h.Comment = string(b[cdfhLen+n+m : size])

	if err := h.resolveZip64(); err != nil {
		return nil, 0, err
	}

	return h, size, nil
}

func (h *CDHeader) resolveZip64() error {
	need := [4]bool{
		h.UncompressedSize == max32,
		h.CompressedSize == max32,
		h.RawOffset == max32,
		h.DiskNumber == max16,
	}
	if need == [4]bool{} {
		return nil
	}

	v, err := zip64Values(h.Extra, need)
	if err != nil {
		return fmt.Errorf("central directory header %q: %w", h.Name, err)
	}

	if need[0] {
		h.UncompressedSize64 = v[0]
	}
	if need[1] {
		h.CompressedSize64 = v[1]
	}
	if need[2] {
		h.Offset = v[2]
	}
	if need[3] {
		h.DiskNumber = uint32(v[3])
	}
	return nil
}

// readLocalHeader decodes the local file header at the given offset of src.
func readLocalHeader(src io.ReaderAt, offset int64) (*LocalHeader, error) {
	buf := make([]byte, lfhLen)
	if n, err := src.ReadAt(buf, offset); n < lfhLen {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read local header at offset 0x%x error: %w", offset, err)
	}
	if sig := binary.LittleEndian.Uint32(buf[:4]); sig != lfhSig {
		return nil, fmt.Errorf("mismatched local header signature at offset 0x%x, got 0x%x, expected 0x%x", offset, sig, uint32(lfhSig))
	}

	h := &LocalHeader{
		FileHeader: zip.FileHeader{
			ReaderVersion:    binary.LittleEndian.Uint16(buf[4:6]),
			Flags:            binary.LittleEndian.Uint16(buf[6:8]),
			Method:           binary.LittleEndian.Uint16(buf[8:10]),
			ModifiedTime:     binary.LittleEndian.Uint16(buf[10:12]),
			ModifiedDate:     binary.LittleEndian.Uint16(buf[12:14]),
			CRC32:            binary.LittleEndian.Uint32(buf[14:18]),
			CompressedSize:   binary.LittleEndian.Uint32(buf[18:22]),
			UncompressedSize: binary.LittleEndian.Uint32(buf[22:26]),
		},
	}
	h.CompressedSize64 = uint64(h.CompressedSize)
	h.UncompressedSize64 = uint64(h.UncompressedSize)
	h.Modified = msDosTimeToTime(h.ModifiedDate, h.ModifiedTime)

	n := int(binary.LittleEndian.Uint16(buf[26:28]))
	m := int(binary.LittleEndian.Uint16(buf[28:30]))
	nm := make([]byte, n+m)
	if readN, err := src.ReadAt(nm, offset+lfhLen); readN < n+m {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read local header name/extra at offset 0x%x error: %w", offset+lfhLen, err)
	}
	h.Name, h.Extra = string(nm[:n]), nm[n:]

	if err := h.resolveZip64(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *LocalHeader) resolveZip64() error {
	need := [4]bool{
		h.UncompressedSize == max32,
		h.CompressedSize == max32,
	}
	if need == [4]bool{} {
		return nil
	}

	v, err := zip64Values(h.Extra, need)
	if err != nil {
		return fmt.Errorf("local header %q: %w", h.Name, err)
	}

	if need[0] {
		h.UncompressedSize64 = v[0]
	}
	if need[1] {
		h.CompressedSize64 = v[1]
	}
	return nil
}

// zip64Values reads the requested 64-bit values from the Zip64 extended-information sub-record
// (tag 0x0001) embedded in extra.
//
// The sub-record stores only the fields whose 32-bit counterparts are saturated, in the fixed order
// {uncompressed size, compressed size, local header offset, disk number (4 bytes)}; need selects which
// of the four to consume, matching that order. A missing sub-record, or one too short for the
// requested fields, is ErrMalformedZip64 rather than a fallback to the 32-bit values.
func zip64Values(extra []byte, need [4]bool) (v [4]uint64, err error) {
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra[:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		extra = extra[4:]
		if size > len(extra) {
			break
		}
		if tag != zip64ExtraID {
			extra = extra[size:]
			continue
		}

		f := extra[:size]
		for i, width := range [4]int{8, 8, 8, 4} {
			if !need[i] {
				continue
			}
			if len(f) < width {
				return v, fmt.Errorf("zip64 field is %d bytes short: %w", width-len(f), ErrMalformedZip64)
			}
			if width == 8 {
				v[i] = binary.LittleEndian.Uint64(f[:8])
			} else {
				v[i] = uint64(binary.LittleEndian.Uint32(f[:4]))
			}
			f = f[width:]
		}
		return v, nil
	}

	return v, fmt.Errorf("sentinel value present but no zip64 field in extra: %w", ErrMalformedZip64)
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s.
// See: https://learn.microsoft.com/en-us/windows/win32/api/winbase/nf-winbase-dosdatetimetofiletime
//
// taken from https://go.dev/src/archive/zip/struct.go.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}
