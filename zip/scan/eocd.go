package scan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// EOCDRecord models the end of central directory record of a ZIP file with Zip64 fields already
// resolved: a single record type always carries 64-bit values, whether they came from the classic
// 22-byte record or from the Zip64 end of central directory record.
//
// See https://en.wikipedia.org/wiki/ZIP_(file_format)#End_of_central_directory_record_(EOCD).
type EOCDRecord struct {
	// DiskNumber is the number of this disk.
	DiskNumber uint32
	// CDDiskOffset is the disk where the central directory starts.
	CDDiskOffset uint32
	// CDCountOnDisk is the number of central directory records on this disk.
	CDCountOnDisk uint64
	// CDCount is the total number of central directory records.
	CDCount uint64
	// CDSize is the size of the central directory in bytes.
	CDSize uint64
	// CDOffset is the offset of the start of the central directory, relative to start of archive.
	CDOffset uint64
	// Comment is the comment section of the EOCD.
	Comment string
	// Offset is the byte offset of the EOCD record itself within the archive.
	Offset int64
	// Zip64 reports whether any field above was completed from a Zip64 EOCD record.
	Zip64 bool
}

// FindEOCD scans backwards from the end of src for the end of central directory record.
//
// The scan is bounded by the maximum possible record size (22 bytes plus a 0xffff-byte comment). A
// candidate signature counts only if its declared comment length reaches the end of the file exactly,
// so a decoy signature inside the comment itself is skipped. If any of the record's count/size/offset
// fields carry a Zip64 sentinel value, the Zip64 locator expected in the 20 bytes immediately
// preceding the record is followed to the Zip64 EOCD, and exactly the sentineled fields are replaced
// with the 64-bit values found there.
func FindEOCD(src io.ReaderAt, size int64) (r EOCDRecord, err error) {
	if size < eocdLen {
		return r, fmt.Errorf("file is %d bytes, less than the minimal end of central directory record: %w", size, ErrTooSmall)
	}

	window := min(size, eocdLen+max16)
	buf := make([]byte, window)
	if n, err := src.ReadAt(buf, size-window); n < int(window) && err != nil && !errors.Is(err, io.EOF) {
		return r, fmt.Errorf("read last %d bytes error: %w", window, err)
	}

	i := findEOCDInBuffer(buf)
	if i < 0 {
		return r, ErrNoEOCDFound
	}

	r = EOCDRecord{
		DiskNumber:    uint32(binary.LittleEndian.Uint16(buf[i+4 : i+6])),
		CDDiskOffset:  uint32(binary.LittleEndian.Uint16(buf[i+6 : i+8])),
		CDCountOnDisk: uint64(binary.LittleEndian.Uint16(buf[i+8 : i+10])),
		CDCount:       uint64(binary.LittleEndian.Uint16(buf[i+10 : i+12])),
		CDSize:        uint64(binary.LittleEndian.Uint32(buf[i+12 : i+16])),
		CDOffset:      uint64(binary.LittleEndian.Uint32(buf[i+16 : i+20])),
		Comment:       string(buf[i+eocdLen:]),
		Offset:        size - window + int64(i),
	}

	if r.CDCountOnDisk != max16 && r.CDCount != max16 && r.CDSize != max32 && r.CDOffset != max32 {
		return r, nil
	}

	return resolveZip64EOCD(src, size, r)
}

// findEOCDInBuffer scans buf backwards for the EOCD signature, buf being the tail of the archive.
//
// Returns the index of the signature within buf, or -1. Each candidate is validated by requiring its
// declared comment length to account for exactly the remaining bytes of buf; the record's start
// position is ambiguous without anchoring from the end like this because the comment length is only
// known once the signature is found.
func findEOCDInBuffer(buf []byte) int {
	for i := len(buf) - eocdLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:i+4]) != eocdSig {
			continue
		}
		if n := int(binary.LittleEndian.Uint16(buf[i+20 : i+22])); i+eocdLen+n == len(buf) {
			return i
		}
	}

	return -1
}

// resolveZip64EOCD follows the Zip64 locator preceding the EOCD at r.Offset and replaces r's
// sentineled fields with the 64-bit values from the Zip64 EOCD record.
func resolveZip64EOCD(src io.ReaderAt, size int64, r EOCDRecord) (EOCDRecord, error) {
	locOffset := r.Offset - locator64Len
	if locOffset < 0 {
		return r, fmt.Errorf("EOCD at offset 0x%x carries zip64 sentinel values but has no room for a zip64 locator: %w", r.Offset, ErrCorruptDirectory)
	}

	loc := make([]byte, locator64Len)
	if n, err := src.ReadAt(loc, locOffset); n < locator64Len {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return r, fmt.Errorf("read zip64 locator at offset 0x%x error: %w", locOffset, err)
	}
	if sig := binary.LittleEndian.Uint32(loc[:4]); sig != locator64Sig {
		return r, fmt.Errorf("expected zip64 locator at offset 0x%x, got signature 0x%x: %w", locOffset, sig, ErrCorruptDirectory)
	}

	eocd64Offset := binary.LittleEndian.Uint64(loc[8:16])
	if eocd64Offset > math.MaxInt64 || int64(eocd64Offset)+eocd64Len > locOffset {
		return r, fmt.Errorf("zip64 EOCD offset 0x%x does not precede its locator at offset 0x%x: %w", eocd64Offset, locOffset, ErrCorruptDirectory)
	}

	b := make([]byte, eocd64Len)
	if n, err := src.ReadAt(b, int64(eocd64Offset)); n < eocd64Len {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return r, fmt.Errorf("read zip64 EOCD at offset 0x%x error: %w", eocd64Offset, err)
	}
	if sig := binary.LittleEndian.Uint32(b[:4]); sig != eocd64Sig {
		return r, fmt.Errorf("mismatched zip64 EOCD signature at offset 0x%x, got 0x%x, expected 0x%x: %w", eocd64Offset, sig, uint32(eocd64Sig), ErrCorruptDirectory)
	}

	if r.CDCountOnDisk == max16 {
		r.CDCountOnDisk = binary.LittleEndian.Uint64(b[24:32])
	}
	if r.CDCount == max16 {
		r.CDCount = binary.LittleEndian.Uint64(b[32:40])
	}
	if r.CDSize == max32 {
		r.CDSize = binary.LittleEndian.Uint64(b[40:48])
	}
	if r.CDOffset == max32 {
		r.CDOffset = binary.LittleEndian.Uint64(b[48:56])
	}
	r.Zip64 = true

	return r, nil
}
