package jarscan

import (
	"errors"
	"fmt"

	"github.com/nguyengg/jarscan/zip/scan"
)

// ErrLocalHeaderUnavailable is returned by CheckEntry when the entry's local header could not be
// decoded, so no cross-checks could run.
var ErrLocalHeaderUnavailable = errors.New("local header unavailable")

// ErrInconsistentEntry is returned by CheckEntry when the local header disagrees with the central
// directory header.
var ErrInconsistentEntry = errors.New("local header disagrees with central directory")

// CheckEntry cross-checks an entry's local header against its central directory header.
//
// The names must match, and unless the entry was written with a data descriptor (in which case the
// local header's size fields are legitimately zero) the resolved compressed and uncompressed sizes
// must match too. Returns nil when all checks pass.
func CheckEntry(e scan.Entry) error {
	if e.CDH == nil {
		return errors.New("entry has no central directory header")
	}
	if e.LH == nil {
		return fmt.Errorf("%q: %w", e.CDH.Name, ErrLocalHeaderUnavailable)
	}

	if e.CDH.Name == "" {
		return fmt.Errorf("entry at offset 0x%x has an empty name: %w", e.CDH.Offset, ErrInconsistentEntry)
	}
	if e.LH.Name != e.CDH.Name {
		return fmt.Errorf("%q: local header names it %q: %w", e.CDH.Name, e.LH.Name, ErrInconsistentEntry)
	}

	if e.CDH.NoSizeInLocalHeader() {
		return nil
	}

	if e.LH.CompressedSize64 != e.CDH.CompressedSize64 {
		return fmt.Errorf("%q: compressed size %d in local header, %d in central directory: %w", e.CDH.Name, e.LH.CompressedSize64, e.CDH.CompressedSize64, ErrInconsistentEntry)
	}
	if e.LH.UncompressedSize64 != e.CDH.UncompressedSize64 {
		return fmt.Errorf("%q: uncompressed size %d in local header, %d in central directory: %w", e.CDH.Name, e.LH.UncompressedSize64, e.CDH.UncompressedSize64, ErrInconsistentEntry)
	}

	return nil
}
