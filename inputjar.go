// Package jarscan enumerates the entries of JAR/ZIP archives, including Zip64 archives larger than
// 4 GiB, with entries larger than 4 GiB, or with more than 65,535 entries.
//
// An InputJar memory-maps the archive and walks its central directory, yielding each central
// directory header paired with the local header it points at. Use the zip/scan package directly to
// scan archives exposed as an io.ReaderAt, and s3jar to scan archives in S3 without downloading
// them.
package jarscan

import (
	"bytes"
	"fmt"
	"iter"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/nguyengg/jarscan/zip/scan"
)

// InputJar scans one archive's central directory.
//
// An InputJar is not safe for use across multiple goroutines; independent InputJars share no state
// and may be used in parallel (one per goroutine).
type InputJar struct {
	name string
	f    *os.File
	data mmap.MMap
	sc   *scan.Scanner
}

// Open memory-maps the named archive read-only and locates its central directory.
//
// Any failure (missing file, permission, no or corrupt end of central directory record) leaves no
// open handle behind.
func Open(name string) (*InputJar, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %q error: %w", name, err)
	}

	// 22 bytes is the minimal EOCD; mmap of an empty file fails so check before mapping.
	if fi.Size() < 22 {
		_ = f.Close()
		return nil, fmt.Errorf("%q is %d bytes: %w", name, fi.Size(), scan.ErrTooSmall)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap %q error: %w", name, err)
	}

	sc, err := scan.NewScanner(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		_ = data.Unmap()
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return &InputJar{name: name, f: f, data: data, sc: sc}, nil
}

// Name returns the path the jar was opened with.
func (j *InputJar) Name() string {
	return j.name
}

// EOCD returns the archive's end of central directory record with Zip64 fields resolved; its
// CDCount is the total number of entries Next will yield.
func (j *InputJar) EOCD() scan.EOCDRecord {
	return j.sc.EOCD()
}

// Next returns the next entry of the central directory.
//
// The boolean is false at end of directory, after an error (see Err) and after Close. An entry
// whose local header cannot be decoded is still returned with Entry.LH set to nil.
func (j *InputJar) Next() (scan.Entry, bool) {
	return j.sc.Next()
}

// Err returns the error that stopped the scan, if any.
func (j *InputJar) Err() error {
	return j.sc.Err()
}

// Entries returns the remaining entries as an iterator; any error that stops the scan is yielded as
// the final element.
func (j *InputJar) Entries() iter.Seq2[scan.Entry, error] {
	return j.sc.All()
}

// Fd returns the descriptor of the underlying file, or -1 once the jar has been closed.
//
// Meant for liveness checks in tests, not for production control flow.
func (j *InputJar) Fd() int {
	if j.f == nil {
		return -1
	}

	return int(j.f.Fd())
}

// Close unmaps and closes the archive. Safe to call more than once, including mid-scan; Next
// returns false afterwards.
func (j *InputJar) Close() error {
	if j.f == nil {
		return nil
	}

	j.sc.Close()
	err := j.data.Unmap()
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	j.f, j.data = nil, nil

	return err
}
