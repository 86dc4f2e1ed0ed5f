package jarscan

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/nguyengg/jarscan/zip/scan"
	"github.com/stretchr/testify/assert"
)

// writeJar writes a jar with the given entries to a file under t.TempDir.
func writeJar(t *testing.T, entries map[string]int) string {
	name := filepath.Join(t.TempDir(), "test.jar")
	f, err := os.Create(name)
	assert.NoErrorf(t, err, "Create(%s) error = %v", name, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for entry, size := range entries {
		e, err := w.Create(entry)
		assert.NoErrorf(t, err, "Create(%s) error = %v", entry, err)

		_, err = e.Write(bytes.Repeat([]byte{'j'}, size))
		assert.NoErrorf(t, err, "Write(...) error = %v", err)
	}
	assert.NoError(t, w.Close())

	return name
}

func TestOpenClose(t *testing.T) {
	name := writeJar(t, map[string]int{"res1": 123})

	j, err := Open(name)
	assert.NoErrorf(t, err, "Open(%s) error = %v", name, err)
	assert.Equal(t, name, j.Name())
	assert.GreaterOrEqual(t, j.Fd(), 0)

	assert.NoError(t, j.Close())
	assert.Equal(t, -1, j.Fd())

	_, ok := j.Next()
	assert.False(t, ok)
	assert.NoError(t, j.Err())

	// closing again is a no-op.
	assert.NoError(t, j.Close())
}

func TestBasic(t *testing.T) {
	name := writeJar(t, map[string]int{
		"META-INF/MANIFEST.MF": 30,
		"res1":                 123,
		"res2":                 456,
	})

	j, err := Open(name)
	assert.NoErrorf(t, err, "Open(%s) error = %v", name, err)
	defer j.Close()

	sizes := make(map[string]uint64)
	for e, err := range j.Entries() {
		assert.NoErrorf(t, err, "Entries() error = %v", err)
		assert.NoErrorf(t, CheckEntry(e), "CheckEntry(%s) error = %v", e.CDH.Name, CheckEntry(e))
		sizes[e.CDH.Name] = e.CDH.UncompressedSize64
	}

	assert.Equal(t, map[string]uint64{
		"META-INF/MANIFEST.MF": 30,
		"res1":                 123,
		"res2":                 456,
	}, sizes)
	assert.Equal(t, uint64(3), j.EOCD().CDCount)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "no-such-file.jar"))
	assert.ErrorIsf(t, err, os.ErrNotExist, "Open(...) error = %v", err)

	name := filepath.Join(dir, "tiny.jar")
	assert.NoError(t, os.WriteFile(name, []byte("PK"), 0644))
	_, err = Open(name)
	assert.ErrorIsf(t, err, scan.ErrTooSmall, "Open(...) error = %v", err)

	name = filepath.Join(dir, "not-a-jar.jar")
	assert.NoError(t, os.WriteFile(name, bytes.Repeat([]byte{'j'}, 1024), 0644))
	_, err = Open(name)
	assert.ErrorIsf(t, err, scan.ErrNoEOCDFound, "Open(...) error = %v", err)
}

func TestLotsOfEntries(t *testing.T) {
	// more entries than the classic EOCD's 16-bit count can hold.
	const count = 0x10000 + 1

	name := filepath.Join(t.TempDir(), "lots.jar")
	f, err := os.Create(name)
	assert.NoErrorf(t, err, "Create(%s) error = %v", name, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for i := range count {
		_, err = w.CreateHeader(&zip.FileHeader{
			Name:   fmt.Sprintf("dir%03d/file%03d", i>>8, i&0xff),
			Method: zip.Store,
		})
		assert.NoErrorf(t, err, "CreateHeader(...) error = %v", err)
	}
	assert.NoError(t, w.Close())

	j, err := Open(name)
	assert.NoErrorf(t, err, "Open(%s) error = %v", name, err)
	defer j.Close()

	eocd := j.EOCD()
	assert.True(t, eocd.Zip64)
	assert.Equal(t, uint64(count), eocd.CDCount)

	seen := 0
	for e, err := range j.Entries() {
		assert.NoErrorf(t, err, "Entries() error = %v", err)
		assert.NoErrorf(t, CheckEntry(e), "CheckEntry(%s) error = %v", e.CDH.Name, CheckEntry(e))
		seen++
	}
	assert.Equal(t, count, seen)
}

func TestHugeEntry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 4 GiB archive in short mode")
	}

	// an uncompressed entry just past the 32-bit limit forces zip64 sizes on the first entry, a
	// zip64 local header offset on the second, and a zip64 EOCD.
	const huge = 0x100000001

	name := filepath.Join(t.TempDir(), "huge.jar")
	f, err := os.Create(name)
	assert.NoErrorf(t, err, "Create(%s) error = %v", name, err)
	defer f.Close()

	w := zip.NewWriter(f)
	e, err := w.CreateHeader(&zip.FileHeader{Name: "huge", Method: zip.Store})
	assert.NoErrorf(t, err, "CreateHeader(huge) error = %v", err)
	_, err = io.CopyN(e, zeros{}, huge)
	assert.NoErrorf(t, err, "CopyN(...) error = %v", err)

	e, err = w.CreateHeader(&zip.FileHeader{Name: "after", Method: zip.Store})
	assert.NoErrorf(t, err, "CreateHeader(after) error = %v", err)
	_, err = e.Write([]byte("after the huge one"))
	assert.NoErrorf(t, err, "Write(...) error = %v", err)

	assert.NoError(t, w.Close())

	j, err := Open(name)
	assert.NoErrorf(t, err, "Open(%s) error = %v", name, err)
	defer j.Close()

	assert.True(t, j.EOCD().Zip64)

	byName := make(map[string]scan.Entry)
	for e, err := range j.Entries() {
		assert.NoErrorf(t, err, "Entries() error = %v", err)
		assert.NoErrorf(t, CheckEntry(e), "CheckEntry(%s) error = %v", e.CDH.Name, CheckEntry(e))
		byName[e.CDH.Name] = e
	}

	assert.Equal(t, uint64(huge), byName["huge"].CDH.UncompressedSize64)
	assert.Greater(t, byName["after"].CDH.Offset, uint64(huge))
	if assert.NotNil(t, byName["after"].LH) {
		assert.Equal(t, "after", byName["after"].LH.Name)
	}
}

// zeros reads as an endless stream of zero bytes.
type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
