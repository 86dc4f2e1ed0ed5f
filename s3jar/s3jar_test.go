package s3jar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
)

// testClient implements Client by slicing into its in-memory data.
//
// calls keeps track of GetObject input parameters for asserting.
type testClient struct {
	data []byte

	// mu guards write access to calls.
	mu    sync.Mutex
	calls []s3.GetObjectInput
}

func (c *testClient) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	c.calls = append(c.calls, *input)
	c.mu.Unlock()

	rangeBytes := aws.ToString(input.Range)
	values := strings.SplitN(strings.TrimPrefix(rangeBytes, "bytes="), "-", 2)
	if len(values) != 2 {
		return nil, fmt.Errorf("invalid range: %s", rangeBytes)
	}

	i, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid start byte in range `%s`: %w", rangeBytes, err)
	}
	j, err := strconv.ParseInt(values[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid end byte in range `%s`: %w", rangeBytes, err)
	}

	// S3 clamps the end of the range to the object's size.
	if j >= int64(len(c.data)) {
		j = int64(len(c.data)) - 1
	}

	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(c.data[i : j+1])),
	}, nil
}

func (c *testClient) HeadObject(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(c.data))),
	}, nil
}

func jarBytes(t *testing.T, entries []string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range entries {
		f, err := w.Create(name)
		assert.NoErrorf(t, err, "Create(%s) error = %v", name, err)

		_, err = f.Write([]byte(name))
		assert.NoErrorf(t, err, "Write(...) error = %v", err)
	}
	assert.NoError(t, w.Close())

	return buf.Bytes()
}

func TestScan(t *testing.T) {
	entries := []string{"META-INF/MANIFEST.MF", "com/example/Main.class", "res1"}
	tc := &testClient{data: jarBytes(t, entries)}

	sc, err := Scan(context.Background(), tc, "my-bucket", "my-key")
	assert.NoErrorf(t, err, "Scan(...) error = %v", err)
	defer sc.Close()

	assert.Equal(t, uint64(len(entries)), sc.EOCD().CDCount)

	names := make([]string, 0, len(entries))
	for e, err := range sc.All() {
		assert.NoErrorf(t, err, "All() error = %v", err)
		names = append(names, e.CDH.Name)
	}
	assert.Equal(t, entries, names)

	// every GetObject must have been a ranged request against the right key.
	assert.NotEmpty(t, tc.calls)
	for _, input := range tc.calls {
		assert.Equal(t, "my-bucket", aws.ToString(input.Bucket))
		assert.Equal(t, "my-key", aws.ToString(input.Key))
		assert.Truef(t, strings.HasPrefix(aws.ToString(input.Range), "bytes="), "GetObject should have been ranged; got %q", aws.ToString(input.Range))
	}
}

func TestScan_ModifyInputs(t *testing.T) {
	tc := &testClient{data: jarBytes(t, []string{"a"})}

	sc, err := Scan(context.Background(), tc, "my-bucket", "my-key", func(opts *Options) {
		opts.ModifyGetObjectInput = func(input *s3.GetObjectInput) *s3.GetObjectInput {
			input.ExpectedBucketOwner = aws.String("me")
			return input
		}
	})
	assert.NoErrorf(t, err, "Scan(...) error = %v", err)
	defer sc.Close()

	for _, input := range tc.calls {
		assert.Equal(t, "me", aws.ToString(input.ExpectedBucketOwner))
	}
}

func TestReaderAt_Clamps(t *testing.T) {
	tc := &testClient{data: []byte("0123456789")}
	r := &readerAt{
		ctx:    context.Background(),
		client: tc,
		bucket: "b",
		key:    "k",
		size:   int64(len(tc.data)),
		modifyGetObjectInput: func(input *s3.GetObjectInput) *s3.GetObjectInput {
			return input
		},
	}

	buf := make([]byte, 4)
	n, err := r.ReadAt(buf, 2)
	assert.NoErrorf(t, err, "ReadAt(buf, 2) error = %v", err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("2345"), buf)

	// reading past the end returns the remaining bytes with io.EOF.
	n, err = r.ReadAt(buf, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("89"), buf[:2])

	n, err = r.ReadAt(buf, 10)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, n)
}
