// Package s3jar scans the central directory of JAR/ZIP archives stored in S3 using ranged
// GetObject, so only the end of central directory records, the central directory itself, and the
// local header of each entry are ever downloaded.
package s3jar

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nguyengg/jarscan/zip/scan"
)

// Client abstracts the APIs that are needed to scan an archive in S3.
type Client interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Options customises Scan.
type Options struct {
	// ModifyGetObjectInput can be used to modify the GetObject input parameters such as adding
	// ExpectedBucketOwner.
	//
	// Its return value will be used to make the GetObject call.
	ModifyGetObjectInput func(*s3.GetObjectInput) *s3.GetObjectInput

	// ModifyHeadObjectInput can be used to modify the HeadObject input parameters such as adding
	// ExpectedBucketOwner.
	//
	// Its return value will be used to make the HeadObject call that determines the object's size.
	ModifyHeadObjectInput func(*s3.HeadObjectInput) *s3.HeadObjectInput
}

// Scan locates the central directory of the S3 object at the given bucket and key.
//
// HeadObject determines the object's size; every subsequent read is a ranged GetObject. ctx is
// retained and used for those reads, so it must remain valid until the returned Scanner is closed.
func Scan(ctx context.Context, client Client, bucket, key string, optFns ...func(*Options)) (*scan.Scanner, error) {
	opts := &Options{
		ModifyGetObjectInput: func(input *s3.GetObjectInput) *s3.GetObjectInput {
			return input
		},
		ModifyHeadObjectInput: func(input *s3.HeadObjectInput) *s3.HeadObjectInput {
			return input
		},
	}
	for _, fn := range optFns {
		fn(opts)
	}

	headObjectOutput, err := client.HeadObject(ctx, opts.ModifyHeadObjectInput(&s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}))
	if err != nil {
		return nil, fmt.Errorf("determine file size error: %w", err)
	}

	size := aws.ToInt64(headObjectOutput.ContentLength)
	r := &readerAt{
		ctx:                  ctx,
		client:               client,
		bucket:               bucket,
		key:                  key,
		size:                 size,
		modifyGetObjectInput: opts.ModifyGetObjectInput,
	}

	return scan.NewScanner(r, size)
}

// readerAt uses ranged GetObject to implement io.ReaderAt.
type readerAt struct {
	ctx                  context.Context
	client               Client
	bucket, key          string
	size                 int64
	modifyGetObjectInput func(*s3.GetObjectInput) *s3.GetObjectInput
}

func (r *readerAt) ReadAt(p []byte, off int64) (n int, err error) {
	m := int64(len(p))
	if m == 0 {
		return 0, nil
	}
	if off >= r.size {
		return 0, io.EOF
	}

	// S3 clamps the range itself but the io.ReaderAt contract wants io.EOF alongside a short read.
	short := false
	if off+m > r.size {
		m = r.size - off
		p = p[:m]
		short = true
	}

	getObjectOutput, err := r.client.GetObject(r.ctx, r.modifyGetObjectInput(&s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+(m-1))),
	}))
	if err != nil {
		return 0, err
	}

	n, err = io.ReadFull(getObjectOutput.Body, p)
	_ = getObjectOutput.Body.Close()
	if errors.Is(err, io.ErrUnexpectedEOF) || (err == nil && short) {
		err = io.EOF
	}
	return
}
