package list

import (
	"context"
	"fmt"
	"iter"
	"os"
	"os/signal"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/nguyengg/jarscan"
	"github.com/nguyengg/jarscan/s3jar"
	"github.com/nguyengg/jarscan/zip/scan"
)

type Command struct {
	Long bool `short:"l" long:"long" description:"also show compression method, sizes, and local header offset of each entry"`
	Args struct {
		Files []string `positional-arg-name:"file" description:"the local .jar/.zip files or s3://bucket/key URIs to be listed" required:"yes"`
	} `positional-args:"yes"`

	client *s3.Client
}

func (c *Command) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	for _, file := range c.Args.Files {
		if len(c.Args.Files) > 1 {
			fmt.Printf("%s:\n", file)
		}

		if err := c.list(ctx, file); err != nil {
			return fmt.Errorf(`list "%s" error: %w`, file, err)
		}
	}

	return nil
}

func (c *Command) list(ctx context.Context, name string) error {
	if bucket, key, ok := parseS3URI(name); ok {
		client, err := c.s3Client(ctx)
		if err != nil {
			return err
		}

		sc, err := s3jar.Scan(ctx, client, bucket, key)
		if err != nil {
			return err
		}
		defer sc.Close()

		return c.print(sc.EOCD(), sc.All())
	}

	j, err := jarscan.Open(name)
	if err != nil {
		return err
	}
	defer j.Close()

	return c.print(j.EOCD(), j.Entries())
}

func (c *Command) print(eocd scan.EOCDRecord, entries iter.Seq2[scan.Entry, error]) error {
	for e, err := range entries {
		if err != nil {
			return err
		}

		if c.Long {
			fmt.Printf("%-7s %12s %12s 0x%011x  %s\n",
				methodName(e.CDH.Method),
				humanize.Comma(int64(e.CDH.CompressedSize64)),
				humanize.Comma(int64(e.CDH.UncompressedSize64)),
				e.CDH.Offset,
				e.CDH.Name)
		} else {
			fmt.Println(e.CDH.Name)
		}
	}

	fmt.Printf("%s entries, central directory of %s at offset 0x%x",
		humanize.Comma(int64(eocd.CDCount)),
		humanize.IBytes(eocd.CDSize),
		eocd.CDOffset)
	if eocd.Zip64 {
		fmt.Print(" (zip64)")
	}
	fmt.Println()

	return nil
}

// parseS3URI splits an "s3://bucket/key" URI; ok is false for anything else such as local paths.
func parseS3URI(name string) (bucket, key string, ok bool) {
	if rest, found := strings.CutPrefix(name, "s3://"); found {
		if bucket, key, ok = strings.Cut(rest, "/"); ok && bucket != "" && key != "" {
			return
		}
	}

	return "", "", false
}

func (c *Command) s3Client(ctx context.Context) (*s3.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	c.client = s3.NewFromConfig(cfg)
	return c.client, nil
}

func methodName(m uint16) string {
	switch m {
	case 0:
		return "store"
	case 8:
		return "deflate"
	default:
		return fmt.Sprintf("m%d", m)
	}
}
