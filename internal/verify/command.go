package verify

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/jarscan"
	"github.com/nguyengg/jarscan/internal"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Command struct {
	Parallel int `short:"P" long:"parallel" description:"number of files to verify concurrently; defaults to the number of CPUs" default-mask:"-"`
	Args     struct {
		Files []flags.Filename `positional-arg-name:"file" description:"the local .jar/.zip files to be verified" required:"yes"`
	} `positional-args:"yes"`
}

type result struct {
	entries      uint64
	inconsistent uint64
}

func (c *Command) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	n := len(c.Args.Files)
	g, ctx := errgroup.WithContext(ctx)
	if c.Parallel > 0 {
		g.SetLimit(c.Parallel)
	} else {
		g.SetLimit(runtime.NumCPU())
	}

	// a progress bar per file would garble the terminal so only show one for a lone file.
	showBar := n == 1

	results := make([]result, n)
	for i, file := range c.Args.Files {
		g.Go(func() error {
			ctx := internal.WithPrefixLogger(ctx, internal.Prefix(i+1, n, file))

			r, err := c.verify(ctx, string(file), showBar)
			results[i] = r
			if err != nil {
				return fmt.Errorf(`verify "%s" error: %w`, file, err)
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	bad := 0
	for i, r := range results {
		if r.inconsistent != 0 {
			bad++
			log.Printf(`"%s": %s of %s entries are inconsistent`, c.Args.Files[i], humanize.Comma(int64(r.inconsistent)), humanize.Comma(int64(r.entries)))
		}
	}
	if bad != 0 {
		return fmt.Errorf("%d of %d files have inconsistent entries", bad, n)
	}

	log.Printf("all %d files are consistent", n)
	return nil
}

func (c *Command) verify(ctx context.Context, name string, showBar bool) (r result, err error) {
	logger := internal.MustLogger(ctx)

	j, err := jarscan.Open(name)
	if err != nil {
		return r, err
	}
	defer j.Close()

	eocd := j.EOCD()

	var bar *progressbar.ProgressBar
	if showBar && eocd.CDCount <= math.MaxInt64 {
		bar = progressbar.Default(int64(eocd.CDCount), "verifying")
		defer func() {
			_ = bar.Finish()
		}()
	}

	sometimes := rate.Sometimes{Interval: 5 * time.Second}
	for e, err := range j.Entries() {
		if err != nil {
			return r, err
		}

		r.entries++
		if err = jarscan.CheckEntry(e); err != nil {
			r.inconsistent++
			logger.Printf("%v", err)
		}

		if bar != nil {
			_ = bar.Add(1)
		}

		select {
		case <-ctx.Done():
			return r, ctx.Err()
		default:
			sometimes.Do(func() {
				logger.Printf("checked %s of %s entries", humanize.Comma(int64(r.entries)), humanize.Comma(int64(eocd.CDCount)))
			})
		}
	}

	return r, nil
}
