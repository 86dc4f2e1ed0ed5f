package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/jarscan/internal/list"
	"github.com/nguyengg/jarscan/internal/verify"
)

var opts struct {
	Profile string         `short:"p" long:"profile" description:"override AWS_PROFILE if given" default-mask:"-"`
	List    list.Command   `command:"list" alias:"ls" description:"list the entries of JAR/ZIP files, local or in S3"`
	Verify  verify.Command `command:"verify" description:"cross-check every entry's local header against the central directory"`
}

func main() {
	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(command flags.Commander, args []string) error {
		if opts.Profile != "" {
			if err := os.Setenv("AWS_PROFILE", opts.Profile); err != nil {
				return fmt.Errorf("set AWS_PROFILE error: %w", err)
			}
		}

		return command.Execute(args)
	}

	if _, err := p.Parse(); err != nil && !flags.WroteHelp(err) {
		os.Exit(1)
	}
}
