//go:build windows

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/kikijiki/ntfs-reader"
)

type rootParameters struct {
	Drive      byte   `short:"d" long:"drive" description:"Drive letter of the NTFS volume to watch (e.g. C)" required:"true"`
	FromStart  bool   `short:"s" long:"from-start" description:"Start reading from the oldest retained USN record instead of the current position"`
	ReasonMask uint32 `short:"r" long:"reason-mask" description:"Bitmask of USN reasons to report" default:"4294967295"`
	PollDelay  int    `short:"i" long:"interval" description:"Milliseconds to sleep between empty reads" default:"1000"`
}

var (
	rootArguments = new(rootParameters)
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	opts := ntfs.DefaultOptions()
	opts.ReasonMask = rootArguments.ReasonMask
	if rootArguments.FromStart {
		opts.NextUSN = ntfs.NextUSNFirst
	}

	volumePath := fmt.Sprintf(`\\.\%c:`, rootArguments.Drive)

	journal, err := ntfs.OpenJournal(volumePath, opts)
	log.PanicIf(err)

	defer journal.Close()

	delay := time.Duration(rootArguments.PollDelay) * time.Millisecond

	for {
		records, readErr := journal.Read()
		log.PanicIf(readErr)

		for _, record := range records {
			line := fmt.Sprintf(
				"%020d %s %s",
				record.USN,
				record.Timestamp.Format(time.RFC3339),
				record.Path,
			)

			if oldPath, ok := journal.MatchRename(record); ok {
				line += fmt.Sprintf(" (renamed from %s)", oldPath)
			}

			fmt.Printf("%s [%s]\n", line, ntfs.DumpReason(record.Reason))
		}

		if len(records) == 0 {
			time.Sleep(delay)
		}
	}
}
