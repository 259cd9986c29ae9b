//go:build windows

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/kikijiki/ntfs-reader"
)

type rootParameters struct {
	Drive          byte   `short:"d" long:"drive" description:"Drive letter of the NTFS volume to scan (e.g. C)" required:"true"`
	FilenameFilter string `short:"p" long:"pattern" description:"Filename filter"`
	DirectoriesOnly bool  `short:"D" long:"dirs-only" description:"Only list directories"`
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

	volume, reader, err := ntfs.OpenVolumeDevice(rootArguments.Drive)
	log.PanicIf(err)

	mft, err := ntfs.OpenMFT(reader, volume.Path)
	log.PanicIf(err)

	cache := ntfs.NewDenseCache(mft.MaxRecord())

	var count int64

	mft.IterateFiles(func(record *ntfs.Record) {
		if rootArguments.DirectoriesOnly && !record.IsDirectory() {
			return
		}

		info := mft.FileInfo(record, cache)
		if info == nil || info.Path == "" {
			return
		}

		if rootArguments.FilenameFilter != "" {
			isMatched, matchErr := filepath.Match(rootArguments.FilenameFilter, info.Name)
			log.PanicIf(matchErr)

			if !isMatched {
				return
			}
		}

		count++
		fmt.Printf("%15s %30s %s\n", humanize.Comma(int64(info.Size)), info.Modified, info.Path)
	})

	fmt.Fprintf(os.Stderr, "\n%s files listed\n", humanize.Comma(count))
}
