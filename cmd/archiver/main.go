// Command archiver packs and unpacks multi-file archives using one of
// four compression algorithms: static Huffman, adaptive (FGK) Huffman,
// LZ77, or LZ78.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"cloudeng.io/cmdutil"
	"cloudeng.io/cmdutil/subcmd"
	"cloudeng.io/errors"
	"github.com/schollz/progressbar/v2"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/avbdr/archiver/archive"
	"github.com/avbdr/archiver/progress"
)

type commonFlags struct {
	ProgressBar bool `subcmd:"progress,true,display a progress bar"`
	Verbose     bool `subcmd:"verbose,false,verbose debug/trace information"`
}

type createFlags struct {
	commonFlags
	Algorithm string `subcmd:"alg,lz77,'compression algorithm: static-huffman, adaptive-huffman, lz77, lz78'"`
}

type extractFlags struct {
	commonFlags
	OutputDir string `subcmd:"out,.,directory to extract into"`
}

var cmdSet *subcmd.CommandSet

func init() {
	createCmd := subcmd.NewCommand("create",
		subcmd.MustRegisterFlagStruct(&createFlags{}, nil, nil),
		create, subcmd.AtLeastNArguments(2))
	createCmd.Document(`create an archive: archiver create -alg=lz77 out.arc file1 file2...`)

	extractCmd := subcmd.NewCommand("extract",
		subcmd.MustRegisterFlagStruct(&extractFlags{}, nil, nil),
		extract, subcmd.ExactlyNumArguments(1))
	extractCmd.Document(`extract an archive: archiver extract -out=dir out.arc`)

	cmdSet = subcmd.NewCommandSet(createCmd, extractCmd)
	cmdSet.Document(`create and extract multi-algorithm archives.`)
}

func main() {
	cmdSet.MustDispatch(context.Background())
}

func parseAlgorithm(name string) (archive.Algorithm, error) {
	switch strings.ToLower(name) {
	case "static-huffman", "statichuffman", "static":
		return archive.StaticHuffman, nil
	case "adaptive-huffman", "adaptivehuffman", "adaptive":
		return archive.AdaptiveHuffman, nil
	case "lz77":
		return archive.LZ77, nil
	case "lz78":
		return archive.LZ78, nil
	default:
		return 0, fmt.Errorf("unknown algorithm %q (want static-huffman, adaptive-huffman, lz77, or lz78)", name)
	}
}

// runProgressBar polls counter against total until done is closed,
// mirroring the teacher's channel-driven progress goroutine with polling
// in place of a channel, since progress.Counter has no push notification.
func runProgressBar(wr io.Writer, counter *progress.Counter, total uint64, done <-chan struct{}) {
	bar := progressbar.NewOptions64(int64(total),
		progressbar.OptionSetBytes64(int64(total)),
		progressbar.OptionSetWriter(wr),
		progressbar.OptionSetPredictTime(true))
	bar.RenderBlank()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var last uint64
	for {
		select {
		case <-ticker.C:
			cur := counter.Load()
			if cur > last {
				bar.Add64(int64(cur - last))
				last = cur
			}
		case <-done:
			cur := counter.Load()
			if cur > last {
				bar.Add64(int64(cur - last))
			}
			fmt.Fprintln(wr)
			return
		}
	}
}

func create(ctx context.Context, values interface{}, args []string) error {
	_, cancel := context.WithCancel(ctx)
	defer cancel()
	cmdutil.HandleSignals(cancel, os.Interrupt)

	cl := values.(*createFlags)
	alg, err := parseAlgorithm(cl.Algorithm)
	if err != nil {
		return err
	}

	archivePath := args[0]
	inputPaths := args[1:]

	sources := make([]archive.Source, len(inputPaths))
	var total uint64
	for i, p := range inputPaths {
		src := archive.NewFileSource(p)
		size, err := src.Size()
		if err != nil {
			return err
		}
		sources[i] = src
		total += size
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", archivePath, err)
	}

	counter := &progress.Counter{}
	isTTY := terminal.IsTerminal(int(os.Stdout.Fd()))
	barWr := os.Stdout
	if !isTTY {
		barWr = os.Stderr
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	if cl.ProgressBar {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runProgressBar(barWr, counter, total, done)
		}()
	}

	if cl.Verbose {
		log.Printf("creating %s with %s from %d file(s), %d bytes total", archivePath, alg, len(sources), total)
	}

	stats, err := archive.Create(out, sources, alg, counter)
	close(done)
	wg.Wait()

	errs := &errors.M{}
	errs.Append(err)
	errs.Append(out.Close())
	if errs.Err() != nil {
		return errs.Err()
	}

	for _, s := range stats {
		if cl.Verbose {
			log.Printf("%s: %d -> %d bytes in %s", s.Name, s.OriginalSize, s.CompressedSize, s.Elapsed)
		}
	}
	return nil
}

func extract(ctx context.Context, values interface{}, args []string) error {
	_, cancel := context.WithCancel(ctx)
	defer cancel()
	cmdutil.HandleSignals(cancel, os.Interrupt)

	cl := values.(*extractFlags)
	archivePath := args[0]

	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer in.Close()

	var total uint64
	if _, total, err = archive.PeekMetadata(in); err != nil {
		return fmt.Errorf("read %s: %w", archivePath, err)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", archivePath, err)
	}

	counter := &progress.Counter{}
	isTTY := terminal.IsTerminal(int(os.Stdout.Fd()))
	barWr := os.Stdout
	if !isTTY {
		barWr = os.Stderr
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	if cl.ProgressBar {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runProgressBar(barWr, counter, total, done)
		}()
	}

	if cl.Verbose {
		log.Printf("extracting %s into %s, %d bytes total", archivePath, cl.OutputDir, total)
	}

	stats, err := archive.Extract(in, cl.OutputDir, counter)
	close(done)
	wg.Wait()
	if err != nil {
		return err
	}

	for _, s := range stats {
		if cl.Verbose {
			log.Printf("%s: %d bytes in %s", s.Name, s.OriginalSize, s.Elapsed)
		}
	}
	return nil
}
