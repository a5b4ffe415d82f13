// Package mediatool shells out to external media processing binaries
// (ffmpeg/ffprobe-shaped CLIs) to execute operations (spec.md §6's command
// shapes). It owns argument construction, stderr progress parsing, and
// per-kind wall-clock timeout enforcement (spec.md §5), and is cancellable
// via context.Context like every other blocking call in this codebase.
package mediatool

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/media"
	"github.com/kelpejol/reel/internal/operation"
)

// Runner executes one operation kind against one asset by invoking a
// configured external binary with the right argument list.
type Runner struct {
	videoBin string // ffmpeg-shaped binary for video operations
	imageBin string // convert-shaped (ImageMagick-style) binary for image operations
	probeBin string // ffprobe-shaped binary for the probe-dimensions command shape
	paths    media.Paths
	timeouts map[operation.Kind]time.Duration
}

func NewRunner(videoBin, imageBin, probeBin string, paths media.Paths, timeouts map[operation.Kind]time.Duration) *Runner {
	if timeouts == nil {
		timeouts = DefaultTimeouts()
	}
	return &Runner{videoBin: videoBin, imageBin: imageBin, probeBin: probeBin, paths: paths, timeouts: timeouts}
}

// DefaultTimeouts mirrors spec.md §5's per-kind wall clock caps: cheap
// pixel operations get a short cap, full re-encodes get longer.
func DefaultTimeouts() map[operation.Kind]time.Duration {
	return map[operation.Kind]time.Duration{
		operation.KindResize:       30 * time.Second,
		operation.KindCrop:         30 * time.Second,
		operation.KindExtractAudio: 2 * time.Minute,
		operation.KindConvert:      5 * time.Minute,
		operation.KindTrim:         5 * time.Minute,
		operation.KindWatermark:    5 * time.Minute,
		operation.KindGIF:         3 * time.Minute,
	}
}

// ProgressFunc is invoked with a 0-100 percent-complete estimate as the
// underlying tool reports progress on stderr. The Worker Pool wires this to
// queue.ProgressPublisher.Publish (published over the Redis progress
// channel, spec.md §4.3).
type ProgressFunc func(percent int)

// Result is what a completed Run produced.
type Result struct {
	OutputPath string
}

// Run executes the operation kind's external command against asset using
// params, honoring the kind's configured timeout and ctx cancellation, and
// reports progress as it becomes available from the tool's stderr.
func (r *Runner) Run(ctx context.Context, asset *media.Asset, kind operation.Kind, params operation.Params, onProgress ProgressFunc) (*Result, error) {
	timeout, ok := r.timeouts[kind]
	if !ok {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bin, args, outputPath, totalSec, err := r.build(asset, kind, params)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "attach stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.PermanentFailure, "start media tool", err)
	}

	parser := newProgressParser(totalSec)
	scanner := bufio.NewScanner(stderr)
	scanner.Split(bufio.ScanLines) // ffmpeg writes progress as \r-terminated lines on a single stderr stream normally, but tests and mocked binaries emit one line per update
	done := make(chan struct{})
	go func() {
		defer close(done)
		for scanner.Scan() {
			if pct, ok := parser.feed(scanner.Text()); ok && onProgress != nil {
				onProgress(pct)
			}
		}
	}()

	waitErr := cmd.Wait()
	<-done

	if ctx.Err() == context.DeadlineExceeded {
		return nil, apperr.New(apperr.TransientIO, fmt.Sprintf("%s exceeded %s timeout", kind, timeout))
	}
	if ctx.Err() == context.Canceled {
		return nil, apperr.New(apperr.PermanentFailure, fmt.Sprintf("%s cancelled", kind))
	}
	if waitErr != nil {
		return nil, apperr.Wrap(apperr.PermanentFailure, fmt.Sprintf("%s tool exited with error", kind), waitErr)
	}

	return &Result{OutputPath: outputPath}, nil
}

// progressParser extracts a 0-100 percent estimate from ffmpeg-style
// "time=00:00:12.34" stderr lines, given the clip's total duration.
type progressParser struct {
	totalSec float64
	re       *regexp.Regexp
}

func newProgressParser(totalSec float64) *progressParser {
	return &progressParser{
		totalSec: totalSec,
		re:       regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`),
	}
}

func (p *progressParser) feed(line string) (int, bool) {
	if p.totalSec <= 0 {
		return 0, false
	}
	m := p.re.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.ParseFloat(m[1], 64)
	mnt, _ := strconv.ParseFloat(m[2], 64)
	s, _ := strconv.ParseFloat(m[3], 64)
	elapsed := h*3600 + mnt*60 + s
	pct := int(elapsed / p.totalSec * 100)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
