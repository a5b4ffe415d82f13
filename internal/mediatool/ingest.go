package mediatool

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/media"
)

// IngestResult is what Ingest discovers about an asset's original upload:
// its pixel dimensions, a duration estimate for video, and — for video
// only — a generated poster frame.
type IngestResult struct {
	Width         int
	Height        int
	DurationSec   float64 // 0 for images
	ThumbnailPath string  // empty for images
}

// Ingest runs spec.md §6's "probe dimensions" and "thumbnail" command shapes
// against asset's original upload, ahead of any billable operation: ffprobe
// reports width/height (and, for video, duration — the same duration_sec
// metadata build's durationHint reads back later to scale progress), and
// video assets get a single JPEG frame seeked to 5s written via
// media.Paths.Thumbnail for use as a poster image. This runs once at asset
// creation, outside the worker pool and outside the billable operation
// kinds, so it has no operation.Kind timeout entry of its own.
func (r *Runner) Ingest(ctx context.Context, asset *media.Asset) (*IngestResult, error) {
	input := r.paths.Original(asset.AssetID, asset.Extension)

	out, err := exec.CommandContext(ctx, r.probeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "csv=p=0",
		input,
	).Output()
	if err != nil {
		return nil, apperr.Wrap(apperr.PermanentFailure, "probe dimensions", err)
	}

	width, height, durationSec := parseProbeOutput(string(out))
	result := &IngestResult{Width: width, Height: height}

	if asset.Kind == media.KindVideo {
		result.DurationSec = durationSec
		thumbPath := r.paths.Thumbnail(asset.AssetID)
		thumbArgs := []string{"-y", "-ss", "5", "-i", input, "-frames:v", "1", thumbPath}
		if err := exec.CommandContext(ctx, r.videoBin, thumbArgs...).Run(); err != nil {
			return nil, apperr.Wrap(apperr.PermanentFailure, "generate thumbnail", err)
		}
		result.ThumbnailPath = thumbPath
	}

	return result, nil
}

// parseProbeOutput reads the two csv lines ffprobe's
// "stream=width,height:format=duration" entry selection prints: the
// stream's "width,height" line and the format's "duration" line. Either
// line may be absent (an image has no duration; a corrupt probe may omit
// dimensions), in which case the corresponding fields stay zero.
func parseProbeOutput(out string) (width, height int, durationSec float64) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > 0 {
		fields := strings.Split(lines[0], ",")
		if len(fields) == 2 {
			width, _ = strconv.Atoi(strings.TrimSpace(fields[0]))
			height, _ = strconv.Atoi(strings.TrimSpace(fields[1]))
		}
	}
	if len(lines) > 1 {
		durationSec, _ = strconv.ParseFloat(strings.TrimSpace(lines[1]), 64)
	}
	return
}
