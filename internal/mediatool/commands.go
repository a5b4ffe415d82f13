package mediatool

import (
	"fmt"
	"strings"

	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/media"
	"github.com/kelpejol/reel/internal/operation"
)

// videoCodecPair names the video and audio encoders ffmpeg should target
// for a given output container, since stream-copying into an incompatible
// container produces an unplayable file.
type videoCodecPair struct {
	video string
	audio string
}

var videoConvertCodecs = map[string]videoCodecPair{
	"mp4":  {video: "libx264", audio: "aac"},
	"mov":  {video: "libx264", audio: "aac"},
	"mkv":  {video: "libx264", audio: "aac"},
	"avi":  {video: "mpeg4", audio: "libmp3lame"},
	"webm": {video: "libvpx-vp9", audio: "libopus"},
}

// build returns the binary, its argument list, the expected output path,
// and a total-duration estimate (seconds, 0 if unknown) used to scale
// progress percentages, for one operation against asset. Argument shapes
// follow spec.md §6's command table.
func (r *Runner) build(asset *media.Asset, kind operation.Kind, params operation.Params) (bin string, args []string, outputPath string, totalSec float64, err error) {
	input := r.paths.Original(asset.AssetID, asset.Extension)

	switch kind {
	case operation.KindResize:
		p := params.(operation.ResizeParams)
		outputPath = r.paths.Resized(asset.AssetID, p.Width, p.Height, asset.Extension)
		if asset.Kind == media.KindVideo {
			args = []string{
				"-y", "-i", input,
				"-vf", fmt.Sprintf("scale=%d:%d", p.Width, p.Height),
				"-c:a", "copy", outputPath,
			}
			return r.videoBin, args, outputPath, durationHint(asset), nil
		}
		return r.imageBin, []string{input, "-resize", fmt.Sprintf("%dx%d!", p.Width, p.Height), outputPath}, outputPath, 0, nil

	case operation.KindCrop:
		p := params.(operation.CropParams)
		outputPath = r.paths.Resized(asset.AssetID, p.Width, p.Height, asset.Extension)
		geometry := fmt.Sprintf("%dx%d+%d+%d", p.Width, p.Height, p.X, p.Y)
		return r.imageBin, []string{input, "-crop", geometry, outputPath}, outputPath, 0, nil

	case operation.KindConvert:
		p := params.(operation.ConvertParams)
		outputPath = r.paths.Converted(asset.AssetID, p.TargetFormat)
		if asset.Kind == media.KindImage {
			return r.imageBin, []string{input, outputPath}, outputPath, 0, nil
		}
		codecs, ok := videoConvertCodecs[p.TargetFormat]
		if !ok {
			return "", nil, "", 0, apperr.Validationf("no codec mapping for target format %q", p.TargetFormat)
		}
		args = []string{
			"-y", "-i", input,
			"-c:v", codecs.video, "-c:a", codecs.audio,
			outputPath,
		}
		return r.videoBin, args, outputPath, durationHint(asset), nil

	case operation.KindExtractAudio:
		p := params.(operation.ExtractAudioParams)
		outputPath = r.paths.Audio(asset.AssetID)
		return r.videoBin, []string{"-y", "-i", input, "-vn", "-acodec", p.Format, outputPath}, outputPath, durationHint(asset), nil

	case operation.KindTrim:
		p := params.(operation.TrimParams)
		outputPath = r.paths.Trimmed(asset.AssetID, p.StartSec, p.EndSec)
		args = []string{
			"-y", "-ss", fmt.Sprintf("%g", p.StartSec),
			"-i", input,
			"-t", fmt.Sprintf("%g", p.EndSec-p.StartSec),
			"-c", "copy", outputPath,
		}
		return r.videoBin, args, outputPath, p.EndSec - p.StartSec, nil

	case operation.KindWatermark:
		p := params.(operation.WatermarkParams)
		outputPath = r.paths.Watermarked(asset.AssetID, asset.Extension)
		filter := fmt.Sprintf(
			"drawtext=text='%s':x=%d:y=%d:fontsize=%d:fontcolor=%s@%g",
			escapeDrawtext(p.Text), p.X, p.Y, p.FontSize, escapeDrawtext(p.Color), p.Opacity,
		)
		return r.videoBin, []string{"-y", "-i", input, "-vf", filter, outputPath}, outputPath, durationHint(asset), nil

	case operation.KindGIF:
		p := params.(operation.GIFParams)
		outputPath = r.paths.GIF(asset.AssetID)
		filter := fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos", p.FPS, p.Width)
		args = []string{
			"-y", "-ss", fmt.Sprintf("%g", p.StartSec),
			"-t", fmt.Sprintf("%g", p.DurationSec),
			"-i", input,
			"-vf", filter, outputPath,
		}
		return r.videoBin, args, outputPath, p.DurationSec, nil

	default:
		return "", nil, "", 0, apperr.Validationf("unsupported operation kind %q", kind)
	}
}

// escapeDrawtext escapes backslash, single-quote, and colon — the
// characters significant inside ffmpeg's drawtext filter option syntax —
// so a crafted watermark Text or Color value can't break out of its
// quoted literal and inject additional filtergraph options.
func escapeDrawtext(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, `:`, `\:`)
	return s
}

// durationHint returns a rough total-duration estimate from asset metadata
// (populated by an earlier ffprobe pass at upload time), falling back to 0
// (disabling percent-based progress, not the operation itself) when absent.
func durationHint(asset *media.Asset) float64 {
	if asset.Metadata == nil {
		return 0
	}
	v, ok := asset.Metadata["duration_sec"]
	if !ok {
		return 0
	}
	var sec float64
	_, _ = fmt.Sscanf(v, "%f", &sec)
	return sec
}
