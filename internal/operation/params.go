package operation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/media"
)

// Params is implemented by every operation kind's typed parameter record.
// Validate checks the parameters against the target asset's properties
// (spec.md §4.2's per-kind validation rules); ToMap produces the normalized,
// JSON-storable representation persisted on Operation.Parameters and hashed
// into Operation.Fingerprint.
type Params interface {
	Kind() Kind
	Validate(asset *media.Asset) error
	ToMap() map[string]interface{}
}

// ResizeParams resizes an image or video to an explicit pixel size. For
// video, it applies a scale filter and copies the audio track untouched.
type ResizeParams struct {
	Width  int
	Height int
}

func (p ResizeParams) Kind() Kind { return KindResize }
func (p ResizeParams) Validate(asset *media.Asset) error {
	if asset.Kind != media.KindImage && asset.Kind != media.KindVideo {
		return apperr.Validationf("resize requires an image or video asset, got %s", asset.Kind)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return apperr.Validationf("resize width/height must be positive, got %dx%d", p.Width, p.Height)
	}
	if p.Width > 8192 || p.Height > 8192 {
		return apperr.Validationf("resize target exceeds maximum dimension 8192px")
	}
	return nil
}
func (p ResizeParams) ToMap() map[string]interface{} {
	return map[string]interface{}{"width": p.Width, "height": p.Height}
}

// ConvertParams converts an asset to a different container/encoding format.
type ConvertParams struct {
	TargetFormat string
}

var allowedConvertFormats = map[media.Kind]map[string]bool{
	media.KindVideo: {"mp4": true, "mov": true, "mkv": true, "avi": true, "webm": true},
	media.KindImage: {"jpg": true, "png": true, "webp": true, "bmp": true},
}

func (p ConvertParams) Kind() Kind { return KindConvert }
func (p ConvertParams) Validate(asset *media.Asset) error {
	allowed, ok := allowedConvertFormats[asset.Kind]
	if !ok || !allowed[p.TargetFormat] {
		return apperr.Validationf("unsupported target format %q for %s asset", p.TargetFormat, asset.Kind)
	}
	if p.TargetFormat == asset.Extension {
		return apperr.Validationf("asset is already in %s format", p.TargetFormat)
	}
	return nil
}
func (p ConvertParams) ToMap() map[string]interface{} {
	return map[string]interface{}{"target_format": p.TargetFormat}
}

// ExtractAudioParams pulls the audio track out of a video asset.
type ExtractAudioParams struct {
	Format string // audio codec passed to ffmpeg's -acodec, e.g. "aac", "mp3"; the output file is always the asset's audio.aac path
}

func (p ExtractAudioParams) Kind() Kind { return KindExtractAudio }
func (p ExtractAudioParams) Validate(asset *media.Asset) error {
	if asset.Kind != media.KindVideo {
		return apperr.Validationf("extract_audio requires a video asset, got %s", asset.Kind)
	}
	if p.Format == "" {
		return apperr.Validationf("extract_audio requires a target format")
	}
	switch p.Format {
	case "aac", "mp3", "wav":
	default:
		return apperr.Validationf("unsupported audio format %q", p.Format)
	}
	return nil
}
func (p ExtractAudioParams) ToMap() map[string]interface{} {
	return map[string]interface{}{"format": p.Format}
}

// CropParams crops a rectangular region out of an image.
type CropParams struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (p CropParams) Kind() Kind { return KindCrop }
func (p CropParams) Validate(asset *media.Asset) error {
	if asset.Kind != media.KindImage {
		return apperr.Validationf("crop requires an image asset, got %s", asset.Kind)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return apperr.Validationf("crop width/height must be positive")
	}
	if p.X < 0 || p.Y < 0 {
		return apperr.Validationf("crop origin must be non-negative")
	}
	if asset.Width > 0 && p.X+p.Width > asset.Width {
		return apperr.Validationf("crop region exceeds asset width (%d+%d > %d)", p.X, p.Width, asset.Width)
	}
	if asset.Height > 0 && p.Y+p.Height > asset.Height {
		return apperr.Validationf("crop region exceeds asset height (%d+%d > %d)", p.Y, p.Height, asset.Height)
	}
	return nil
}
func (p CropParams) ToMap() map[string]interface{} {
	return map[string]interface{}{"x": p.X, "y": p.Y, "width": p.Width, "height": p.Height}
}

// TrimParams cuts a video down to [StartSec, EndSec).
type TrimParams struct {
	StartSec float64
	EndSec   float64
}

func (p TrimParams) Kind() Kind { return KindTrim }
func (p TrimParams) Validate(asset *media.Asset) error {
	if asset.Kind != media.KindVideo {
		return apperr.Validationf("trim requires a video asset, got %s", asset.Kind)
	}
	if p.StartSec < 0 {
		return apperr.Validationf("trim start_sec must be non-negative")
	}
	if p.EndSec <= p.StartSec {
		return apperr.Validationf("trim end_sec must be greater than start_sec")
	}
	return nil
}
func (p TrimParams) ToMap() map[string]interface{} {
	return map[string]interface{}{"start_sec": p.StartSec, "end_sec": p.EndSec}
}

// WatermarkParams overlays text on every frame of a video.
type WatermarkParams struct {
	Text     string
	X        int
	Y        int
	FontSize int
	Color    string
	Opacity  float64
}

func (p WatermarkParams) Kind() Kind { return KindWatermark }
func (p WatermarkParams) Validate(asset *media.Asset) error {
	if asset.Kind != media.KindVideo {
		return apperr.Validationf("watermark requires a video asset, got %s", asset.Kind)
	}
	if p.Text == "" {
		return apperr.Validationf("watermark text must not be empty")
	}
	if p.FontSize <= 0 {
		return apperr.Validationf("watermark font_size must be positive")
	}
	if p.Opacity < 0 || p.Opacity > 1 {
		return apperr.Validationf("watermark opacity must be within [0, 1], got %f", p.Opacity)
	}
	return nil
}
func (p WatermarkParams) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"text": p.Text, "x": p.X, "y": p.Y,
		"font_size": p.FontSize, "color": p.Color, "opacity": p.Opacity,
	}
}

// GIFParams converts a video clip to an animated GIF.
type GIFParams struct {
	FPS         int
	Width       int
	StartSec    float64
	DurationSec float64
}

func (p GIFParams) Kind() Kind { return KindGIF }
func (p GIFParams) Validate(asset *media.Asset) error {
	if asset.Kind != media.KindVideo {
		return apperr.Validationf("gif requires a video asset, got %s", asset.Kind)
	}
	if p.FPS <= 0 || p.FPS > 60 {
		return apperr.Validationf("gif fps must be within (0, 60], got %d", p.FPS)
	}
	if p.Width <= 0 {
		return apperr.Validationf("gif width must be positive")
	}
	if p.StartSec < 0 {
		return apperr.Validationf("gif start_sec must be non-negative")
	}
	if p.DurationSec <= 0 {
		return apperr.Validationf("gif duration_sec must be positive")
	}
	return nil
}
func (p GIFParams) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"fps": p.FPS, "width": p.Width, "start_sec": p.StartSec, "duration_sec": p.DurationSec,
	}
}

// Fingerprint hashes asset ID+kind+normalized parameters into a stable string used
// for the idempotency check in spec.md §4.2 step 3: a second request with
// the same asset, kind, and parameters reuses the in-flight or completed
// operation instead of double-charging.
func Fingerprint(assetID string, p Params) string {
	m := p.ToMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	canon := make(map[string]interface{}, len(m)+2)
	canon["asset_id"] = assetID
	canon["kind"] = string(p.Kind())
	for _, k := range keys {
		canon[k] = m[k]
	}
	b, _ := json.Marshal(canon) // map keys marshal in sorted order already; canon adds stable top-level keys
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FromMap reconstructs a typed Params value from the stored parameter map
// and kind, used to restore worker job payloads (spec.md §4.3's
// restore_on_start) without re-deriving them from the original request.
func FromMap(kind Kind, m map[string]interface{}) (Params, error) {
	f := func(key string) float64 {
		v, _ := m[key].(float64)
		return v
	}
	i := func(key string) int { return int(f(key)) }
	s := func(key string) string { v, _ := m[key].(string); return v }

	switch kind {
	case KindResize:
		return ResizeParams{Width: i("width"), Height: i("height")}, nil
	case KindConvert:
		return ConvertParams{TargetFormat: s("target_format")}, nil
	case KindExtractAudio:
		return ExtractAudioParams{Format: s("format")}, nil
	case KindCrop:
		return CropParams{X: i("x"), Y: i("y"), Width: i("width"), Height: i("height")}, nil
	case KindTrim:
		return TrimParams{StartSec: f("start_sec"), EndSec: f("end_sec")}, nil
	case KindWatermark:
		return WatermarkParams{
			Text: s("text"), X: i("x"), Y: i("y"),
			FontSize: i("font_size"), Color: s("color"), Opacity: f("opacity"),
		}, nil
	case KindGIF:
		return GIFParams{FPS: i("fps"), Width: i("width"), StartSec: f("start_sec"), DurationSec: f("duration_sec")}, nil
	default:
		return nil, apperr.Validationf("unknown operation kind %q", kind)
	}
}

// CostTable maps each operation kind to its credit cost (spec.md §4.1 /
// §9's "explicit cost table" resolution of the spec's cost Open Question).
type CostTable map[Kind]int64

// DefaultCostTable returns the built-in per-kind costs: cheap per-pixel
// operations cost 1, operations that re-encode the whole asset cost more.
func DefaultCostTable() CostTable {
	return CostTable{
		KindResize:       1,
		KindCrop:         1,
		KindExtractAudio: 2,
		KindConvert:      3,
		KindTrim:         3,
		KindWatermark:    4,
		KindGIF:          5,
	}
}

func (t CostTable) Cost(k Kind) (int64, error) {
	c, ok := t[k]
	if !ok {
		return 0, fmt.Errorf("no cost configured for operation kind %q", k)
	}
	return c, nil
}
