package operation

import (
	"testing"

	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imageAsset() *media.Asset {
	return &media.Asset{AssetID: "a1", Kind: media.KindImage, Extension: "png", Width: 1920, Height: 1080}
}

func videoAsset() *media.Asset {
	return &media.Asset{AssetID: "a2", Kind: media.KindVideo, Extension: "mp4"}
}

func TestResizeParams_Validate(t *testing.T) {
	require.NoError(t, ResizeParams{Width: 100, Height: 100}.Validate(imageAsset()))

	err := ResizeParams{Width: 0, Height: 100}.Validate(imageAsset())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))

	err = ResizeParams{Width: 10000, Height: 100}.Validate(imageAsset())
	require.Error(t, err)

	require.NoError(t, ResizeParams{Width: 100, Height: 100}.Validate(videoAsset()), "resize also applies to video assets via a scale filter")
}

func TestCropParams_Validate_BoundsAgainstAssetDimensions(t *testing.T) {
	require.NoError(t, CropParams{X: 0, Y: 0, Width: 100, Height: 100}.Validate(imageAsset()))

	err := CropParams{X: 1900, Y: 0, Width: 100, Height: 100}.Validate(imageAsset())
	require.Error(t, err, "crop region extends past the asset's width")

	err = CropParams{X: -1, Y: 0, Width: 100, Height: 100}.Validate(imageAsset())
	require.Error(t, err, "crop origin must be non-negative")
}

func TestConvertParams_Validate_RejectsSameFormatAndUnsupportedTarget(t *testing.T) {
	require.NoError(t, ConvertParams{TargetFormat: "webp"}.Validate(imageAsset()))

	err := ConvertParams{TargetFormat: "png"}.Validate(imageAsset())
	require.Error(t, err, "converting to the asset's current format is rejected")

	err = ConvertParams{TargetFormat: "mp4"}.Validate(imageAsset())
	require.Error(t, err, "mp4 is not an allowed image target format")
}

func TestTrimParams_Validate(t *testing.T) {
	require.NoError(t, TrimParams{StartSec: 1, EndSec: 5}.Validate(videoAsset()))

	err := TrimParams{StartSec: 5, EndSec: 5}.Validate(videoAsset())
	require.Error(t, err, "end_sec must be strictly greater than start_sec")

	err = TrimParams{StartSec: -1, EndSec: 5}.Validate(videoAsset())
	require.Error(t, err)
}

func TestWatermarkParams_Validate_OpacityRange(t *testing.T) {
	require.NoError(t, WatermarkParams{Text: "hi", FontSize: 12, Opacity: 0.5}.Validate(videoAsset()))

	err := WatermarkParams{Text: "hi", FontSize: 12, Opacity: 1.5}.Validate(videoAsset())
	require.Error(t, err)

	err = WatermarkParams{Text: "", FontSize: 12, Opacity: 0.5}.Validate(videoAsset())
	require.Error(t, err, "empty watermark text is rejected")
}

func TestGIFParams_Validate(t *testing.T) {
	require.NoError(t, GIFParams{FPS: 15, Width: 480, StartSec: 0, DurationSec: 3}.Validate(videoAsset()))

	err := GIFParams{FPS: 0, Width: 480, DurationSec: 3}.Validate(videoAsset())
	require.Error(t, err, "fps must be within (0, 60]")

	err = GIFParams{FPS: 15, Width: 480, DurationSec: 0}.Validate(videoAsset())
	require.Error(t, err, "duration_sec must be positive")
}

func TestFingerprint_SameInputsSameHash(t *testing.T) {
	f1 := Fingerprint("asset-1", ResizeParams{Width: 100, Height: 200})
	f2 := Fingerprint("asset-1", ResizeParams{Width: 100, Height: 200})
	assert.Equal(t, f1, f2)
}

func TestFingerprint_DifferentParamsDifferentHash(t *testing.T) {
	f1 := Fingerprint("asset-1", ResizeParams{Width: 100, Height: 200})
	f2 := Fingerprint("asset-1", ResizeParams{Width: 100, Height: 201})
	assert.NotEqual(t, f1, f2)
}

func TestFingerprint_DifferentAssetDifferentHash(t *testing.T) {
	f1 := Fingerprint("asset-1", ResizeParams{Width: 100, Height: 200})
	f2 := Fingerprint("asset-2", ResizeParams{Width: 100, Height: 200})
	assert.NotEqual(t, f1, f2)
}

func TestFromMap_RoundTripsEveryKind(t *testing.T) {
	cases := []Params{
		ResizeParams{Width: 10, Height: 20},
		ConvertParams{TargetFormat: "webp"},
		ExtractAudioParams{Format: "aac"},
		CropParams{X: 1, Y: 2, Width: 3, Height: 4},
		TrimParams{StartSec: 1.5, EndSec: 4.5},
		WatermarkParams{Text: "t", X: 1, Y: 2, FontSize: 10, Color: "white", Opacity: 0.8},
		GIFParams{FPS: 12, Width: 320, StartSec: 0, DurationSec: 2},
	}

	for _, original := range cases {
		restored, err := FromMap(original.Kind(), original.ToMap())
		require.NoError(t, err, original.Kind())
		assert.Equal(t, original, restored, original.Kind())
	}
}

func TestFromMap_UnknownKindRejected(t *testing.T) {
	_, err := FromMap(Kind("bogus"), map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestDefaultCostTable_CoversEveryKind(t *testing.T) {
	costs := DefaultCostTable()
	for _, k := range []Kind{KindResize, KindConvert, KindExtractAudio, KindCrop, KindTrim, KindWatermark, KindGIF} {
		cost, err := costs.Cost(k)
		require.NoError(t, err, k)
		assert.Greater(t, cost, int64(0), k)
	}
}
