package media

import (
	"context"
	"testing"

	"github.com/kelpejol/reel/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssetID_IsUniqueAndHex(t *testing.T) {
	a := NewAssetID()
	b := NewAssetID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 16) // 8 random bytes, hex-encoded
}

func TestPaths_ConventionsAreAssetScoped(t *testing.T) {
	p := NewPaths("/data")
	assert.Equal(t, "/data/asset1/original.png", p.Original("asset1", "png"))
	assert.Equal(t, "/data/asset1/100x200.png", p.Resized("asset1", 100, 200, "png"))
	assert.Equal(t, "/data/asset1/converted.webp", p.Converted("asset1", "webp"))
	assert.Equal(t, "/data/asset1/audio.aac", p.Audio("asset1"))
	assert.Equal(t, "/data/asset1/video.gif", p.GIF("asset1"))
}

func TestMemoryStore_GetMissingReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestMemoryStore_CreateThenGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	asset := &Asset{AssetID: "a1", OwnerID: "u1", Kind: KindImage, Extension: "png", Width: 100, Height: 100}
	require.NoError(t, store.Create(ctx, asset))

	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, asset.OwnerID, got.OwnerID)
	assert.Equal(t, asset.Kind, got.Kind)
}
