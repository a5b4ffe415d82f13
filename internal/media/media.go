// Package media implements the Media Store (spec.md §3's Media Asset
// entity): metadata for video/image assets owned by users, plus the
// storage path convention consumed by workers (spec.md §6).
package media

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelpejol/reel/internal/apperr"
)

// Kind discriminates video vs image assets. spec.md §9's Open Question
// ("two-table split vs single table with discriminator") is resolved here
// in favor of a single table — see SPEC_FULL.md §9.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// Asset is one user-owned media asset.
type Asset struct {
	AssetID   string
	OwnerID   string
	Kind      Kind
	Extension string
	Width     int
	Height    int
	Metadata  map[string]string
	CreatedAt time.Time
}

// Store persists and retrieves assets.
type Store interface {
	Create(ctx context.Context, a *Asset) error
	Get(ctx context.Context, assetID string) (*Asset, error)
}

// NewAssetID generates a short random hex identifier, per spec.md §3.
func NewAssetID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Paths implements the asset path convention from spec.md §6, consumed by
// workers computing output locations and by the asset reader.
type Paths struct {
	root string
}

func NewPaths(storageRoot string) Paths { return Paths{root: storageRoot} }

func (p Paths) dir(assetID string) string { return filepath.Join(p.root, assetID) }

func (p Paths) Original(assetID, ext string) string {
	return filepath.Join(p.dir(assetID), fmt.Sprintf("original.%s", ext))
}
func (p Paths) Thumbnail(assetID string) string {
	return filepath.Join(p.dir(assetID), "thumbnail.jpg")
}
func (p Paths) Resized(assetID string, w, h int, ext string) string {
	return filepath.Join(p.dir(assetID), fmt.Sprintf("%dx%d.%s", w, h, ext))
}
func (p Paths) Converted(assetID, ext string) string {
	return filepath.Join(p.dir(assetID), fmt.Sprintf("converted.%s", ext))
}
func (p Paths) Audio(assetID string) string {
	return filepath.Join(p.dir(assetID), "audio.aac")
}
func (p Paths) Trimmed(assetID string, startSec, endSec float64) string {
	return filepath.Join(p.dir(assetID), fmt.Sprintf("trimmed_%g-%g.%s", startSec, endSec, "mp4"))
}
func (p Paths) Watermarked(assetID, ext string) string {
	return filepath.Join(p.dir(assetID), fmt.Sprintf("watermarked.%s", ext))
}
func (p Paths) GIF(assetID string) string {
	return filepath.Join(p.dir(assetID), "video.gif")
}

// PostgresStore is the durable Store implementation.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Create(ctx context.Context, a *Asset) error {
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO media_assets (asset_id, owner_id, kind, extension, width, height, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.AssetID, a.OwnerID, a.Kind, a.Extension, a.Width, a.Height, metadataJSON, a.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, "insert asset", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, assetID string) (*Asset, error) {
	a := &Asset{AssetID: assetID}
	var metadataJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, kind, extension, width, height, metadata, created_at
		FROM media_assets WHERE asset_id = $1
	`, assetID).Scan(&a.OwnerID, &a.Kind, &a.Extension, &a.Width, &a.Height, &metadataJSON, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("asset %s not found", assetID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "query asset", err)
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &a.Metadata)
	}
	return a, nil
}

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	assets map[string]*Asset
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{assets: map[string]*Asset{}} }

func (s *MemoryStore) Create(ctx context.Context, a *Asset) error {
	cp := *a
	s.assets[a.AssetID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, assetID string) (*Asset, error) {
	a, ok := s.assets[assetID]
	if !ok {
		return nil, apperr.NotFoundf("asset %s not found", assetID)
	}
	return a, nil
}
