// Package operation implements the Operation Store, the Operation types, and
// the per-kind parameter validation and cost table (spec.md §4.2). The
// Operation Pipeline that charges the Credit Ledger and hands operations to
// the Job Queue lives in internal/pipeline.
package operation

import (
	"fmt"
	"time"
)

// Kind is one of the seven operation kinds spec.md §4.2 and §6 define.
type Kind string

const (
	KindResize        Kind = "resize"
	KindConvert       Kind = "convert"
	KindExtractAudio  Kind = "extract_audio"
	KindCrop          Kind = "crop"
	KindTrim          Kind = "trim"
	KindWatermark     Kind = "watermark"
	KindGIF           Kind = "gif"
)

func (k Kind) Valid() bool {
	switch k {
	case KindResize, KindConvert, KindExtractAudio, KindCrop, KindTrim, KindWatermark, KindGIF:
		return true
	}
	return false
}

// Status is an Operation's position in its pending -> processing ->
// {completed, failed} lifecycle (spec.md §4.2/§4.3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Operation is one requested media transformation against an asset.
type Operation struct {
	ID          string
	AssetID     string
	UserID      string // requesting/owning user; denormalized from the asset for quick lookups and worker restore
	Kind        Kind
	Status      Status
	Parameters  map[string]interface{} // normalized, fully-materialized parameter record (json-storable)
	Fingerprint string                 // AssetID+Kind+Parameters hash, used for the idempotency check (spec.md §4.2 step 3)
	Cost        int64
	ResultPath  string
	ErrorMessage string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsTerminal reports whether the operation has reached completed or failed.
func (o *Operation) IsTerminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed
}

func (o *Operation) String() string {
	return fmt.Sprintf("operation(id=%s kind=%s status=%s asset=%s)", o.ID, o.Kind, o.Status, o.AssetID)
}
