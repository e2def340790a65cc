package claims

import (
	"fmt"
	"time"

	"lostfound/internal/reconcile"
	"lostfound/internal/services"
)

var (
	// ErrNoNewEvidence is returned when an upload stores nothing and does not
	// change a found-item link.
	ErrNoNewEvidence = fmt.Errorf("%w: no new evidence", services.ErrValidation)
	// ErrClaimNotFound is returned when deleting a claim that does not exist.
	ErrClaimNotFound = fmt.Errorf("%w: claim", services.ErrNotFound)
)

// EvidenceImage is one stored evidence file. ContentHash is unique across
// the whole ledger.
type EvidenceImage struct {
	ContentHash  string    `json:"contentHash"`
	StoragePath  string    `json:"storagePath"`
	OriginalName string    `json:"originalName,omitempty"`
	Size         int64     `json:"size"`
	AddedAt      time.Time `json:"addedAt"`
}

// Claim aggregates the evidence and optional found-item link for one identity.
type Claim struct {
	OwnerID         string                       `json:"ownerId"`
	Images          []EvidenceImage              `json:"images"`
	CreatedAt       time.Time                    `json:"createdAt"`
	UpdatedAt       time.Time                    `json:"updatedAt"`
	LinkedFoundItem *reconcile.FoundItemSnapshot `json:"linkedFoundItem,omitempty"`
}

func (c Claim) clone() Claim {
	out := c
	out.Images = append([]EvidenceImage(nil), c.Images...)
	if c.LinkedFoundItem != nil {
		snap := *c.LinkedFoundItem
		out.LinkedFoundItem = &snap
	}
	return out
}

// Upload is one file submitted with an evidence request.
type Upload struct {
	Name string
	Data []byte
}

// Skip reasons reported for uploads that were dropped from a batch.
const (
	SkipExtension = "extension"
	SkipSize      = "size"
	SkipDuplicate = "duplicate"
)

// SkippedUpload names a dropped upload and why it was dropped.
type SkippedUpload struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Result summarizes an UploadEvidence call.
type Result struct {
	Claim   Claim           `json:"claim"`
	Created bool            `json:"created"`
	Stored  []EvidenceImage `json:"stored"`
	Skipped []SkippedUpload `json:"skipped"`
}

// Stats reports ledger and dedup index sizes.
type Stats struct {
	Claims        int `json:"claims"`
	Images        int `json:"images"`
	IndexedHashes int `json:"indexedHashes"`
}
