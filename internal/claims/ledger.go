package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lostfound/internal/dedup"
	"lostfound/internal/evidence"
	"lostfound/internal/fileutil"
	"lostfound/internal/logging"
	"lostfound/internal/metrics"
	"lostfound/internal/reconcile"
	"lostfound/internal/services"
)

// Registry answers whether an identity may submit evidence.
type Registry interface {
	IsRegistered(ctx context.Context, id string) (bool, error)
}

// Reconciler consumes a found report and hands its snapshot to finalize
// before committing.
type Reconciler interface {
	AttachFoundItem(ctx context.Context, reportID int64, finalize func(reconcile.FoundItemSnapshot) error) (reconcile.FoundItemSnapshot, error)
}

// Options configures a Ledger.
type Options struct {
	Path              string
	Storage           *evidence.Storage
	Registry          Registry
	Reconciler        Reconciler
	MaxFileBytes      int64
	AllowedExtensions []string
	Logger            *slog.Logger
	Metrics           *metrics.Registry
	Now               func() time.Time
}

// Ledger is the durable per-identity collection of claims together with the
// dedup index over their images. All mutations are serialized by mu; reads
// go through an immutable view published after each mutation.
type Ledger struct {
	path       string
	storage    *evidence.Storage
	registry   Registry
	reconciler Reconciler
	maxBytes   int64
	allowed    map[string]struct{}
	logger     *slog.Logger
	metrics    *metrics.Registry
	now        func() time.Time

	mu     sync.Mutex
	claims []Claim
	index  *dedup.Index

	view atomic.Pointer[ledgerView]
}

type ledgerView struct {
	claims []Claim
	stats  Stats
}

// Open loads the ledger file, rebuilds the dedup index from the stored
// images, and removes evidence files no claim references.
func Open(opts Options) (*Ledger, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("claims ledger path is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("evidence storage is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("identity registry is required")
	}
	logger := logging.NewComponentLogger(opts.Logger, "claims")
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowed[strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")] = struct{}{}
	}

	l := &Ledger{
		path:       opts.Path,
		storage:    opts.Storage,
		registry:   opts.Registry,
		reconciler: opts.Reconciler,
		maxBytes:   opts.MaxFileBytes,
		allowed:    allowed,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        now,
	}

	loaded, err := l.load()
	if err != nil {
		return nil, err
	}
	l.claims = loaded
	l.rebuildIndex()
	l.sweepOrphans()
	l.publish()

	stats := l.Stats()
	logger.Info("claims ledger loaded",
		logging.String(logging.FieldEventType, "claims_ledger_loaded"),
		logging.String("path", l.path),
		logging.Int("claims", stats.Claims),
		logging.Int("images", stats.Images),
		logging.Int("indexed_hashes", stats.IndexedHashes),
	)
	return l, nil
}

// UploadEvidence merges new evidence into the claim for ownerID, optionally
// linking a found report. foundItemID zero means no link.
func (l *Ledger) UploadEvidence(ctx context.Context, ownerID string, uploads []Upload, foundItemID int64) (Result, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Result{}, fmt.Errorf("%w: identity id is required", services.ErrValidation)
	}
	registered, err := l.registry.IsRegistered(ctx, ownerID)
	if err != nil {
		return Result{}, err
	}
	if !registered {
		return Result{}, fmt.Errorf("%w: %s", services.ErrIdentityNotRegistered, ownerID)
	}
	if foundItemID != 0 && l.reconciler == nil {
		return Result{}, fmt.Errorf("%w: found item linking is not configured", services.ErrValidation)
	}

	logger := logging.WithContext(services.WithOwnerID(ctx, ownerID), l.logger)

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		skipped []SkippedUpload
		pending []pendingImage
		batch   = make(map[string]struct{}, len(uploads))
	)
	for _, upload := range uploads {
		reason := ""
		var hash string
		switch {
		case !l.extensionAllowed(upload.Name):
			reason = SkipExtension
		case len(upload.Data) == 0 || (l.maxBytes > 0 && int64(len(upload.Data)) > l.maxBytes):
			reason = SkipSize
		default:
			hash = dedup.Digest(upload.Data)
			if _, seen := batch[hash]; seen || l.index.Contains(hash) {
				reason = SkipDuplicate
			}
		}
		if reason != "" {
			skipped = append(skipped, SkippedUpload{Name: upload.Name, Reason: reason})
			l.metrics.EvidenceSkipped(reason)
			continue
		}
		batch[hash] = struct{}{}
		pending = append(pending, pendingImage{upload: upload, hash: hash})
	}

	pos := l.find(ownerID)
	if len(pending) == 0 && (pos < 0 || foundItemID == 0) {
		logger.Info("evidence upload stored nothing",
			logging.String(logging.FieldEventType, "evidence_no_new"),
			logging.Int("skipped", len(skipped)),
		)
		return Result{}, ErrNoNewEvidence
	}

	stored, err := l.writeFiles(pending)
	if err != nil {
		return Result{}, err
	}

	now := l.now()
	var claim Claim
	created := pos < 0
	if created {
		claim = Claim{OwnerID: ownerID, CreatedAt: now}
	} else {
		claim = l.claims[pos].clone()
	}
	claim.Images = append(claim.Images, stored...)
	claim.UpdatedAt = now

	next := make([]Claim, len(l.claims), len(l.claims)+1)
	copy(next, l.claims)
	if created {
		next = append(next, claim)
		pos = len(next) - 1
	} else {
		next[pos] = claim
	}

	if foundItemID != 0 {
		persisted := false
		_, err := l.reconciler.AttachFoundItem(ctx, foundItemID, func(snap reconcile.FoundItemSnapshot) error {
			next[pos].LinkedFoundItem = &snap
			if err := l.persist(next); err != nil {
				return err
			}
			persisted = true
			return nil
		})
		if err != nil {
			if persisted {
				// The report delete did not commit after the ledger was
				// written; restore the previous ledger file.
				if restoreErr := l.persist(l.claims); restoreErr != nil {
					logging.ErrorWithContext(logger, "restore claims ledger failed", "claims_ledger_restore_failed",
						logging.Error(restoreErr),
						logging.String(logging.FieldErrorHint, "inspect "+l.path+" before restarting"),
						logging.String(logging.FieldImpact, "ledger file may reference an unconsumed found item"),
					)
				}
			}
			l.discard(stored)
			l.metrics.Reconciliation(reconcileOutcome(err))
			return Result{}, err
		}
		l.metrics.Reconciliation("linked")
	} else if err := l.persist(next); err != nil {
		l.discard(stored)
		return Result{}, err
	}

	l.claims = next
	for _, img := range stored {
		l.index.Add(img.ContentHash)
	}
	l.publish()
	l.metrics.EvidenceStored(len(stored))

	result := Result{Claim: next[pos].clone(), Created: created, Stored: stored, Skipped: skipped}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "evidence_uploaded"),
		logging.Bool("created", created),
		logging.Int("stored", len(stored)),
		logging.Int("skipped", len(skipped)),
		logging.Int("images_total", len(result.Claim.Images)),
	}
	if result.Claim.LinkedFoundItem != nil && foundItemID != 0 {
		attrs = append(attrs, logging.Int64(logging.FieldReportID, foundItemID))
	}
	logger.Info("evidence uploaded", logging.Args(attrs...)...)
	return result, nil
}

// DeleteClaim removes the claim for ownerID, deletes its evidence files and
// releases their hashes. The ledger file is rewritten before any file is
// deleted so a crash cannot leave a claim pointing at missing files.
func (l *Ledger) DeleteClaim(ctx context.Context, ownerID string) error {
	ownerID = strings.TrimSpace(ownerID)
	logger := logging.WithContext(services.WithOwnerID(ctx, ownerID), l.logger)

	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.find(ownerID)
	if pos < 0 {
		return fmt.Errorf("%w: %s", ErrClaimNotFound, ownerID)
	}
	removed := l.claims[pos]

	next := make([]Claim, 0, len(l.claims)-1)
	next = append(next, l.claims[:pos]...)
	next = append(next, l.claims[pos+1:]...)
	if err := l.persist(next); err != nil {
		return err
	}

	l.claims = next
	for _, img := range removed.Images {
		l.index.Remove(img.ContentHash)
		if err := l.storage.Remove(img.StoragePath); err != nil {
			logging.WarnWithContext(logger, "evidence file removal failed", "evidence_remove_failed",
				logging.String("file", img.StoragePath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "file will be swept on next start"),
				logging.String(logging.FieldImpact, "orphaned file occupies disk space"),
			)
		}
	}
	l.publish()
	l.metrics.ClaimDeleted()

	logger.Info("claim deleted",
		logging.String(logging.FieldEventType, "claim_deleted"),
		logging.Int("images_released", len(removed.Images)),
	)
	return nil
}

// ListClaims returns the claims in creation order. It never blocks on
// in-flight mutations.
func (l *Ledger) ListClaims() []Claim {
	v := l.view.Load()
	if v == nil {
		return []Claim{}
	}
	out := make([]Claim, len(v.claims))
	for i, c := range v.claims {
		out[i] = c.clone()
	}
	return out
}

// Claim returns the claim for ownerID from the current snapshot.
func (l *Ledger) Claim(ownerID string) (Claim, bool) {
	ownerID = strings.TrimSpace(ownerID)
	v := l.view.Load()
	if v == nil {
		return Claim{}, false
	}
	for _, c := range v.claims {
		if c.OwnerID == ownerID {
			return c.clone(), true
		}
	}
	return Claim{}, false
}

// Stats reports ledger and index sizes as of the last completed mutation.
// Like ListClaims it never waits on the mutation lock.
func (l *Ledger) Stats() Stats {
	if v := l.view.Load(); v != nil {
		return v.stats
	}
	return Stats{}
}

// OpenEvidence opens a stored evidence file referenced by some claim.
func (l *Ledger) OpenEvidence(name string) (*os.File, error) {
	if !l.referenced(name) {
		return nil, evidence.ErrEvidenceNotFound
	}
	return l.storage.Open(name)
}

type pendingImage struct {
	upload Upload
	hash   string
}

func (l *Ledger) extensionAllowed(name string) bool {
	_, ok := l.allowed[evidence.Extension(name)]
	return ok
}

func (l *Ledger) find(ownerID string) int {
	for i, c := range l.claims {
		if c.OwnerID == ownerID {
			return i
		}
	}
	return -1
}

func (l *Ledger) referenced(name string) bool {
	v := l.view.Load()
	if v == nil || name == "" {
		return false
	}
	for _, c := range v.claims {
		for _, img := range c.Images {
			if img.StoragePath == name {
				return true
			}
		}
	}
	return false
}

// writeFiles stores every pending image. On failure the files already
// written by this call are removed.
func (l *Ledger) writeFiles(pending []pendingImage) ([]EvidenceImage, error) {
	stored := make([]EvidenceImage, 0, len(pending))
	for _, p := range pending {
		name, err := l.storage.Save(p.upload.Name, p.upload.Data)
		if err != nil {
			l.discard(stored)
			return nil, err
		}
		stored = append(stored, EvidenceImage{
			ContentHash:  p.hash,
			StoragePath:  name,
			OriginalName: p.upload.Name,
			Size:         int64(len(p.upload.Data)),
			AddedAt:      l.now(),
		})
	}
	return stored, nil
}

func (l *Ledger) discard(images []EvidenceImage) {
	for _, img := range images {
		if err := l.storage.Remove(img.StoragePath); err != nil {
			l.logger.Debug("discard evidence file failed", logging.String("file", img.StoragePath), logging.Error(err))
		}
	}
}

func (l *Ledger) persist(claims []Claim) error {
	if claims == nil {
		claims = []Claim{}
	}
	data, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrStorage, "claims", "marshal ledger", "", err)
	}
	if err := fileutil.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return services.Wrap(services.ErrStorage, "claims", "persist ledger", l.path, err)
	}
	return nil
}

func (l *Ledger) load() ([]Claim, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Claim{}, nil
		}
		return nil, fmt.Errorf("read claims ledger: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Claim{}, nil
	}
	var raw []Claim
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse claims ledger %s: %w", l.path, err)
	}

	claims := make([]Claim, 0, len(raw))
	seen := make(map[string]int, len(raw))
	for _, c := range raw {
		c.OwnerID = strings.TrimSpace(c.OwnerID)
		if c.OwnerID == "" {
			continue
		}
		if pos, dup := seen[c.OwnerID]; dup {
			// Older ledgers could hold several records per identity; fold
			// them into the first.
			merged := claims[pos]
			merged.Images = append(merged.Images, c.Images...)
			if c.UpdatedAt.After(merged.UpdatedAt) {
				merged.UpdatedAt = c.UpdatedAt
			}
			if c.LinkedFoundItem != nil {
				merged.LinkedFoundItem = c.LinkedFoundItem
			}
			claims[pos] = merged
			logging.WarnWithContext(l.logger, "merged duplicate claim records", "claims_duplicate_merged",
				logging.String(logging.FieldOwnerID, c.OwnerID),
				logging.String(logging.FieldErrorHint, "ledger rewritten on next mutation"),
				logging.String(logging.FieldImpact, "none"),
			)
			continue
		}
		seen[c.OwnerID] = len(claims)
		claims = append(claims, c)
	}
	return claims, nil
}

// rebuildIndex hashes every referenced file once and drops images whose
// content is already held by an earlier image.
func (l *Ledger) rebuildIndex() {
	entries := make([]dedup.Entry, 0)
	for _, c := range l.claims {
		for _, img := range c.Images {
			entries = append(entries, dedup.Entry{Path: l.storage.Path(img.StoragePath), RecordedHash: img.ContentHash})
		}
	}
	effective := dedup.Rehash(entries, l.logger)

	l.index = dedup.New()
	for i := range l.claims {
		kept := l.claims[i].Images[:0]
		for _, img := range l.claims[i].Images {
			if hash := effective[l.storage.Path(img.StoragePath)]; hash != "" {
				img.ContentHash = hash
			}
			if l.index.Contains(img.ContentHash) {
				l.logger.Warn("duplicate evidence image dropped from claim",
					logging.String(logging.FieldEventType, "claims_duplicate_image"),
					logging.String(logging.FieldOwnerID, l.claims[i].OwnerID),
					logging.String("file", img.StoragePath),
					logging.String(logging.FieldErrorHint, "ledger rewritten on next mutation"),
					logging.String(logging.FieldImpact, "image no longer listed under the claim"),
				)
				continue
			}
			l.index.Add(img.ContentHash)
			kept = append(kept, img)
		}
		l.claims[i].Images = kept
	}
}

func (l *Ledger) sweepOrphans() {
	names, err := l.storage.List()
	if err != nil {
		logging.WarnWithContext(l.logger, "evidence directory scan failed", "evidence_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check evidence_dir permissions"),
			logging.String(logging.FieldImpact, "orphaned evidence files are not removed"),
		)
		return
	}
	referenced := make(map[string]struct{})
	for _, c := range l.claims {
		for _, img := range c.Images {
			referenced[img.StoragePath] = struct{}{}
		}
	}
	removed := 0
	for _, name := range names {
		if _, ok := referenced[name]; ok {
			continue
		}
		if err := l.storage.Remove(name); err != nil {
			l.logger.Debug("orphan removal failed", logging.String("file", name), logging.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		l.logger.Info("removed orphaned evidence files",
			logging.String(logging.FieldEventType, "evidence_orphans_removed"),
			logging.Int("count", removed),
		)
	}
}

func (l *Ledger) publish() {
	snap := make([]Claim, len(l.claims))
	images := 0
	for i, c := range l.claims {
		snap[i] = c.clone()
		images += len(c.Images)
	}
	stats := Stats{Claims: len(snap), Images: images, IndexedHashes: l.index.Len()}
	l.view.Store(&ledgerView{claims: snap, stats: stats})
	l.metrics.LedgerSize(stats.Claims, stats.Images, stats.IndexedHashes)
}

func reconcileOutcome(err error) string {
	switch {
	case errors.Is(err, reconcile.ErrFoundItemUnavailable):
		return "unavailable"
	default:
		return "failed"
	}
}
