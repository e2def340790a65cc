package claims_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lostfound/internal/claims"
	"lostfound/internal/config"
	"lostfound/internal/evidence"
	"lostfound/internal/items"
	"lostfound/internal/reconcile"
	"lostfound/internal/services"
	"lostfound/internal/store"
	"lostfound/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	store   *store.Store
	storage *evidence.Storage
	ledger  *claims.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.MustRegister(t, st, "S123", items.ReporterStudent)
	testsupport.MustRegister(t, st, "S124", items.ReporterStudent)
	testsupport.MustRegister(t, st, "T42", items.ReporterStaff)
	f := &fixture{cfg: cfg, store: st}
	f.reopen(t)
	return f
}

func (f *fixture) reopen(t *testing.T) {
	t.Helper()
	storage, err := evidence.NewStorage(f.cfg.Paths.EvidenceDir)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	ledger, err := claims.Open(claims.Options{
		Path:              f.cfg.LedgerPath(),
		Storage:           storage,
		Registry:          f.store.Identities(),
		Reconciler:        reconcile.NewService(f.store.Reports(), nil),
		MaxFileBytes:      f.cfg.Evidence.MaxFileBytes,
		AllowedExtensions: f.cfg.Evidence.AllowedExtensions,
	})
	if err != nil {
		t.Fatalf("claims.Open: %v", err)
	}
	f.storage = storage
	f.ledger = ledger
}

func (f *fixture) evidenceFiles(t *testing.T) []string {
	t.Helper()
	names, err := f.storage.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return names
}

func TestUploadRejectsUnregisteredIdentity(t *testing.T) {
	f := newFixture(t)
	img := testsupport.JPEG(t, 4, 4, 10)
	_, err := f.ledger.UploadEvidence(context.Background(), "X999", []claims.Upload{{Name: "a.jpg", Data: img}}, 0)
	if !errors.Is(err, services.ErrIdentityNotRegistered) {
		t.Fatalf("expected identity not registered, got %v", err)
	}
	if len(f.evidenceFiles(t)) != 0 {
		t.Fatal("no file may be stored for unregistered identities")
	}
}

func TestDuplicateBytesAreDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := testsupport.JPEG(t, 4, 4, 10)

	first, err := f.ledger.UploadEvidence(ctx, "S123", []claims.Upload{{Name: "img1.jpg", Data: img}}, 0)
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if !first.Created || len(first.Claim.Images) != 1 {
		t.Fatalf("expected new claim with one image, got %+v", first)
	}
	before := f.ledger.Stats().IndexedHashes

	_, err = f.ledger.UploadEvidence(ctx, "S123", []claims.Upload{{Name: "renamed.jpg", Data: img}}, 0)
	if !errors.Is(err, claims.ErrNoNewEvidence) {
		t.Fatalf("expected no new evidence, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation classification, got %v", err)
	}
	if got := f.ledger.Stats().IndexedHashes; got != before {
		t.Fatalf("index size changed from %d to %d", before, got)
	}
	if files := f.evidenceFiles(t); len(files) != 1 {
		t.Fatalf("expected one stored file, got %v", files)
	}
	claim, ok := f.ledger.Claim("S123")
	if !ok || len(claim.Images) != 1 {
		t.Fatalf("expected claim to keep one image, got %+v", claim)
	}
}

func TestDuplicateWithinBatchAndFiltering(t *testing.T) {
	f := newFixture(t)
	img := testsupport.JPEG(t, 4, 4, 20)
	big := make([]byte, f.cfg.Evidence.MaxFileBytes+1)

	res, err := f.ledger.UploadEvidence(context.Background(), "S123", []claims.Upload{
		{Name: "a.jpg", Data: img},
		{Name: "b.JPG", Data: img},
		{Name: "notes.txt", Data: []byte("hello")},
		{Name: "huge.png", Data: big},
		{Name: "empty.gif", Data: nil},
	}, 0)
	if err != nil {
		t.Fatalf("UploadEvidence: %v", err)
	}
	if len(res.Stored) != 1 {
		t.Fatalf("expected one stored image, got %d", len(res.Stored))
	}
	reasons := map[string]string{}
	for _, s := range res.Skipped {
		reasons[s.Name] = s.Reason
	}
	want := map[string]string{
		"b.JPG":     claims.SkipDuplicate,
		"notes.txt": claims.SkipExtension,
		"huge.png":  claims.SkipSize,
		"empty.gif": claims.SkipSize,
	}
	for name, reason := range want {
		if reasons[name] != reason {
			t.Fatalf("skip reason for %s = %q, want %q", name, reasons[name], reason)
		}
	}
}

func TestUploadMergesIntoSingleClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.UploadEvidence(ctx, "S123", []claims.Upload{{Name: "a.jpg", Data: testsupport.JPEG(t, 4, 4, 1)}}, 0); err != nil {
		t.Fatalf("upload a: %v", err)
	}
	res, err := f.ledger.UploadEvidence(ctx, "S123", []claims.Upload{{Name: "b.jpg", Data: testsupport.JPEG(t, 4, 4, 200)}}, 0)
	if err != nil {
		t.Fatalf("upload b: %v", err)
	}
	if res.Created {
		t.Fatal("second upload must extend the existing claim")
	}
	list := f.ledger.ListClaims()
	if len(list) != 1 || len(list[0].Images) != 2 {
		t.Fatalf("expected one claim with two images, got %+v", list)
	}
	if !list[0].UpdatedAt.After(list[0].CreatedAt) && !list[0].UpdatedAt.Equal(list[0].CreatedAt) {
		t.Fatalf("updatedAt must not precede createdAt: %+v", list[0])
	}
}

func TestConcurrentUploadsKeepOneClaimPerIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shared := testsupport.JPEG(t, 4, 4, 77)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(shade uint8) {
			defer wg.Done()
			uploads := []claims.Upload{
				{Name: "shared.jpg", Data: shared},
				{Name: "own.jpg", Data: testsupport.JPEG(t, 4, 4, shade)},
			}
			if _, err := f.ledger.UploadEvidence(ctx, "S123", uploads, 0); err != nil && !errors.Is(err, claims.ErrNoNewEvidence) {
				t.Errorf("upload: %v", err)
			}
		}(uint8(i * 30))
	}
	wg.Wait()

	list := f.ledger.ListClaims()
	if len(list) != 1 {
		t.Fatalf("expected exactly one claim, got %d", len(list))
	}
	seen := map[string]bool{}
	for _, img := range list[0].Images {
		if seen[img.ContentHash] {
			t.Fatalf("duplicate hash stored: %s", img.ContentHash)
		}
		seen[img.ContentHash] = true
	}
	if files := f.evidenceFiles(t); len(files) != len(list[0].Images) {
		t.Fatalf("stored files %d do not match ledger images %d", len(files), len(list[0].Images))
	}
}

func TestDeleteReleasesHashes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := testsupport.JPEG(t, 4, 4, 42)

	if _, err := f.ledger.UploadEvidence(ctx, "S123", []claims.Upload{{Name: "a.jpg", Data: img}}, 0); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := f.ledger.DeleteClaim(ctx, "S123"); err != nil {
		t.Fatalf("DeleteClaim: %v", err)
	}
	if len(f.evidenceFiles(t)) != 0 {
		t.Fatal("expected evidence files removed")
	}
	if f.ledger.Stats().IndexedHashes != 0 {
		t.Fatal("expected hashes released")
	}

	res, err := f.ledger.UploadEvidence(ctx, "S124", []claims.Upload{{Name: "again.jpg", Data: img}}, 0)
	if err != nil {
		t.Fatalf("re-upload for another identity: %v", err)
	}
	if len(res.Stored) != 1 {
		t.Fatalf("expected released bytes to be stored again, got %+v", res)
	}

	if err := f.ledger.DeleteClaim(ctx, "S123"); !errors.Is(err, claims.ErrClaimNotFound) {
		t.Fatalf("expected claim not found, got %v", err)
	}
}

func TestLinkFoundItemScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	report := testsupport.MustReportFound(t, f.store, "T42", items.CategoryWallet, "brown leather")
	img := testsupport.JPEG(t, 4, 4, 5)

	if _, err := f.ledger.UploadEvidence(ctx, "S123", []claims.Upload{{Name: "img1.jpg", Data: img}}, 0); err != nil {
		t.Fatalf("initial upload: %v", err)
	}

	// Same bytes again with a found item: link-only update.
	res, err := f.ledger.UploadEvidence(ctx, "S123", []claims.Upload{{Name: "copy.jpg", Data: img}}, report.ID)
	if err != nil {
		t.Fatalf("link-only upload: %v", err)
	}
	if len(res.Stored) != 0 || len(res.Claim.Images) != 1 {
		t.Fatalf("expected no new images, got %+v", res)
	}
	if res.Claim.LinkedFoundItem == nil || res.Claim.LinkedFoundItem.ReportID != report.ID {
		t.Fatalf("expected claim linked to report %d, got %+v", report.ID, res.Claim.LinkedFoundItem)
	}
	if res.Claim.LinkedFoundItem.Category != items.CategoryWallet {
		t.Fatalf("unexpected snapshot category %q", res.Claim.LinkedFoundItem.Category)
	}
	if _, err := f.store.Reports().Get(ctx, report.ID); !errors.Is(err, store.ErrReportNotFound) {
		t.Fatalf("expected report consumed, got %v", err)
	}

	_, err = f.ledger.UploadEvidence(ctx, "S124", []claims.Upload{{Name: "other.jpg", Data: testsupport.JPEG(t, 4, 4, 99)}}, report.ID)
	if !errors.Is(err, reconcile.ErrFoundItemUnavailable) {
		t.Fatalf("expected found item unavailable, got %v", err)
	}
	if _, ok := f.ledger.Claim("S124"); ok {
		t.Fatal("failed reconciliation must not create a claim")
	}
	if files := f.evidenceFiles(t); len(files) != 1 {
		t.Fatalf("failed upload must not leave files behind, got %v", files)
	}
}

func TestNoClaimWithFoundItemButNoEvidence(t *testing.T) {
	f := newFixture(t)
	report := testsupport.MustReportFound(t, f.store, "T42", items.CategoryPhone, "iphone")
	_, err := f.ledger.UploadEvidence(context.Background(), "S123", nil, report.ID)
	if !errors.Is(err, claims.ErrNoNewEvidence) {
		t.Fatalf("expected no new evidence, got %v", err)
	}
	if _, err := f.store.Reports().Get(context.Background(), report.ID); err != nil {
		t.Fatalf("report must stay available: %v", err)
	}
}

func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	report := testsupport.MustReportFound(t, f.store, "T42", items.CategoryUmbrella, "black")

	// A directory in place of the ledger file makes the rename fail.
	if err := os.MkdirAll(filepath.Join(f.cfg.LedgerPath(), "blocker"), 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := f.ledger.UploadEvidence(ctx, "S123", []claims.Upload{{Name: "a.jpg", Data: testsupport.JPEG(t, 4, 4, 9)}}, report.ID)
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(f.ledger.ListClaims()) != 0 || f.ledger.Stats().IndexedHashes != 0 {
		t.Fatal("in-memory state changed after failed persist")
	}
	if len(f.evidenceFiles(t)) != 0 {
		t.Fatal("written evidence must be rolled back")
	}
	if _, err := f.store.Reports().Get(ctx, report.ID); err != nil {
		t.Fatalf("report must remain available after rollback: %v", err)
	}
}

func TestReloadRebuildsIndexAndSweepsOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := testsupport.JPEG(t, 4, 4, 33)
	if _, err := f.ledger.UploadEvidence(ctx, "S123", []claims.Upload{{Name: "a.jpg", Data: img}}, 0); err != nil {
		t.Fatalf("upload: %v", err)
	}
	orphan := filepath.Join(f.cfg.Paths.EvidenceDir, "6ba7b810-9dad-11d1-80b4-00c04fd430c8_leftover.jpg")
	if err := os.WriteFile(orphan, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	foreign := filepath.Join(f.cfg.Paths.EvidenceDir, "notes.txt")
	if err := os.WriteFile(foreign, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.reopen(t)

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("expected orphan removed, stat err=%v", err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("expected file without a storage name to survive, stat err=%v", err)
	}
	stats := f.ledger.Stats()
	if stats.Claims != 1 || stats.Images != 1 || stats.IndexedHashes != 1 {
		t.Fatalf("unexpected stats after reload: %+v", stats)
	}
	if _, err := f.ledger.UploadEvidence(ctx, "S124", []claims.Upload{{Name: "dup.jpg", Data: img}}, 0); !errors.Is(err, claims.ErrNoNewEvidence) {
		t.Fatalf("expected rebuilt index to block duplicate, got %v", err)
	}
}

func TestSweepLeavesDaemonFilesInSharedDirectory(t *testing.T) {
	f := newFixture(t)
	f.cfg.Paths.EvidenceDir = f.cfg.Paths.DataDir
	f.reopen(t)
	ctx := context.Background()
	if _, err := f.ledger.UploadEvidence(ctx, "S123", []claims.Upload{{Name: "a.jpg", Data: testsupport.JPEG(t, 4, 4, 71)}}, 0); err != nil {
		t.Fatalf("upload: %v", err)
	}

	f.reopen(t)

	for _, path := range []string{f.cfg.LedgerPath(), f.cfg.DatabasePath()} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to survive the orphan sweep: %v", path, err)
		}
	}
	if stats := f.ledger.Stats(); stats.Claims != 1 || stats.Images != 1 {
		t.Fatalf("unexpected stats after reload: %+v", stats)
	}
}

type blockingReconciler struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingReconciler) AttachFoundItem(_ context.Context, _ int64, _ func(reconcile.FoundItemSnapshot) error) (reconcile.FoundItemSnapshot, error) {
	close(b.entered)
	<-b.release
	return reconcile.FoundItemSnapshot{}, reconcile.ErrFoundItemUnavailable
}

func TestStatsDoesNotWaitForMutation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.MustRegister(t, st, "S123", items.ReporterStudent)
	storage, err := evidence.NewStorage(cfg.Paths.EvidenceDir)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	rec := &blockingReconciler{entered: make(chan struct{}), release: make(chan struct{})}
	ledger, err := claims.Open(claims.Options{
		Path:              cfg.LedgerPath(),
		Storage:           storage,
		Registry:          st.Identities(),
		Reconciler:        rec,
		MaxFileBytes:      cfg.Evidence.MaxFileBytes,
		AllowedExtensions: cfg.Evidence.AllowedExtensions,
	})
	if err != nil {
		t.Fatalf("claims.Open: %v", err)
	}

	img := testsupport.JPEG(t, 4, 4, 72)
	done := make(chan error, 1)
	go func() {
		_, err := ledger.UploadEvidence(context.Background(), "S123", []claims.Upload{{Name: "a.jpg", Data: img}}, 9)
		done <- err
	}()
	<-rec.entered

	got := make(chan claims.Stats, 1)
	go func() { got <- ledger.Stats() }()
	select {
	case stats := <-got:
		if stats.Claims != 0 || stats.IndexedHashes != 0 {
			t.Fatalf("expected pre-mutation stats, got %+v", stats)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stats blocked behind an in-flight upload")
	}

	close(rec.release)
	if err := <-done; !errors.Is(err, reconcile.ErrFoundItemUnavailable) {
		t.Fatalf("expected unavailable found item, got %v", err)
	}
}

func TestOpenEvidenceOnlyServesReferencedFiles(t *testing.T) {
	f := newFixture(t)
	res, err := f.ledger.UploadEvidence(context.Background(), "S123", []claims.Upload{{Name: "a.jpg", Data: testsupport.JPEG(t, 4, 4, 60)}}, 0)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	file, err := f.ledger.OpenEvidence(res.Stored[0].StoragePath)
	if err != nil {
		t.Fatalf("OpenEvidence: %v", err)
	}
	file.Close()

	if _, err := f.ledger.OpenEvidence("unknown.jpg"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
