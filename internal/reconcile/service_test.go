package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"lostfound/internal/items"
	"lostfound/internal/reconcile"
	"lostfound/internal/services"
	"lostfound/internal/store"
	"lostfound/internal/testsupport"
)

func TestAttachFoundItemOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.MustRegister(t, st, "T42", items.ReporterStaff)
	report := testsupport.MustReportFound(t, st, "T42", items.CategoryWallet, "brown leather wallet")
	svc := reconcile.NewService(st.Reports(), nil)
	ctx := context.Background()

	var finalized reconcile.FoundItemSnapshot
	snap, err := svc.AttachFoundItem(ctx, report.ID, func(s reconcile.FoundItemSnapshot) error {
		finalized = s
		return nil
	})
	if err != nil {
		t.Fatalf("AttachFoundItem: %v", err)
	}
	if snap.Category != items.CategoryWallet || snap.Description != "brown leather wallet" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.ReporterID != "T42" || snap.ReportedBy != items.ReporterStaff || snap.ClaimedAt.IsZero() {
		t.Fatalf("snapshot missing reporter details: %+v", snap)
	}
	if finalized != snap {
		t.Fatalf("finalize saw %+v, returned %+v", finalized, snap)
	}

	_, err = svc.AttachFoundItem(ctx, report.ID, nil)
	if !errors.Is(err, reconcile.ErrFoundItemUnavailable) {
		t.Fatalf("expected found item unavailable, got %v", err)
	}
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict classification, got %v", err)
	}
}

func TestAttachFoundItemFinalizeFailureKeepsReport(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.MustRegister(t, st, "S1", items.ReporterStudent)
	report := testsupport.MustReportFound(t, st, "S1", items.CategoryPhone, "pixel")
	svc := reconcile.NewService(st.Reports(), nil)

	boom := errors.New("disk full")
	if _, err := svc.AttachFoundItem(context.Background(), report.ID, func(reconcile.FoundItemSnapshot) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected finalize error, got %v", err)
	}
	found, err := st.Reports().List(context.Background(), store.ReportFilter{Kind: items.KindFound})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected report to remain available, got %d", len(found))
	}
}

func TestConcurrentAttachExactlyOneSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.MustRegister(t, st, "S1", items.ReporterStudent)
	report := testsupport.MustReportFound(t, st, "S1", items.CategoryUmbrella, "red")
	svc := reconcile.NewService(st.Reports(), nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AttachFoundItem(context.Background(), report.ID, nil)
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	successes, unavailable := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, reconcile.ErrFoundItemUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || unavailable != 1 {
		t.Fatalf("expected one success and one unavailable, got %d/%d", successes, unavailable)
	}
	all, err := st.Reports().List(context.Background(), store.ReportFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected zero copies of the report, got %d", len(all))
	}
}

func TestAttachRejectsInvalidID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	svc := reconcile.NewService(st.Reports(), nil)
	if _, err := svc.AttachFoundItem(context.Background(), 0, nil); !errors.Is(err, reconcile.ErrFoundItemUnavailable) {
		t.Fatalf("expected unavailable for id 0, got %v", err)
	}
}
