package testsupport

import (
	"context"
	"testing"

	"lostfound/internal/config"
	"lostfound/internal/items"
	"lostfound/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustRegister adds an identity to the registry.
func MustRegister(t testing.TB, st *store.Store, number string, kind items.ReporterType) store.Identity {
	t.Helper()

	identity, err := st.Identities().Register(context.Background(), number, "Test "+number, kind)
	if err != nil {
		t.Fatalf("register %s: %v", number, err)
	}
	return identity
}

// MustReportFound files a FOUND report owned by number.
func MustReportFound(t testing.TB, st *store.Store, number string, category items.Category, description string) store.Report {
	t.Helper()

	report, err := st.Reports().Create(context.Background(), store.NewReport{
		OwnerID:     number,
		Kind:        items.KindFound,
		Category:    category,
		Description: description,
	})
	if err != nil {
		t.Fatalf("create found report: %v", err)
	}
	return report
}
