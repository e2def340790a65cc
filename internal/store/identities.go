package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lostfound/internal/items"
	"lostfound/internal/services"
)

// Identity is a registered student or staff member.
type Identity struct {
	ID        int64              `json:"id"`
	Number    string             `json:"number"`
	Name      string             `json:"name"`
	Type      items.ReporterType `json:"type"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Identities is the typed repository for the identity registry.
type Identities struct {
	store *Store
}

// Register adds an identity. Numbers are unique across students and staff.
func (r *Identities) Register(ctx context.Context, number, name string, kind items.ReporterType) (Identity, error) {
	number = strings.TrimSpace(number)
	name = strings.TrimSpace(name)
	if number == "" {
		return Identity{}, fmt.Errorf("%w: identity number is required", services.ErrValidation)
	}
	if name == "" {
		return Identity{}, fmt.Errorf("%w: identity name is required", services.ErrValidation)
	}
	if _, err := items.ParseReporterType(string(kind)); err != nil {
		return Identity{}, err
	}

	identity := Identity{Number: number, Name: name, Type: kind, CreatedAt: time.Now().UTC()}
	res, err := r.store.execWithRetry(ctx,
		"INSERT INTO identities (number, name, type, created_at) VALUES (?, ?, ?, ?)",
		identity.Number, identity.Name, string(identity.Type), formatTime(identity.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Identity{}, fmt.Errorf("%w: %s", ErrIdentityExists, number)
		}
		return Identity{}, classify(err, "register identity")
	}
	identity.ID, err = res.LastInsertId()
	if err != nil {
		return Identity{}, classify(err, "register identity")
	}
	return identity, nil
}

// Lookup returns the identity registered under number.
func (r *Identities) Lookup(ctx context.Context, number string) (Identity, error) {
	ctx = ensureContext(ctx)
	row := r.store.db.QueryRowContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE number = ?", strings.TrimSpace(number))
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return Identity{}, classify(err, "lookup identity")
	}
	return identity, nil
}

// IsRegistered reports whether number belongs to a registered identity.
func (r *Identities) IsRegistered(ctx context.Context, number string) (bool, error) {
	if strings.TrimSpace(number) == "" {
		return false, nil
	}
	_, err := r.Lookup(ctx, number)
	if errors.Is(err, ErrIdentityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns identities ordered by number, optionally restricted to one type.
func (r *Identities) List(ctx context.Context, kind items.ReporterType) ([]Identity, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = r.store.db.QueryContext(ctx, "SELECT "+identityColumns+" FROM identities ORDER BY number")
	} else {
		rows, err = r.store.db.QueryContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE type = ? ORDER BY number", string(kind))
	}
	if err != nil {
		return nil, classify(err, "list identities")
	}
	defer rows.Close()

	identities := make([]Identity, 0)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, classify(err, "scan identity")
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list identities")
	}
	return identities, nil
}

// Delete removes the identity registered under number. Reports already filed
// by that identity are kept.
func (r *Identities) Delete(ctx context.Context, number string) error {
	res, err := r.store.execWithRetry(ctx, "DELETE FROM identities WHERE number = ?", strings.TrimSpace(number))
	if err != nil {
		return classify(err, "delete identity")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrIdentityNotFound
	}
	return nil
}
