package repo

import (
	"context"
	"database/sql"

	"taskquest/internal/domain"
)

const profileColumns = `id, identity_id, nickname, balance, selected_item, created_at, updated_at`

func scanProfile(s rowScanner) (domain.Profile, error) {
	var p domain.Profile
	var selected sql.NullString
	err := s.Scan(&p.ID, &p.IdentityID, &p.Nickname, &p.Balance, &selected, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.SelectedItem = stringPtr(selected)
	p.PurchasedItems = []string{}
	return p, nil
}

// InsertProfile stores a new profile. A second profile for the same identity
// fails with ErrDuplicate.
func (r Repo) InsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO profiles(id, identity_id, nickname, balance, selected_item, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.IdentityID, p.Nickname, p.Balance, nullableStringPtr(p.SelectedItem), p.CreatedAt, p.UpdatedAt)
	return duplicateOr(err, "insert profile")
}

func (r Repo) GetProfileByIdentity(ctx context.Context, tx *sql.Tx, identityID string) (domain.Profile, error) {
	p, err := scanProfile(r.on(tx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE identity_id=?`, identityID))
	if err != nil {
		return p, err
	}
	p.PurchasedItems, err = r.ListPurchased(ctx, tx, p.ID)
	return p, err
}

func (r Repo) GetProfile(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	p, err := scanProfile(r.on(tx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	p.PurchasedItems, err = r.ListPurchased(ctx, tx, p.ID)
	return p, err
}

func (r Repo) ListPurchased(ctx context.Context, tx *sql.Tx, profileID string) ([]string, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT image_ref FROM profile_entitlements WHERE profile_id=? ORDER BY purchased_at ASC, rowid ASC`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := []string{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// CreditProfile adds amount to the balance of the identity's profile. ok is
// false when the identity has no profile.
func (r Repo) CreditProfile(ctx context.Context, tx *sql.Tx, identityID string, amount int64, now string) (balance int64, ok bool, err error) {
	err = r.on(tx).QueryRowContext(ctx, `UPDATE profiles SET balance = balance + ?, updated_at=? WHERE identity_id=? RETURNING balance`,
		amount, now, identityID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

// DebitProfile subtracts amount only when the balance covers it. ok is false
// when it does not (or the profile is gone).
func (r Repo) DebitProfile(ctx context.Context, tx *sql.Tx, profileID string, amount int64, now string) (balance int64, ok bool, err error) {
	err = r.on(tx).QueryRowContext(ctx, `UPDATE profiles SET balance = balance - ?, updated_at=? WHERE id=? AND balance >= ? RETURNING balance`,
		amount, now, profileID, amount).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (r Repo) SetSelectedItem(ctx context.Context, tx *sql.Tx, profileID string, imageRef *string, now string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE profiles SET selected_item=?, updated_at=? WHERE id=?`, nullableStringPtr(imageRef), now, profileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddEntitlement grows the purchased set. Re-adding an owned ref is a no-op.
func (r Repo) AddEntitlement(ctx context.Context, tx *sql.Tx, profileID, imageRef, now string) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO profile_entitlements(profile_id, image_ref, purchased_at) VALUES (?,?,?)`, profileID, imageRef, now)
	return err
}

// TopProfiles returns profiles by balance descending; ties keep insertion order.
func (r Repo) TopProfiles(ctx context.Context, tx *sql.Tx, limit int) ([]domain.Profile, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY balance DESC, seq ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// BackfillBalances sets the balance of untouched profiles (zero balance, no
// purchases) to their completion count. Returns the number of profiles updated.
func (r Repo) BackfillBalances(ctx context.Context, tx *sql.Tx, now string) (int64, error) {
	res, err := r.on(tx).ExecContext(ctx, `
UPDATE profiles
SET balance = (SELECT COUNT(*) FROM task_completions c WHERE c.identity_id = profiles.identity_id), updated_at = ?
WHERE balance = 0
  AND NOT EXISTS (SELECT 1 FROM profile_entitlements e WHERE e.profile_id = profiles.id)
  AND EXISTS (SELECT 1 FROM task_completions c WHERE c.identity_id = profiles.identity_id)`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
