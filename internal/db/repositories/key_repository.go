// key_repository.go implements KeyRepository, providing database queries for
// OpenPGP key records: creation, fingerprint suffix lookup, relationship
// queries by grip, and the write-once persistence of derived metadata.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/riboseinc/keyserver/internal/db/models"
)

// KeyRepository handles database operations for key records
type KeyRepository struct {
	db *sqlx.DB
}

// NewKeyRepository creates a new key repository
func NewKeyRepository(db *sqlx.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

const keyColumns = `id, type, owner_id, owner_type, public, encrypted_secret,
	activation_date, expiration_date, fingerprint, grip, primary_key_grip,
	metadata, created_at`

// CreateKey inserts a new key record
func (r *KeyRepository) CreateKey(ctx context.Context, key *models.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return r.insertKey(ctx, r.db, key)
}

// CreateKeyPair inserts a primary key record and its subkey record in a
// single transaction. Either both rows are persisted or neither is.
func (r *KeyRepository) CreateKeyPair(ctx context.Context, primary, sub *models.Key) error {
	if err := primary.Validate(); err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := r.insertKey(ctx, tx, primary); err != nil {
		return err
	}
	if err := r.insertKey(ctx, tx, sub); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit key pair: %w", err)
	}
	return nil
}

// CreateKeys inserts a batch of key records in a single transaction, as
// produced by importing combined key material. Either all rows are persisted
// or none are.
func (r *KeyRepository) CreateKeys(ctx context.Context, keys []*models.Key) error {
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, key := range keys {
		if err := r.insertKey(ctx, tx, key); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit keys: %w", err)
	}
	return nil
}

// queryRower is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *KeyRepository) insertKey(ctx context.Context, q queryRower, key *models.Key) error {
	query := `
		INSERT INTO keys (type, owner_id, owner_type, public, encrypted_secret,
			activation_date, expiration_date, fingerprint, grip, primary_key_grip, metadata)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), $7, $8, $9, $10, COALESCE($11, '{}'::jsonb))
		RETURNING id, activation_date, created_at
	`

	var activation interface{}
	if !key.ActivationDate.IsZero() {
		activation = key.ActivationDate
	}
	var metadata interface{}
	if len(key.Metadata) > 0 {
		metadata = []byte(key.Metadata)
	}

	err := q.QueryRowContext(ctx, query,
		key.Type,
		key.OwnerID,
		key.OwnerType,
		key.Public,
		key.EncryptedSecret,
		activation,
		key.ExpirationDate,
		key.Fingerprint,
		key.Grip,
		key.PrimaryKeyGrip,
		metadata,
	).Scan(&key.ID, &key.ActivationDate, &key.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}
	return nil
}

// GetByID retrieves a key record by its UUID
func (r *KeyRepository) GetByID(ctx context.Context, id string) (*models.Key, error) {
	var key models.Key
	query := `SELECT ` + keyColumns + ` FROM keys WHERE id = $1`
	err := r.db.GetContext(ctx, &key, query, id)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return &key, nil
}

// GetByGrip retrieves a key record by its grip
func (r *KeyRepository) GetByGrip(ctx context.Context, grip string) (*models.Key, error) {
	var key models.Key
	query := `SELECT ` + keyColumns + ` FROM keys WHERE grip = $1`
	err := r.db.GetContext(ctx, &key, query, grip)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key by grip: %w", err)
	}
	return &key, nil
}

// FindByFingerprintSuffix returns keys whose fingerprint ends with the given
// uppercase-hex suffix. Suffix length policy (minimum 16 characters) is
// enforced by the key service, not here. When primaryOnly is set, subkey
// records are excluded.
func (r *KeyRepository) FindByFingerprintSuffix(ctx context.Context, suffix string, primaryOnly bool) ([]*models.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM keys WHERE fingerprint LIKE '%' || $1`
	if primaryOnly {
		query += ` AND primary_key_grip = ''`
	}
	query += ` ORDER BY created_at ASC`

	var keys []*models.Key
	if err := r.db.SelectContext(ctx, &keys, query, suffix); err != nil {
		return nil, fmt.Errorf("failed to find keys by fingerprint suffix: %w", err)
	}
	return keys, nil
}

// ListFilter narrows primary key listings by activation date range. Nil
// bounds are open. Expired selects keys past their expiration date when
// true, and non-expiring or not-yet-expired keys when false.
type ListFilter struct {
	ActivatedAfter  *time.Time
	ActivatedBefore *time.Time
	Expired         *bool
}

// ListPrimary returns all primary key records (blank primary key grip),
// optionally filtered by activation date range, ordered by activation date.
func (r *KeyRepository) ListPrimary(ctx context.Context, filter ListFilter) ([]*models.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM keys WHERE primary_key_grip = ''`
	args := []interface{}{}

	if filter.ActivatedAfter != nil {
		args = append(args, *filter.ActivatedAfter)
		query += fmt.Sprintf(" AND activation_date >= $%d", len(args))
	}
	if filter.ActivatedBefore != nil {
		args = append(args, *filter.ActivatedBefore)
		query += fmt.Sprintf(" AND activation_date <= $%d", len(args))
	}
	if filter.Expired != nil {
		if *filter.Expired {
			query += ` AND expiration_date IS NOT NULL AND expiration_date < NOW()`
		} else {
			query += ` AND (expiration_date IS NULL OR expiration_date >= NOW())`
		}
	}
	query += ` ORDER BY activation_date ASC`

	var keys []*models.Key
	if err := r.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list primary keys: %w", err)
	}
	return keys, nil
}

// SubkeysByPrimaryGrip returns the subkey records bound to the primary key
// with the given grip.
func (r *KeyRepository) SubkeysByPrimaryGrip(ctx context.Context, grip string) ([]*models.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM keys WHERE primary_key_grip = $1 ORDER BY created_at ASC`

	var keys []*models.Key
	if err := r.db.SelectContext(ctx, &keys, query, grip); err != nil {
		return nil, fmt.Errorf("failed to list subkeys: %w", err)
	}
	return keys, nil
}

// FirstActivatedKeyID returns the ID of the owner's earliest-activated
// primary key, or "" when the owner has none. The earliest key is the
// owner's current key under the insertion-order rotation rule. Nil owner
// fields select among the ownerless keys, which rotate as one pool.
func (r *KeyRepository) FirstActivatedKeyID(ctx context.Context, ownerType, ownerID *string) (string, error) {
	query := `SELECT id FROM keys WHERE primary_key_grip = ''`
	args := []interface{}{}
	if ownerType != nil && ownerID != nil {
		args = append(args, *ownerType, *ownerID)
		query += ` AND owner_type = $1 AND owner_id = $2`
	} else {
		query += ` AND owner_type IS NULL AND owner_id IS NULL`
	}
	query += ` ORDER BY activation_date ASC, created_at ASC LIMIT 1`

	var id string
	err := r.db.GetContext(ctx, &id, query, args...)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get first activated key: %w", err)
	}
	return id, nil
}

// SetDerivedFields persists the derived metadata document and identity
// columns for a key record. The update is guarded so it only applies while
// the record's metadata is still empty: derivation is write-once, and a
// concurrent or repeated derivation becomes a no-op. A fingerprint that was
// independently pre-seeded on the row is preserved.
//
// Returns true when the row transitioned from Raw to Derived, false when the
// guard rejected the write (already derived, or record missing).
func (r *KeyRepository) SetDerivedFields(ctx context.Context, key *models.Key) (bool, error) {
	query := `
		UPDATE keys
		SET metadata = $2,
			grip = $3,
			primary_key_grip = $4,
			expiration_date = $5,
			fingerprint = COALESCE(NULLIF(fingerprint, ''), $6)
		WHERE id = $1 AND metadata = '{}'::jsonb
	`

	result, err := r.db.ExecContext(ctx, query,
		key.ID,
		[]byte(key.Metadata),
		key.Grip,
		key.PrimaryKeyGrip,
		key.ExpirationDate,
		key.Fingerprint,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set derived fields: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return rows == 1, nil
}

// DeleteKey removes a key record by ID. Returns true when a row was deleted.
func (r *KeyRepository) DeleteKey(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM keys WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return rows == 1, nil
}
