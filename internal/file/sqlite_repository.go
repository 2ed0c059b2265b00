package file

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// SQLRepository is the database/sql ledger implementation. It works against
// sqlite3 (default) and postgres; the schema lives in files/migrations.
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const fileColumns = `id, owner_id, original_name, stored_name, category, content_type, detected_type,
	checksum, size_bytes, storage_path, public_url, status, is_public, uploaded_at, metadata`

func (r *SQLRepository) Save(rec *FileRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO files (` + fileColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.db.Exec(query,
		rec.ID,
		rec.OwnerID,
		rec.OriginalName,
		rec.StoredName,
		string(rec.Category),
		rec.ContentType,
		rec.DetectedType,
		rec.Checksum,
		rec.SizeBytes,
		rec.StoragePath,
		rec.PublicURL,
		string(rec.Status),
		rec.IsPublic,
		rec.UploadedAt,
		string(metadata),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateChecksum
		}
		return err
	}
	return nil
}

func (r *SQLRepository) GetByID(id string) (*FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	return r.scanOne(r.db.QueryRow(query, id))
}

func (r *SQLRepository) FindByChecksum(checksum string) (*FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE checksum = $1 AND status = $2`
	return r.scanOne(r.db.QueryRow(query, checksum, string(StatusReady)))
}

func (r *SQLRepository) ListByOwner(ownerID string, filter ListFilter) ([]*FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner_id = $1 AND status != $2`
	args := []interface{}{ownerID, string(StatusDeleted)}

	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY uploaded_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.scanMany(query, args...)
}

func (r *SQLRepository) ListRecent(limit int) ([]*FileRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	query := `SELECT ` + fileColumns + ` FROM files WHERE status = $1 ORDER BY uploaded_at DESC LIMIT $2`
	return r.scanMany(query, string(StatusReady), limit)
}

func (r *SQLRepository) ListByStatus(status Status) ([]*FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE status = $1 ORDER BY uploaded_at ASC`
	return r.scanMany(query, string(status))
}

// UpdateStatus flips the lifecycle state. Promoting to ready can trip the
// partial unique index when a concurrent upload of identical content won.
func (r *SQLRepository) UpdateStatus(id string, status Status) error {
	err := r.execWithRowCheck(`UPDATE files SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil && err != ErrNotFound && isUniqueViolation(err) {
		return ErrDuplicateChecksum
	}
	return err
}

func (r *SQLRepository) SaveVariant(v *VariantRecord) error {
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal variant metadata: %w", err)
	}

	query := `INSERT INTO file_variants (file_id, kind, path, url, size_bytes, mime_type, metadata, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.Exec(query, v.FileID, v.Kind, v.Path, v.URL, v.SizeBytes, v.MimeType, string(metadata), v.CreatedAt)
	return err
}

func (r *SQLRepository) VariantsByFileID(fileID string) ([]*VariantRecord, error) {
	query := `SELECT file_id, kind, path, url, size_bytes, mime_type, metadata, created_at
			  FROM file_variants WHERE file_id = $1 ORDER BY kind`

	rows, err := r.db.Query(query, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []*VariantRecord
	for rows.Next() {
		v := &VariantRecord{}
		var metadata string
		if err := rows.Scan(&v.FileID, &v.Kind, &v.Path, &v.URL, &v.SizeBytes, &v.MimeType, &metadata, &v.CreatedAt); err != nil {
			return nil, err
		}
		if metadata != "" && metadata != "null" {
			json.Unmarshal([]byte(metadata), &v.Metadata)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// MarkDeleted flips the parent status inside a transaction; variant rows stay
// (they are removed with the parent by HardDelete) but the cascade is logical:
// a deleted parent makes its variants unreachable.
func (r *SQLRepository) MarkDeleted(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE files SET status = $1 WHERE id = $2 AND status != $1`, string(StatusDeleted), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (r *SQLRepository) ListDeletedBefore(cutoff int64) ([]*FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE status = $1 AND uploaded_at < $2`
	records, err := r.scanMany(query, string(StatusDeleted), cutoff)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		rec.Variants, err = r.VariantsByFileID(rec.ID)
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (r *SQLRepository) HardDelete(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM file_variants WHERE file_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRepository) CountByStatus() (map[Status]int64, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM files GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

func (r *SQLRepository) CountByCategory() (map[string]int64, error) {
	rows, err := r.db.Query(`SELECT category, COUNT(*) FROM files WHERE status = $1 GROUP BY category`, string(StatusReady))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		counts[category] = count
	}
	return counts, rows.Err()
}

func (r *SQLRepository) TotalUsedBytes() (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0) FROM files WHERE status != $1`, string(StatusDeleted)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

func (r *SQLRepository) KnownStoragePaths() (map[string]bool, error) {
	paths := make(map[string]bool)

	rows, err := r.db.Query(`SELECT storage_path FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := r.db.Query(`SELECT path FROM file_variants`)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()
	for vrows.Next() {
		var p string
		if err := vrows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = true
	}
	return paths, vrows.Err()
}

func (r *SQLRepository) scanOne(row *sql.Row) (*FileRecord, error) {
	rec := &FileRecord{}
	var category, status, metadata string

	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.OriginalName,
		&rec.StoredName,
		&category,
		&rec.ContentType,
		&rec.DetectedType,
		&rec.Checksum,
		&rec.SizeBytes,
		&rec.StoragePath,
		&rec.PublicURL,
		&status,
		&rec.IsPublic,
		&rec.UploadedAt,
		&metadata,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Category = categoryFromString(category)
	rec.Status = Status(status)
	if metadata != "" && metadata != "null" {
		json.Unmarshal([]byte(metadata), &rec.Metadata)
	}
	return rec, nil
}

func (r *SQLRepository) scanMany(query string, args ...interface{}) ([]*FileRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec := &FileRecord{}
		var category, status, metadata string
		err := rows.Scan(
			&rec.ID,
			&rec.OwnerID,
			&rec.OriginalName,
			&rec.StoredName,
			&category,
			&rec.ContentType,
			&rec.DetectedType,
			&rec.Checksum,
			&rec.SizeBytes,
			&rec.StoragePath,
			&rec.PublicURL,
			&status,
			&rec.IsPublic,
			&rec.UploadedAt,
			&metadata,
		)
		if err != nil {
			return nil, err
		}
		rec.Category = categoryFromString(category)
		rec.Status = Status(status)
		if metadata != "" && metadata != "null" {
			json.Unmarshal([]byte(metadata), &rec.Metadata)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SQLRepository) execWithRowCheck(query string, args ...interface{}) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite3
		strings.Contains(msg, "duplicate key value") // postgres
}
