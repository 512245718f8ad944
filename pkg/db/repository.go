package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/raspi-ops/sdflash/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides ledger operations for images and flash attempts
type Repository struct {
	db *sql.DB
}

// NewRepository opens the ledger database, creating the schema if needed
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("ledger_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("ledger_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("ledger_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("ledger_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateImage inserts a new image record
func (r *Repository) CreateImage(img *Image) error {
	slog.Info("ledger_create_image", "version", img.Version, "status", img.Status)

	query := `
		INSERT INTO images (version, url, sha256, compressed_path, image_path, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		img.Version, img.URL, img.SHA256,
		img.CompressedPath, img.ImagePath, img.Status, img.ErrorMessage)
	if err != nil {
		slog.Error("ledger_insert_failed", "version", img.Version, "error", err)
		return errors.Wrap(err, "failed to insert image")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	img.ID = id

	slog.Info("ledger_image_created", "version", img.Version, "image_id", img.ID)
	return nil
}

// GetImage retrieves an image by version. Returns nil when no row exists.
func (r *Repository) GetImage(version string) (*Image, error) {
	query := `
		SELECT id, version, url, sha256, compressed_path, image_path,
		       status, error_message, created_at, updated_at
		FROM images WHERE version = ?
	`
	img, err := scanImage(r.db.QueryRow(query, version))
	if err == sql.ErrNoRows {
		slog.Info("ledger_image_not_found", "version", version)
		return nil, nil
	}
	if err != nil {
		slog.Error("ledger_query_failed", "version", version, "error", err)
		return nil, errors.Wrap(err, "failed to query image")
	}
	return img, nil
}

// UpdateImage updates an existing image record
func (r *Repository) UpdateImage(img *Image) error {
	slog.Info("ledger_update_image", "image_id", img.ID, "version", img.Version, "status", img.Status)

	query := `
		UPDATE images
		SET url = ?, sha256 = ?, compressed_path = ?, image_path = ?,
		    status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		img.URL, img.SHA256, img.CompressedPath, img.ImagePath,
		img.Status, img.ErrorMessage, img.ID)
	if err != nil {
		slog.Error("ledger_update_failed", "image_id", img.ID, "error", err)
		return errors.Wrap(err, "failed to update image")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("image not found: id=%d", img.ID)
	}
	return nil
}

// UpdateImageStatus updates only the status and error message
func (r *Repository) UpdateImageStatus(id int64, status, errorMessage string) error {
	query := `UPDATE images SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, status, errorMessage, id); err != nil {
		slog.Error("ledger_status_update_failed", "image_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	slog.Info("ledger_status_updated", "image_id", id, "status", status)
	return nil
}

// ListImages retrieves all image records, newest first
func (r *Repository) ListImages() ([]*Image, error) {
	query := `
		SELECT id, version, url, sha256, compressed_path, image_path,
		       status, error_message, created_at, updated_at
		FROM images ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list images")
	}
	defer rows.Close()

	var images []*Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return images, nil
}

// DeleteImage deletes an image record by ID
func (r *Repository) DeleteImage(id int64) error {
	slog.Info("ledger_delete_image", "image_id", id)
	if _, err := r.db.Exec(`DELETE FROM images WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete image")
	}
	return nil
}

// RecordFlash inserts a flash attempt
func (r *Repository) RecordFlash(f *Flash) error {
	slog.Info("ledger_record_flash", "version", f.ImageVersion, "device", f.Device, "status", f.Status)

	query := `
		INSERT INTO flashes (image_version, device, status, boot_mount, error_message)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query, f.ImageVersion, f.Device, f.Status, f.BootMount, f.ErrorMessage)
	if err != nil {
		slog.Error("ledger_flash_insert_failed", "device", f.Device, "error", err)
		return errors.Wrap(err, "failed to insert flash record")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	f.ID = id
	return nil
}

// UpdateFlash updates the status, boot mount and error of a flash attempt
func (r *Repository) UpdateFlash(id int64, status, bootMount, errorMessage string) error {
	query := `UPDATE flashes SET status = ?, boot_mount = ?, error_message = ? WHERE id = ?`
	if _, err := r.db.Exec(query, status, bootMount, errorMessage, id); err != nil {
		slog.Error("ledger_flash_update_failed", "flash_id", id, "error", err)
		return errors.Wrap(err, "failed to update flash record")
	}
	return nil
}

// ListFlashes retrieves all flash attempts, newest first
func (r *Repository) ListFlashes() ([]*Flash, error) {
	query := `
		SELECT id, image_version, device, status, boot_mount, error_message, created_at
		FROM flashes ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list flashes")
	}
	defer rows.Close()

	var flashes []*Flash
	for rows.Next() {
		var f Flash
		var bootMount, errorMessage sql.NullString
		err := rows.Scan(&f.ID, &f.ImageVersion, &f.Device, &f.Status,
			&bootMount, &errorMessage, &f.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		f.BootMount = bootMount.String
		f.ErrorMessage = errorMessage.String
		flashes = append(flashes, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return flashes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*Image, error) {
	var img Image
	var sha, compressedPath, imagePath, errorMessage sql.NullString

	err := row.Scan(&img.ID, &img.Version, &img.URL, &sha,
		&compressedPath, &imagePath, &img.Status, &errorMessage,
		&img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}

	img.SHA256 = sha.String
	img.CompressedPath = compressedPath.String
	img.ImagePath = imagePath.String
	img.ErrorMessage = errorMessage.String
	return &img, nil
}
