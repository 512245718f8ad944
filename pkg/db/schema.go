package db

// Schema defines the SQLite schema for the provenance ledger: one row per
// image release the pipeline has handled, one row per flash attempt. The
// ledger records history; trust decisions about cached bytes are always made
// by re-hashing the files themselves.
const Schema = `
CREATE TABLE IF NOT EXISTS images (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version TEXT NOT NULL UNIQUE,
    url TEXT NOT NULL,
    sha256 TEXT,
    compressed_path TEXT,
    image_path TEXT,
    status TEXT NOT NULL CHECK(status IN ('pending', 'downloading', 'verified', 'ready', 'failed')),
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_images_version ON images(version);
CREATE INDEX IF NOT EXISTS idx_images_status ON images(status);
CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at);

CREATE TABLE IF NOT EXISTS flashes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    image_version TEXT NOT NULL,
    device TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('started', 'written', 'verified', 'aborted', 'failed')),
    boot_mount TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_flashes_created_at ON flashes(created_at);
`

// Image status constants
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusVerified    = "verified"
	StatusReady       = "ready"
	StatusFailed      = "failed"
)

// Flash status constants
const (
	FlashStarted  = "started"
	FlashWritten  = "written"
	FlashVerified = "verified"
	FlashAborted  = "aborted"
	FlashFailed   = "failed"
)

// Image is one ledger row for an image release.
type Image struct {
	ID             int64
	Version        string
	URL            string
	SHA256         string
	CompressedPath string
	ImagePath      string
	Status         string
	ErrorMessage   string
	CreatedAt      string
	UpdatedAt      string
}

// Flash is one ledger row for a flash attempt.
type Flash struct {
	ID           int64
	ImageVersion string
	Device       string
	Status       string
	BootMount    string
	ErrorMessage string
	CreatedAt    string
}
