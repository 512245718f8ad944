package fsm

// AcquireRequest is the image acquisition FSM input
type AcquireRequest struct {
	// Version is a release date like "2024-07-04", or "latest"
	Version string
}

// AcquireResponse is the acquisition FSM output (accumulated across transitions)
type AcquireResponse struct {
	// From Resolve
	Version  string
	URL      string
	FileName string

	// From CheckCache
	ImageID        int64
	CacheHit       bool
	ArtifactCached bool

	// From Download / Verify
	SHA256         string
	CompressedPath string
	DownloadSize   int64

	// From Extract
	ImagePath string

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// FlashRequest is the card flashing FSM input
type FlashRequest struct {
	ImagePath    string
	ImageVersion string
	Device       string
}

// FlashResponse is the flashing FSM output (accumulated across transitions)
type FlashResponse struct {
	// From Inventory/Validate
	FlashID   int64
	SizeBytes uint64

	// From Write
	BytesWritten int64

	// From WaitMount
	BootMount string

	// From VerifyBoot
	MissingMarkers []string

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// Acquisition state names
const (
	StateResolve    = "resolve"
	StateCheckCache = "check_cache"
	StatePrecheck   = "precheck"
	StateDownload   = "download"
	StateVerify     = "verify"
	StateExtract    = "extract"
	StateComplete   = "complete"
	StateFailed     = "failed"
)

// Flash state names
const (
	StateInventory  = "inventory"
	StateValidate   = "validate"
	StateConfirm    = "confirm"
	StateWrite      = "write"
	StateWaitMount  = "wait_mount"
	StateVerifyBoot = "verify_boot"
)
