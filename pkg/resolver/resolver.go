// Package resolver turns an image version specifier into a downloadable
// asset. "latest" is resolved by scraping the remote directory index for
// date-stamped version folders; the asset file name is extracted from the
// version folder listing by pattern match. No structured API is assumed.
package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/raspi-ops/sdflash/pkg/errors"
)

// VersionLatest is the sentinel version specifier.
const VersionLatest = "latest"

var (
	// ErrNoVersions is returned when the index yields no version folders.
	ErrNoVersions = fmt.Errorf("no image versions found in remote index")
	// ErrAssetNotFound is returned when a resolved version folder contains
	// no file matching the image naming convention.
	ErrAssetNotFound = fmt.Errorf("no image asset found for version")
)

// Asset describes a resolved, downloadable image artifact. It is created by
// Resolve and read-only downstream.
type Asset struct {
	Version  string
	URL      string
	FileName string
}

// SidecarURL is the location of the plain-text digest file published next to
// the compressed artifact.
func (a *Asset) SidecarURL() string {
	return a.URL + ".sha256"
}

var (
	versionDirPattern = regexp.MustCompile(`raspios[\w-]*-(\d{4}-\d{2}-\d{2})/`)
	imageFilePattern  = regexp.MustCompile(`[\w.-]*raspios[\w.-]*\.img\.xz`)
	versionPattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Resolver queries a remote HTTP(S) directory index for image versions.
type Resolver struct {
	client   *http.Client
	indexURL string
}

// New creates a resolver against the given index base URL.
func New(client *http.Client, indexURL string) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{client: client, indexURL: strings.TrimRight(indexURL, "/") + "/"}
}

// Resolve turns a version specifier into an Asset. The specifier is either
// VersionLatest or an explicit YYYY-MM-DD version.
func (r *Resolver) Resolve(ctx context.Context, spec string) (*Asset, error) {
	version := spec
	if spec == VersionLatest {
		var err error
		version, err = r.latestVersion(ctx)
		if err != nil {
			return nil, err
		}
	} else if !versionPattern.MatchString(spec) {
		return nil, fmt.Errorf("invalid version %q: want %q or YYYY-MM-DD", spec, VersionLatest)
	}

	slog.Info("resolve_version", "spec", spec, "version", version)

	dirURL, fileName, err := r.assetFileName(ctx, version)
	if err != nil {
		return nil, err
	}

	asset := &Asset{
		Version:  version,
		URL:      dirURL + fileName,
		FileName: fileName,
	}
	slog.Info("resolve_complete", "version", version, "file", fileName, "url", asset.URL)
	return asset, nil
}

// latestVersion scrapes the index for date-stamped version folders and picks
// the lexicographically greatest one. YYYY-MM-DD sorts correctly as strings.
func (r *Resolver) latestVersion(ctx context.Context) (string, error) {
	body, err := r.get(ctx, r.indexURL)
	if err != nil {
		return "", errors.Wrap(err, "remote index unreachable")
	}

	matches := versionDirPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		slog.Error("resolve_no_versions", "index_url", r.indexURL)
		return "", ErrNoVersions
	}

	versions := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			versions = append(versions, m[1])
		}
	}
	sort.Strings(versions)

	latest := versions[len(versions)-1]
	slog.Info("resolve_latest", "versions_found", len(versions), "latest", latest)
	return latest, nil
}

// assetFileName lists the version folder and extracts the single compressed
// image file name.
func (r *Resolver) assetFileName(ctx context.Context, version string) (string, string, error) {
	body, err := r.get(ctx, r.indexURL)
	if err != nil {
		return "", "", errors.Wrap(err, "remote index unreachable")
	}

	// Find the directory entry for this version in the index; the folder
	// prefix varies across image flavors so it is recovered from the listing.
	var dirName string
	for _, m := range versionDirPattern.FindAllStringSubmatch(body, -1) {
		if m[1] == version {
			dirName = strings.TrimSuffix(m[0], "/")
			break
		}
	}
	if dirName == "" {
		slog.Error("resolve_version_missing", "version", version)
		return "", "", fmt.Errorf("%w: version %s not in index", ErrNoVersions, version)
	}

	dirURL := r.indexURL + dirName + "/"
	listing, err := r.get(ctx, dirURL)
	if err != nil {
		return "", "", errors.Wrapf(err, "version listing unreachable for %s", version)
	}

	fileName := imageFilePattern.FindString(listing)
	if fileName == "" {
		slog.Error("resolve_asset_missing", "version", version, "dir_url", dirURL)
		return "", "", fmt.Errorf("%w %s", ErrAssetNotFound, version)
	}
	return dirURL, fileName, nil
}

func (r *Resolver) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
