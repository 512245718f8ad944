package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/superfly/fsm"

	"github.com/raspi-ops/sdflash/pkg/checksum"
	"github.com/raspi-ops/sdflash/pkg/db"
	"github.com/raspi-ops/sdflash/pkg/errors"
	"github.com/raspi-ops/sdflash/pkg/extract"
	"github.com/raspi-ops/sdflash/pkg/resolver"
)

// handleResolve resolves the requested version to a concrete artifact URL
func (m *Machine) handleResolve(ctx context.Context, req *fsm.Request[AcquireRequest, AcquireResponse]) (*fsm.Response[AcquireResponse], error) {
	slog.Info("fsm_state_resolve", "version", req.Msg.Version)

	if err := m.checkRetries(ctx, StateResolve); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &AcquireResponse{}
	}

	// An explicit release already decompressed in the cache needs no
	// network at all; only "latest" has to ask a remote what it means.
	version := req.Msg.Version
	if version != "" && version != resolver.VersionLatest && m.cache.HasImage(version) {
		resp.Version = version
		resp.CacheHit = true
		resp.ImagePath = m.cache.ImagePath(version)
		slog.Info("cache_hit_image", "version", version, "image_path", resp.ImagePath)
		return fsm.NewResponse(resp), nil
	}

	if m.mirror != nil {
		if err := m.resolveFromMirror(ctx, version, resp); err == nil {
			return fsm.NewResponse(resp), nil
		} else {
			slog.Warn("mirror_resolve_failed", "version", version, "error", err)
		}
	}

	asset, err := m.resolver.Resolve(ctx, version)
	if err != nil {
		slog.Error("resolve_failed", "version", version, "error", err)
		return nil, errors.Wrap(err, "failed to resolve image version")
	}

	resp.Version = asset.Version
	resp.URL = asset.URL
	resp.FileName = asset.FileName

	slog.Info("resolve_complete", "version", asset.Version, "url", asset.URL)
	return fsm.NewResponse(resp), nil
}

// resolveFromMirror answers the version specifier from the S3 mirror,
// listing date-stamped keys for "latest" and locating the image object.
func (m *Machine) resolveFromMirror(ctx context.Context, version string, resp *AcquireResponse) error {
	if version == "" || version == resolver.VersionLatest {
		versions, err := m.mirror.ListVersions(ctx)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return fmt.Errorf("mirror holds no versions")
		}
		version = versions[len(versions)-1]
	}

	filename, err := m.mirror.FindImage(ctx, version)
	if err != nil {
		return err
	}

	resp.Version = version
	resp.FileName = filename
	resp.URL = m.mirror.ObjectURL(version, filename)
	slog.Info("resolve_complete", "version", version, "url", resp.URL)
	return nil
}

// handleCheckCache consults the cache and the ledger before any network work.
// A verified decompressed image short-circuits the rest of the pipeline; a
// cached compressed artifact skips the download but is re-verified.
func (m *Machine) handleCheckCache(ctx context.Context, req *fsm.Request[AcquireRequest, AcquireResponse]) (*fsm.Response[AcquireResponse], error) {
	slog.Info("fsm_state_check_cache", "version", req.Msg.Version)

	if err := m.checkRetries(ctx, StateCheckCache); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	img, err := m.repo.GetImage(resp.Version)
	if err != nil {
		return nil, fsm.Abort(errors.Wrap(err, "ledger error"))
	}
	if img == nil {
		img = &db.Image{
			Version: resp.Version,
			URL:     resp.URL,
			Status:  db.StatusPending,
		}
		if err := m.repo.CreateImage(img); err != nil {
			return nil, errors.Wrap(err, "failed to create ledger record")
		}
	}
	resp.ImageID = img.ID

	if m.cache.HasImage(resp.Version) {
		resp.CacheHit = true
		resp.ImagePath = m.cache.ImagePath(resp.Version)
		slog.Info("cache_hit_image", "version", resp.Version, "image_path", resp.ImagePath)
		return fsm.NewResponse(resp), nil
	}

	if m.cache.HasCompressed(resp.FileName) {
		resp.ArtifactCached = true
		resp.CompressedPath = m.cache.CompressedPath(resp.FileName)
		slog.Info("cache_hit_artifact", "version", resp.Version, "path", resp.CompressedPath)
	} else {
		slog.Info("cache_miss", "version", resp.Version)
	}

	return fsm.NewResponse(resp), nil
}

// handlePrecheck verifies the cache volume has room for the artifact and
// the decompressed image before committing to a download
func (m *Machine) handlePrecheck(ctx context.Context, req *fsm.Request[AcquireRequest, AcquireResponse]) (*fsm.Response[AcquireResponse], error) {
	slog.Info("fsm_state_precheck", "version", req.Msg.Version)

	if err := m.checkRetries(ctx, StatePrecheck); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.CacheHit {
		return fsm.NewResponse(resp), nil
	}

	if err := m.cache.EnsureSpace(); err != nil {
		slog.Error("space_precheck_failed", "version", resp.Version, "error", err)
		m.repo.UpdateImageStatus(resp.ImageID, db.StatusFailed, err.Error())
		return nil, fsm.Abort(err)
	}

	return fsm.NewResponse(resp), nil
}

// handleDownload fetches the checksum sidecar and the compressed artifact,
// resuming any partial download left by a previous run
func (m *Machine) handleDownload(ctx context.Context, req *fsm.Request[AcquireRequest, AcquireResponse]) (*fsm.Response[AcquireResponse], error) {
	slog.Info("fsm_state_download", "version", req.Msg.Version)

	if err := m.checkRetries(ctx, StateDownload); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.CacheHit || resp.ArtifactCached {
		return fsm.NewResponse(resp), nil
	}

	if err := m.repo.UpdateImageStatus(resp.ImageID, db.StatusDownloading, ""); err != nil {
		return nil, errors.Wrap(err, "failed to update status")
	}

	sidecar, err := m.fetchSidecar(ctx, resp)
	if err != nil {
		slog.Error("sidecar_fetch_failed", "version", resp.Version, "error", err)
		return nil, errors.Wrap(err, "failed to fetch checksum sidecar")
	}
	expected, err := checksum.ParseSidecar(sidecar)
	if err != nil {
		m.repo.UpdateImageStatus(resp.ImageID, db.StatusFailed, err.Error())
		return nil, fsm.Abort(errors.Wrap(err, "malformed checksum sidecar"))
	}
	resp.SHA256 = expected

	dest := m.cache.CompressedPath(resp.FileName)
	size, err := m.fetchArtifact(ctx, resp, dest)
	if err != nil {
		slog.Error("artifact_download_failed", "version", resp.Version, "error", err)
		return nil, errors.Wrap(err, "failed to download artifact")
	}

	if err := m.cache.WriteSidecar(resp.FileName, sidecar); err != nil {
		return nil, errors.Wrap(err, "failed to persist sidecar")
	}

	resp.CompressedPath = dest
	resp.DownloadSize = size

	slog.Info("download_complete", "version", resp.Version,
		"size_mb", size/1024/1024, "sha256", expected[:16]+"...")
	return fsm.NewResponse(resp), nil
}

// handleVerify hashes the compressed artifact against its sidecar. A
// mismatch deletes the artifact so nothing downstream can trust it.
func (m *Machine) handleVerify(ctx context.Context, req *fsm.Request[AcquireRequest, AcquireResponse]) (*fsm.Response[AcquireResponse], error) {
	slog.Info("fsm_state_verify", "version", req.Msg.Version)

	if err := m.checkRetries(ctx, StateVerify); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.CacheHit {
		return fsm.NewResponse(resp), nil
	}

	expected := resp.SHA256
	if expected == "" {
		// Cached artifact path: the sidecar was persisted by the run
		// that downloaded it.
		sidecar, err := m.cache.ReadSidecar(resp.FileName)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read cached sidecar")
		}
		expected, err = checksum.ParseSidecar(sidecar)
		if err != nil {
			return nil, fsm.Abort(errors.Wrap(err, "malformed cached sidecar"))
		}
		resp.SHA256 = expected
	}

	if err := checksum.Verify(resp.CompressedPath, expected); err != nil {
		slog.Error("checksum_verification_failed", "version", resp.Version, "error", err)
		m.cache.RemoveCompressed(resp.FileName)
		m.repo.UpdateImageStatus(resp.ImageID, db.StatusFailed, err.Error())
		return nil, fsm.Abort(errors.Wrap(err, "artifact rejected"))
	}

	if err := m.repo.UpdateImageStatus(resp.ImageID, db.StatusVerified, ""); err != nil {
		return nil, errors.Wrap(err, "failed to update status")
	}

	slog.Info("verify_complete", "version", resp.Version, "sha256", expected[:16]+"...")
	return fsm.NewResponse(resp), nil
}

// handleExtract decompresses the verified artifact into the cache
func (m *Machine) handleExtract(ctx context.Context, req *fsm.Request[AcquireRequest, AcquireResponse]) (*fsm.Response[AcquireResponse], error) {
	slog.Info("fsm_state_extract", "version", req.Msg.Version)

	if err := m.checkRetries(ctx, StateExtract); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.CacheHit {
		return fsm.NewResponse(resp), nil
	}

	imagePath := m.cache.ImagePath(resp.Version)
	if err := extract.Decompress(ctx, resp.CompressedPath, imagePath); err != nil {
		slog.Error("extraction_failed", "version", resp.Version, "error", err)
		m.repo.UpdateImageStatus(resp.ImageID, db.StatusFailed, err.Error())
		return nil, fsm.Abort(errors.Wrap(err, "image extraction failed"))
	}

	resp.ImagePath = imagePath
	slog.Info("extraction_complete", "version", resp.Version, "image_path", imagePath)
	return fsm.NewResponse(resp), nil
}

// handleAcquireComplete records the final artifact locations in the ledger
func (m *Machine) handleAcquireComplete(ctx context.Context, req *fsm.Request[AcquireRequest, AcquireResponse]) (*fsm.Response[AcquireResponse], error) {
	slog.Info("fsm_state_complete", "version", req.Msg.Version)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	img, err := m.repo.GetImage(resp.Version)
	if err != nil {
		return nil, fsm.Abort(errors.Wrap(err, "failed to load ledger record"))
	}
	if img == nil {
		return nil, fsm.Abort(fmt.Errorf("ledger record missing for %s", resp.Version))
	}

	// A warm-cache run carries no URL or digest; keep whatever the
	// original acquisition recorded.
	if resp.URL != "" {
		img.URL = resp.URL
	}
	if resp.SHA256 != "" {
		img.SHA256 = resp.SHA256
	}
	if resp.CompressedPath != "" {
		img.CompressedPath = resp.CompressedPath
	}
	img.ImagePath = resp.ImagePath
	img.Status = db.StatusReady
	img.ErrorMessage = ""
	if err := m.repo.UpdateImage(img); err != nil {
		return nil, errors.Wrap(err, "failed to update ledger record")
	}

	resp.Status = db.StatusReady
	slog.Info("fsm_complete", "version", resp.Version, "image_path", resp.ImagePath)
	return fsm.NewResponse(resp), nil
}

// fetchSidecar reads the checksum sidecar from the mirror when one is
// configured, otherwise over HTTP from the release index
func (m *Machine) fetchSidecar(ctx context.Context, resp *AcquireResponse) (string, error) {
	if m.mirror != nil {
		ok, err := m.mirror.Exists(ctx, resp.Version, resp.FileName)
		if err == nil && ok {
			return m.mirror.Sidecar(ctx, resp.Version, resp.FileName)
		}
		slog.Warn("mirror_fallback_to_index", "version", resp.Version, "error", err)
	}
	asset := resolver.Asset{Version: resp.Version, URL: resp.URL, FileName: resp.FileName}
	return m.downloader.FetchSidecar(ctx, asset.SidecarURL())
}

// fetchArtifact downloads the compressed image, preferring the mirror
func (m *Machine) fetchArtifact(ctx context.Context, resp *AcquireResponse, dest string) (int64, error) {
	if m.mirror != nil {
		ok, err := m.mirror.Exists(ctx, resp.Version, resp.FileName)
		if err == nil && ok {
			result, err := m.mirror.Download(ctx, resp.Version, resp.FileName, dest)
			if err != nil {
				// A failed mirror download has no resume marker, so
				// drop the truncated file before retrying.
				os.Remove(dest)
				return 0, err
			}
			return result.Size, nil
		}
		slog.Warn("mirror_fallback_to_index", "version", resp.Version, "error", err)
	}
	return m.downloader.Fetch(ctx, resp.URL, dest)
}
