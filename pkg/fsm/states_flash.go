package fsm

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/superfly/fsm"

	"github.com/raspi-ops/sdflash/pkg/bootverify"
	"github.com/raspi-ops/sdflash/pkg/classifier"
	"github.com/raspi-ops/sdflash/pkg/db"
	"github.com/raspi-ops/sdflash/pkg/errors"
	"github.com/raspi-ops/sdflash/pkg/safety"
)

// handleInventory enumerates disks and logs the classifier's verdict on
// each, so the operator sees the full picture before anything is validated
func (m *Machine) handleInventory(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	slog.Info("fsm_state_inventory", "device", req.Msg.Device)

	if err := m.checkRetries(ctx, StateInventory); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &FlashResponse{}
	}

	disks, err := m.inventory.ListDisks(ctx)
	if err != nil {
		slog.Error("disk_enumeration_failed", "error", err)
		return nil, errors.Wrap(err, "failed to enumerate disks")
	}

	for _, d := range disks {
		v := classifier.Classify(d)
		slog.Info("disk_classified", "device", d.Device, "size", d.SizeBytes,
			"candidate", v.Candidate, "rule", v.Rule)
	}

	record := &db.Flash{
		ImageVersion: req.Msg.ImageVersion,
		Device:       req.Msg.Device,
		Status:       db.FlashStarted,
	}
	if err := m.repo.RecordFlash(record); err != nil {
		return nil, errors.Wrap(err, "failed to record flash attempt")
	}
	resp.FlashID = record.ID

	return fsm.NewResponse(resp), nil
}

// handleValidate runs the safety gate over the requested target. Safety
// refusals are final, retrying cannot make the root disk a valid target.
func (m *Machine) handleValidate(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	slog.Info("fsm_state_validate", "device", req.Msg.Device)

	if err := m.checkRetries(ctx, StateValidate); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	target, err := m.validator.Validate(ctx, req.Msg.Device)
	if err != nil {
		slog.Error("target_validation_failed", "device", req.Msg.Device, "error", err)
		m.failFlash(resp.FlashID, err)
		var unsafe *safety.UnsafeTargetError
		if stderrors.As(err, &unsafe) {
			return nil, fsm.Abort(err)
		}
		return nil, fsm.Abort(errors.Wrap(err, "target validation failed"))
	}

	resp.SizeBytes = target.SizeBytes
	slog.Info("target_validated", "device", target.Device, "size", target.SizeBytes)
	return fsm.NewResponse(resp), nil
}

// handleConfirm presents the target to the operator and waits for the
// typed confirmation phrase
func (m *Machine) handleConfirm(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	slog.Info("fsm_state_confirm", "device", req.Msg.Device)

	if err := m.checkRetries(ctx, StateConfirm); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	target, err := m.inventory.Disk(ctx, req.Msg.Device)
	if err != nil {
		m.failFlash(resp.FlashID, err)
		return nil, fsm.Abort(errors.Wrap(err, "target disappeared before confirmation"))
	}

	if err := m.gate.Confirm(target); err != nil {
		// A decline is a clean outcome, not a failure; the status on
		// the shared response lets the caller exit zero.
		slog.Info("flash_aborted_by_operator", "device", req.Msg.Device)
		resp.Status = db.FlashAborted
		if uerr := m.repo.UpdateFlash(resp.FlashID, db.FlashAborted, "", ""); uerr != nil {
			slog.Error("ledger_flash_abort_update_failed", "flash_id", resp.FlashID, "error", uerr)
		}
		return nil, fsm.Abort(err)
	}

	return fsm.NewResponse(resp), nil
}

// handleWrite unmounts the target and streams the image onto it. A failed
// or partial write is fatal, the card contents are undefined afterwards.
func (m *Machine) handleWrite(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	slog.Info("fsm_state_write", "device", req.Msg.Device, "image_path", req.Msg.ImagePath)

	if err := m.checkRetries(ctx, StateWrite); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	target, err := m.inventory.Disk(ctx, req.Msg.Device)
	if err != nil {
		m.failFlash(resp.FlashID, err)
		return nil, fsm.Abort(errors.Wrap(err, "target disappeared before write"))
	}

	job, err := m.flasher.Flash(ctx, req.Msg.ImagePath, target)
	if err != nil {
		slog.Error("flash_write_failed", "device", req.Msg.Device, "error", err)
		m.failFlash(resp.FlashID, err)
		return nil, fsm.Abort(errors.Wrap(err, "device write failed"))
	}

	resp.BytesWritten = job.Written
	if err := m.repo.UpdateFlash(resp.FlashID, db.FlashWritten, "", ""); err != nil {
		return nil, errors.Wrap(err, "failed to update flash record")
	}

	return fsm.NewResponse(resp), nil
}

// handleWaitMount waits for the card to re-enumerate and the boot
// partition to come up mounted
func (m *Machine) handleWaitMount(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	slog.Info("fsm_state_wait_mount", "device", req.Msg.Device)

	if err := m.checkRetries(ctx, StateWaitMount); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	mount, err := m.waiter.Wait(ctx, req.Msg.Device)
	if err != nil {
		slog.Error("boot_mount_wait_failed", "device", req.Msg.Device, "error", err)
		m.failFlash(resp.FlashID, err)
		return nil, fsm.Abort(errors.Wrap(err, "boot partition never mounted"))
	}

	resp.BootMount = mount
	return fsm.NewResponse(resp), nil
}

// handleVerifyBoot scans the mounted boot partition for firmware markers.
// Missing markers are reported, not fatal.
func (m *Machine) handleVerifyBoot(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	if err := m.checkRetries(ctx, StateVerifyBoot); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	slog.Info("fsm_state_verify_boot", "boot_mount", resp.BootMount)

	report := bootverify.Scan(resp.BootMount, m.markers)
	resp.MissingMarkers = report.Missing

	return fsm.NewResponse(resp), nil
}

// handleFlashComplete records the final outcome in the ledger
func (m *Machine) handleFlashComplete(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	slog.Info("fsm_state_complete", "device", req.Msg.Device)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	if err := m.repo.UpdateFlash(resp.FlashID, db.FlashVerified, resp.BootMount, ""); err != nil {
		return nil, errors.Wrap(err, "failed to update flash record")
	}

	resp.Status = db.FlashVerified
	slog.Info("fsm_complete", "device", req.Msg.Device,
		"boot_mount", resp.BootMount, "missing_markers", len(resp.MissingMarkers))
	return fsm.NewResponse(resp), nil
}

// failFlash best-effort marks a flash attempt failed in the ledger
func (m *Machine) failFlash(id int64, cause error) {
	if id == 0 {
		return
	}
	if err := m.repo.UpdateFlash(id, db.FlashFailed, "", cause.Error()); err != nil {
		slog.Error("ledger_flash_fail_update_failed", "flash_id", id, "error", err)
	}
}
