// Package fsm implements the two provisioning workflows as durable state
// machines: image acquisition (resolve, download, verify, extract) and card
// flashing (validate, confirm, write, wait for mount, verify boot), both
// built on the superfly/fsm library so an interrupted run resumes from its
// last completed state.
package fsm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/superfly/fsm"

	"github.com/raspi-ops/sdflash/pkg/bootwait"
	"github.com/raspi-ops/sdflash/pkg/confirm"
	"github.com/raspi-ops/sdflash/pkg/db"
	"github.com/raspi-ops/sdflash/pkg/diskinventory"
	"github.com/raspi-ops/sdflash/pkg/download"
	"github.com/raspi-ops/sdflash/pkg/errors"
	"github.com/raspi-ops/sdflash/pkg/flasher"
	"github.com/raspi-ops/sdflash/pkg/imagecache"
	"github.com/raspi-ops/sdflash/pkg/resolver"
	"github.com/raspi-ops/sdflash/pkg/safety"
	"github.com/raspi-ops/sdflash/pkg/storage"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo       *db.Repository
	resolver   *resolver.Resolver
	downloader *download.Downloader
	mirror     *storage.Mirror // nil unless a mirror bucket is configured
	cache      *imagecache.Cache
	inventory  diskinventory.Inventory
	validator  *safety.Validator
	gate       *confirm.Gate
	flasher    *flasher.Flasher
	waiter     *bootwait.Waiter
	markers    []string
	maxRetries int
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(
	repo *db.Repository,
	res *resolver.Resolver,
	dl *download.Downloader,
	mirror *storage.Mirror,
	cache *imagecache.Cache,
	inv diskinventory.Inventory,
	validator *safety.Validator,
	gate *confirm.Gate,
	fl *flasher.Flasher,
	waiter *bootwait.Waiter,
	markers []string,
	maxRetries int,
) *Machine {
	return &Machine{
		repo:       repo,
		resolver:   res,
		downloader: dl,
		mirror:     mirror,
		cache:      cache,
		inventory:  inv,
		validator:  validator,
		gate:       gate,
		flasher:    fl,
		waiter:     waiter,
		markers:    markers,
		maxRetries: maxRetries,
	}
}

// RegisterAcquire registers the image acquisition FSM
func (m *Machine) RegisterAcquire(ctx context.Context, manager *fsm.Manager) (fsm.Start[AcquireRequest, AcquireResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[AcquireRequest, AcquireResponse](manager, "image-acquire").
		Start(StateResolve, m.handleResolve).
		To(StateCheckCache, m.handleCheckCache).
		To(StatePrecheck, m.handlePrecheck).
		To(StateDownload, m.handleDownload).
		To(StateVerify, m.handleVerify).
		To(StateExtract, m.handleExtract).
		To(StateComplete, m.handleAcquireComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register acquire FSM")
	}

	return start, resume, nil
}

// RegisterFlash registers the card flashing FSM
func (m *Machine) RegisterFlash(ctx context.Context, manager *fsm.Manager) (fsm.Start[FlashRequest, FlashResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[FlashRequest, FlashResponse](manager, "card-flash").
		Start(StateInventory, m.handleInventory).
		To(StateValidate, m.handleValidate).
		To(StateConfirm, m.handleConfirm).
		To(StateWrite, m.handleWrite).
		To(StateWaitMount, m.handleWaitMount).
		To(StateVerifyBoot, m.handleVerifyBoot).
		To(StateComplete, m.handleFlashComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register flash FSM")
	}

	return start, resume, nil
}

// checkRetries aborts the FSM once a state has burned through its retry
// budget, so a persistently failing transition cannot loop forever.
func (m *Machine) checkRetries(ctx context.Context, state string) error {
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "state", state, "max_retries", m.maxRetries)
		return fsm.Abort(fmt.Errorf("max retries (%d) exceeded in state %s", m.maxRetries, state))
	}
	return nil
}
