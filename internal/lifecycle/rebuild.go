package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/edvin/fleetmon/internal/hcloud"
	"github.com/edvin/fleetmon/internal/model"
)

// FleetAPI is the provider surface the orchestrator needs. *hcloud.Client
// implements it.
type FleetAPI interface {
	ListServers(ctx context.Context) ([]model.Instance, error)
	GetServer(ctx context.Context, id int64) (*model.Instance, error)
	DeleteServer(ctx context.Context, id int64) error
	CreateServer(ctx context.Context, params hcloud.CreateServerParams) (*model.Instance, error)
	GetPrimaryIP(ctx context.Context, id int64) (*hcloud.PrimaryIP, error)
	CreateSnapshot(ctx context.Context, id int64, description string) (int64, error)
	GetImage(ctx context.Context, id int64) (*hcloud.Image, error)
	PowerOffServer(ctx context.Context, id int64) error
	UnassignIP(ctx context.Context, id int64) error
}

// Config holds the rebuild workflow's fixed budgets and creation defaults.
type Config struct {
	ClassPriority          []int64
	ClassNames             map[int64]string
	SSHKeyIDs              []int64
	Location               string
	BaseImage              string
	InstanceNamePrefix     string
	CreateAttemptsPerClass int
	TransientBackoff       time.Duration
	DeletePollInterval     time.Duration
	DeletePollMax          int
	ReleasePollInterval    time.Duration
	ReleasePollMax         int
	ProvisionPause         time.Duration

	// SnapshotBeforeDelete switches Rebuild to the retiring variant: capture
	// a fresh snapshot of the running instance, power it off and detach its
	// address before the delete, then recreate from that new snapshot. The
	// default variant requires an existing snapshot image instead.
	SnapshotBeforeDelete bool
	SnapshotPollInterval time.Duration
	SnapshotPollMax      int
}

func (c Config) className(id int64) string {
	if name, ok := c.ClassNames[id]; ok {
		return name
	}
	return fmt.Sprintf("type_%d", id)
}

// Rebuilder executes the destroy-and-recreate workflow for single instances
// and the bulk provision/teardown paths. Every failure is captured into a
// RebuildOutcome; nothing here aborts a cycle.
type Rebuilder struct {
	api    FleetAPI
	cfg    Config
	logger zerolog.Logger
}

func NewRebuilder(api FleetAPI, cfg Config, logger zerolog.Logger) *Rebuilder {
	if cfg.InstanceNamePrefix == "" {
		cfg.InstanceNamePrefix = "web"
	}
	return &Rebuilder{api: api, cfg: cfg, logger: logger}
}

var errStillExists = errors.New("server still exists")
var errStillAssigned = errors.New("address still assigned")
var errSnapshotPending = errors.New("snapshot still being written")

// Rebuild destroys inst and recreates it from its snapshot image. With
// preserveAddress the new instance reuses the old primary IP (waiting for
// the provider to release it first); without, the provider assigns a fresh
// address and the reconciler repoints downstream clients afterwards.
func (r *Rebuilder) Rebuild(ctx context.Context, inst model.Instance, preserveAddress bool) model.RebuildOutcome {
	out := model.RebuildOutcome{
		InstanceName:    inst.Name,
		PreviousAddress: inst.Address,
	}

	// Fail fast before any provider call when a required identifier is
	// missing. The retiring variant captures its own snapshot, so only the
	// default variant needs an existing one.
	if (!r.cfg.SnapshotBeforeDelete && !inst.HasSnapshot()) || (preserveAddress && inst.AddressID == 0) {
		out.Reason = model.ReasonMissingIdentifiers
		return out
	}

	log := r.logger.With().Str("instance", inst.Name).Int64("id", inst.ID).Logger()
	log.Info().
		Bool("preserve_address", preserveAddress).
		Bool("snapshot_first", r.cfg.SnapshotBeforeDelete).
		Msg("starting rebuild")

	imageID := inst.ImageID
	if r.cfg.SnapshotBeforeDelete {
		snapID, err := r.api.CreateSnapshot(ctx, inst.ID, snapshotDescription(inst.Name))
		if err != nil {
			out.Reason = fmt.Sprintf("snapshot: %v", err)
			return out
		}
		log.Info().Int64("image_id", snapID).Msg("snapshot started")
		if err := r.waitForImage(ctx, snapID, log); err != nil {
			out.Reason = model.ReasonSnapshotNotReady
			return out
		}
		imageID = snapID

		if err := r.api.PowerOffServer(ctx, inst.ID); err != nil {
			out.Reason = fmt.Sprintf("power off: %v", err)
			return out
		}
		if preserveAddress {
			if err := r.api.UnassignIP(ctx, inst.AddressID); err != nil {
				out.Reason = fmt.Sprintf("unassign address: %v", err)
				return out
			}
		}
	}

	if err := r.deleteAndConfirm(ctx, inst.ID, log); err != nil {
		if errors.Is(err, errStillExists) {
			out.Reason = model.ReasonDeleteNotConfirmed
		} else {
			out.Reason = fmt.Sprintf("delete: %v", err)
		}
		return out
	}

	addressID := int64(0)
	if preserveAddress {
		addressID = inst.AddressID
		if err := r.waitForRelease(ctx, inst.AddressID, log); err != nil {
			out.Reason = model.ReasonAddressNotReleased
			return out
		}
	}

	created, attempts, retried, err := r.createWithFallback(ctx, inst.Name, strconv.FormatInt(imageID, 10), addressID, log)
	out.CreateAttempts = attempts
	if err != nil {
		out.Reason = model.ReasonNoClassAvailable
		return out
	}

	out.Success = true
	out.Retried = retried
	out.NewAddress = created.Address
	out.ClassID = created.ClassID
	out.ClassName = created.ClassName
	log.Info().
		Str("class", created.ClassName).
		Str("new_address", created.Address).
		Int("attempts", attempts).
		Msg("rebuild complete")
	return out
}

// BulkProvision creates count fresh instances from the base image, with a
// short pause between attempts to stay clear of provider rate limits. A
// failed attempt never aborts the remaining ones.
func (r *Rebuilder) BulkProvision(ctx context.Context, count int) []model.RebuildOutcome {
	outcomes := make([]model.RebuildOutcome, 0, count)
	for i := 0; i < count; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, r.cfg.ProvisionPause); err != nil {
				break
			}
		}

		name := fmt.Sprintf("%s-%d", r.cfg.InstanceNamePrefix, i+1)
		out := model.RebuildOutcome{InstanceName: name}

		created, attempts, retried, err := r.createWithFallback(ctx, name, r.cfg.BaseImage, 0, r.logger.With().Str("instance", name).Logger())
		out.CreateAttempts = attempts
		if err != nil {
			out.Reason = model.ReasonNoClassAvailable
		} else {
			out.Success = true
			out.Retried = retried
			out.NewAddress = created.Address
			out.ClassID = created.ClassID
			out.ClassName = created.ClassName
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// BulkTeardown deletes every instance in the fleet independently. Partial
// failure is recorded per instance and never blocks the other deletes.
func (r *Rebuilder) BulkTeardown(ctx context.Context) []model.RebuildOutcome {
	instances, err := r.api.ListServers(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("teardown: list servers failed")
		return []model.RebuildOutcome{{
			InstanceName: "fleet",
			Reason:       fmt.Sprintf("list servers: %v", err),
		}}
	}

	outcomes := make([]model.RebuildOutcome, 0, len(instances))
	for _, inst := range instances {
		out := model.RebuildOutcome{
			InstanceName:    inst.Name,
			PreviousAddress: inst.Address,
		}
		if err := r.api.DeleteServer(ctx, inst.ID); err != nil {
			r.logger.Error().Err(err).Str("instance", inst.Name).Msg("teardown: delete failed")
			out.Reason = fmt.Sprintf("delete: %v", err)
		} else {
			out.Success = true
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// deleteAndConfirm issues the delete and polls until the provider reports
// the instance gone. Exhausting the budget returns errStillExists; no
// create may follow, to rule out double provisioning.
func (r *Rebuilder) deleteAndConfirm(ctx context.Context, id int64, log zerolog.Logger) error {
	if err := r.api.DeleteServer(ctx, id); err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(uint64(r.cfg.DeletePollMax-1), retry.NewConstant(r.cfg.DeletePollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := r.api.GetServer(ctx, id)
		if hcloud.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return retry.RetryableError(err)
		}
		return retry.RetryableError(errStillExists)
	})
	if err != nil {
		log.Error().Err(err).Msg("delete not confirmed within budget")
		return errStillExists
	}
	log.Info().Msg("delete confirmed")
	return nil
}

// waitForRelease polls the primary IP until its owner reference clears, so
// the create request is not rejected for a conflicting assignment.
func (r *Rebuilder) waitForRelease(ctx context.Context, addressID int64, log zerolog.Logger) error {
	backoff := retry.WithMaxRetries(uint64(r.cfg.ReleasePollMax-1), retry.NewConstant(r.cfg.ReleasePollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ip, err := r.api.GetPrimaryIP(ctx, addressID)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !ip.Released() {
			return retry.RetryableError(errStillAssigned)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int64("address_id", addressID).Msg("address not released within budget")
		return err
	}
	log.Info().Int64("address_id", addressID).Msg("address released")
	return nil
}

// waitForImage polls a freshly started snapshot until the provider reports
// it available; creating a server from an image still being written fails.
func (r *Rebuilder) waitForImage(ctx context.Context, imageID int64, log zerolog.Logger) error {
	backoff := retry.WithMaxRetries(uint64(r.cfg.SnapshotPollMax-1), retry.NewConstant(r.cfg.SnapshotPollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		img, err := r.api.GetImage(ctx, imageID)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !img.Available() {
			return retry.RetryableError(errSnapshotPending)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int64("image_id", imageID).Msg("snapshot not ready within budget")
		return err
	}
	log.Info().Int64("image_id", imageID).Msg("snapshot available")
	return nil
}

func snapshotDescription(name string) string {
	return fmt.Sprintf("%s-%s", name, time.Now().Format("20060102-150405"))
}

// createWithFallback walks the class priority list. An "address still
// assigned" rejection is transient (provider-side state lags the release
// confirmation): back off and retry the same class. Any other rejection
// marks the class unavailable and advances to the next one.
func (r *Rebuilder) createWithFallback(ctx context.Context, name, image string, addressID int64, log zerolog.Logger) (*model.Instance, int, bool, error) {
	attempts := 0
	for _, classID := range r.cfg.ClassPriority {
		className := r.cfg.className(classID)

		for classAttempt := 1; classAttempt <= r.cfg.CreateAttemptsPerClass; classAttempt++ {
			attempts++
			log.Info().
				Str("class", className).
				Int("attempt", classAttempt).
				Int("max_attempts", r.cfg.CreateAttemptsPerClass).
				Msg("creating instance")

			created, err := r.api.CreateServer(ctx, hcloud.CreateServerParams{
				Name:      name,
				ClassID:   classID,
				Image:     image,
				Location:  r.cfg.Location,
				SSHKeyIDs: r.cfg.SSHKeyIDs,
				AddressID: addressID,
			})
			if err == nil {
				return created, attempts, classAttempt > 1, nil
			}

			if hcloud.IsAddressAssigned(err) {
				log.Warn().Str("class", className).Msg("address still assigned on provider side, backing off")
				if sleepErr := sleepCtx(ctx, r.cfg.TransientBackoff); sleepErr != nil {
					return nil, attempts, false, sleepErr
				}
				continue
			}

			log.Warn().Err(err).Str("class", className).Msg("class unavailable, trying next")
			break
		}
	}
	log.Error().Msg("no instance class available")
	return nil, attempts, false, errors.New(model.ReasonNoClassAvailable)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
