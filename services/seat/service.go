package seat

import (
	"context"
	"errors"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/clock"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db/option"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/util"
	"smallbiznis-licensing/services/audit"
	"smallbiznis-licensing/services/license"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("smallbiznis-licensing/services/seat")

const sessionTokenBytes = 32

// Service leases seats on licenses. Every decision that depends on the
// active seat count runs in one transaction holding the license row lock, so
// two acquisitions on the same license never see the same count.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    clock.Clock
	licenses license.Store
	audit    audit.Log

	staleTimeout    time.Duration
	minStaleTimeout time.Duration
	maxStaleTimeout time.Duration
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Clock  clock.Clock
	Config *config.Config
	Audit  audit.Log `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}

	return &Service{
		db:              p.DB,
		node:            p.Node,
		clock:           p.Clock,
		licenses:        license.NewStore(p.DB),
		audit:           p.Audit,
		staleTimeout:    cfg.Seat.StaleTimeout,
		minStaleTimeout: cfg.Seat.MinStaleTimeout,
		maxStaleTimeout: cfg.Seat.MaxStaleTimeout,
	}
}

// clampTimeout applies the default for zero and bounds d to the configured
// range.
func (s *Service) clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		d = s.staleTimeout
	}
	if s.minStaleTimeout > 0 && d < s.minStaleTimeout {
		d = s.minStaleTimeout
	}
	if s.maxStaleTimeout > 0 && d > s.maxStaleTimeout {
		d = s.maxStaleTimeout
	}
	return d
}

func (s *Service) AcquireSeat(ctx context.Context, req AcquireRequest) (*AcquireResult, error) {
	ctx, span := tracer.Start(ctx, "seat.AcquireSeat")
	defer span.End()

	req.LicenseID = strings.TrimSpace(req.LicenseID)
	req.HardwareFingerprint = strings.TrimSpace(req.HardwareFingerprint)
	req.MachineName = strings.TrimSpace(req.MachineName)

	var details []errutil.Detail
	if req.LicenseID == "" {
		details = append(details, errutil.Detail{Field: "licenseId", Message: "is required"})
	}
	if req.HardwareFingerprint == "" {
		details = append(details, errutil.Detail{Field: "hardwareFingerprint", Message: "is required"})
	}
	if len(details) > 0 {
		return nil, errutil.BadRequest("invalid seat request", nil, errutil.WithDetails(details...))
	}

	span.SetAttributes(attribute.String("license_id", req.LicenseID))
	zapLog := logger.FromContext(ctx).With(zap.String("license_id", req.LicenseID))

	timeout := s.clampTimeout(req.StaleTimeout)
	now := s.clock.Now().UTC()

	var (
		lic       *license.License
		result    *AcquireResult
		denial    *Denial
		reclaimed []Seat
		ended     []Seat
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lic, err = s.licenses.WithTrx(tx).GetForUpdate(ctx, req.LicenseID)
		if err != nil {
			return err
		}
		if err := lic.Usable(now); err != nil {
			return err
		}

		reclaimed, err = s.reclaimStale(tx, lic.ID, now, timeout)
		if err != nil {
			return err
		}

		active, err := activeSeats(tx, lic.ID)
		if err != nil {
			return err
		}

		maxSeats := req.MaxSeats
		if maxSeats <= 0 {
			maxSeats = lic.MaxSeats()
		}

		if keep, dups := deviceSeats(active, req.HardwareFingerprint); keep != nil {
			for i := range dups {
				ok, err := terminate(tx, dups[i].ID, EndReasonSuperseded, keep.ID, now)
				if err != nil {
					return err
				}
				if ok {
					ended = append(ended, dups[i])
				}
			}

			updates := map[string]any{
				"last_heartbeat":        now,
				"stale_timeout_seconds": int64(timeout / time.Second),
			}
			if req.MachineName != "" {
				updates["machine_name"] = req.MachineName
			}
			if err := tx.Model(&Seat{}).Where("id = ?", keep.ID).Updates(updates).Error; err != nil {
				return err
			}

			used := len(active) - len(ended)
			result = &AcquireResult{
				SeatID:         keep.ID,
				SessionToken:   keep.SessionToken,
				Resumed:        true,
				SeatsUsed:      used,
				SeatsAvailable: max(maxSeats-used, 0),
				MaxSeats:       maxSeats,
				Reclaimed:      len(reclaimed),
			}
			return nil
		}

		if len(active) >= maxSeats {
			denial = &Denial{MaxSeats: maxSeats, ActiveSessions: views(active)}
			return nil
		}

		token, err := util.GenerateToken(sessionTokenBytes)
		if err != nil {
			return err
		}

		seat := Seat{
			ID:                  s.node.Generate().String(),
			LicenseID:           lic.ID,
			SessionToken:        token,
			HardwareFingerprint: req.HardwareFingerprint,
			MachineName:         req.MachineName,
			StaleTimeoutSeconds: int64(timeout / time.Second),
			StartedAt:           now,
			LastHeartbeat:       now,
			IsActive:            true,
		}
		if err := tx.Create(&seat).Error; err != nil {
			return err
		}

		used := len(active) + 1
		result = &AcquireResult{
			SeatID:         seat.ID,
			SessionToken:   seat.SessionToken,
			SeatsUsed:      used,
			SeatsAvailable: max(maxSeats-used, 0),
			MaxSeats:       maxSeats,
			Reclaimed:      len(reclaimed),
		}
		return nil
	})
	if err != nil {
		if !isLicenseErr(err) {
			zapLog.Error("failed to acquire seat", zap.Error(err))
		}
		return nil, license.ToError(err, lic)
	}

	for i := range reclaimed {
		s.recordEnd(ctx, &reclaimed[i], EndReasonStale, audit.SeatReclaimed, "")
	}
	for i := range ended {
		s.recordEnd(ctx, &ended[i], EndReasonSuperseded, audit.SeatSuperseded, req.MachineName)
	}

	if denial != nil {
		seatDenials.Inc()
		audit.Emit(ctx, s.audit, audit.Event{
			Type:      audit.SeatDenied,
			LicenseID: req.LicenseID,
			Actor:     req.MachineName,
			Payload:   audit.Payload(map[string]any{"maxSeats": denial.MaxSeats, "activeSessions": len(denial.ActiveSessions)}),
		})
		zapLog.Info("seat denied, quota exhausted", zap.Int("max_seats", denial.MaxSeats))
		return nil, errutil.Conflict("all seats are in use", ErrSeatsExhausted, errutil.WithMeta(denial))
	}

	eventType, kind := audit.SeatGranted, "new"
	if result.Resumed {
		eventType, kind = audit.SeatResumed, "resumed"
	}
	seatGrants.WithLabelValues(kind).Inc()
	audit.Emit(ctx, s.audit, audit.Event{
		Type:      eventType,
		LicenseID: req.LicenseID,
		SeatID:    result.SeatID,
		Actor:     req.MachineName,
		Payload:   audit.Payload(map[string]any{"seatsUsed": result.SeatsUsed, "maxSeats": result.MaxSeats}),
	})

	zapLog.Info("seat granted",
		zap.String("seat_id", result.SeatID),
		zap.Bool("resumed", result.Resumed),
		zap.Int("seats_used", result.SeatsUsed),
		zap.Int("max_seats", result.MaxSeats),
	)
	return result, nil
}

func (s *Service) Heartbeat(ctx context.Context, sessionToken string) (*HeartbeatResult, error) {
	ctx, span := tracer.Start(ctx, "seat.Heartbeat")
	defer span.End()

	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return nil, errutil.BadRequest("sessionToken is required", nil)
	}

	now := s.clock.Now().UTC()
	db := s.db.WithContext(ctx)

	var seat Seat
	err := db.Where("session_token = ? AND is_active = ?", sessionToken, true).Take(&seat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("session not found or expired", ErrSessionNotFound)
	}
	if err != nil {
		return nil, errutil.Internal("failed to load session", err)
	}

	res := db.Model(&Seat{}).
		Where("id = ? AND is_active = ?", seat.ID, true).
		Update("last_heartbeat", now)
	if res.Error != nil {
		return nil, errutil.Internal("failed to record heartbeat", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.NotFound("session not found or expired", ErrSessionNotFound)
	}

	var used int64
	if err := db.Model(&Seat{}).Where("license_id = ? AND is_active = ?", seat.LicenseID, true).Count(&used).Error; err != nil {
		return nil, errutil.Internal("failed to count seats", err)
	}

	out := &HeartbeatResult{
		SeatsUsed:    int(used),
		LeaseTimeout: seat.StaleTimeoutSeconds,
	}

	lic, err := s.licenses.Get(ctx, seat.LicenseID)
	if err != nil {
		if errors.Is(err, license.ErrNotFound) {
			out.Reason = license.Reason(err)
			return out, nil
		}
		return nil, errutil.Internal("failed to load license", err)
	}

	out.MaxSeats = lic.MaxSeats()
	if uerr := lic.Usable(now); uerr != nil {
		out.Reason = license.Reason(uerr)
	} else {
		out.Valid = true
	}
	if lic.ExpiresAt != nil {
		expiresAt := lic.ExpiresAt.UTC()
		remaining := max(int64(expiresAt.Sub(now)/time.Second), 0)
		out.ExpiresAt = &expiresAt
		out.TimeUntilExpiry = &remaining
	}
	return out, nil
}

// Release ends the seat held by sessionToken. Unknown or already ended
// tokens are not an error.
func (s *Service) Release(ctx context.Context, licenseID, sessionToken string) (*ReleaseResult, error) {
	ctx, span := tracer.Start(ctx, "seat.Release")
	defer span.End()

	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return &ReleaseResult{}, nil
	}

	query := s.db.WithContext(ctx).Where("session_token = ?", sessionToken)
	if licenseID = strings.TrimSpace(licenseID); licenseID != "" {
		query = query.Where("license_id = ?", licenseID)
	}

	var seat Seat
	err := query.Take(&seat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ReleaseResult{}, nil
	}
	if err != nil {
		return nil, errutil.Internal("failed to load session", err)
	}

	ok, err := terminate(s.db.WithContext(ctx), seat.ID, EndReasonReleased, seat.MachineName, s.clock.Now().UTC())
	if err != nil {
		logger.FromContext(ctx).Error("failed to release seat", zap.String("seat_id", seat.ID), zap.Error(err))
		return nil, errutil.Internal("failed to release seat", err)
	}
	if ok {
		s.recordEnd(ctx, &seat, EndReasonReleased, audit.SeatReleased, seat.MachineName)
	}
	return &ReleaseResult{Released: ok}, nil
}

// ForceTerminate evicts one active seat of a license so the requesting
// device can take it. Knowing the license id is the only entitlement check.
func (s *Service) ForceTerminate(ctx context.Context, req ForceTerminateRequest) (*ForceTerminateResult, error) {
	ctx, span := tracer.Start(ctx, "seat.ForceTerminate")
	defer span.End()

	req.LicenseID = strings.TrimSpace(req.LicenseID)
	if req.LicenseID == "" {
		return nil, errutil.BadRequest("licenseId is required", nil)
	}

	requestedBy := req.MachineName
	if requestedBy == "" {
		requestedBy = req.HardwareFingerprint
	}

	var target *Seat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lic, err := s.licenses.WithTrx(tx).GetForUpdate(ctx, req.LicenseID)
		if err != nil {
			return err
		}

		active, err := activeSeats(tx, lic.ID)
		if err != nil {
			return err
		}

		candidate := evictionCandidate(active, req.SeatID, req.HardwareFingerprint)
		if candidate == nil {
			return nil
		}

		ok, err := terminate(tx, candidate.ID, EndReasonForced, requestedBy, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if ok {
			target = candidate
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, license.ErrNotFound) {
			return nil, license.ToError(err, nil)
		}
		logger.FromContext(ctx).Error("failed to force terminate seat", zap.String("license_id", req.LicenseID), zap.Error(err))
		return nil, errutil.Internal("failed to force terminate seat", err)
	}

	out := &ForceTerminateResult{}
	if target != nil {
		s.recordEnd(ctx, target, EndReasonForced, audit.SeatForceTerminated, requestedBy)
		v := target.View()
		out.Terminated = &v
	}
	return out, nil
}

// Status reports the quota and current holders of a license. Revoked and
// expired licenses still report their seats, flagged invalid.
func (s *Service) Status(ctx context.Context, licenseID string) (*StatusResult, error) {
	ctx, span := tracer.Start(ctx, "seat.Status")
	defer span.End()

	licenseID = strings.TrimSpace(licenseID)
	if licenseID == "" {
		return nil, errutil.BadRequest("licenseId is required", nil)
	}

	lic, err := s.licenses.Get(ctx, licenseID)
	if err != nil {
		return nil, license.ToError(err, nil)
	}

	active, err := activeSeats(s.db.WithContext(ctx), lic.ID)
	if err != nil {
		return nil, errutil.Internal("failed to list seats", err)
	}

	maxSeats := lic.MaxSeats()
	out := &StatusResult{
		LicenseID:      lic.ID,
		MaxSeats:       maxSeats,
		SeatsUsed:      len(active),
		SeatsAvailable: max(maxSeats-len(active), 0),
		ActiveSessions: views(active),
	}
	if uerr := lic.Usable(s.clock.Now().UTC()); uerr != nil {
		out.Reason = license.Reason(uerr)
	} else {
		out.Valid = true
	}
	return out, nil
}

// Sweep ends every active seat whose own stale timeout has elapsed. Acquire
// reclaims stale seats on its own; Sweep only keeps the table tidy.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "seat.Sweep")
	defer span.End()

	now := s.clock.Now().UTC()
	db := s.db.WithContext(ctx)

	floor := s.minStaleTimeout
	if floor <= 0 {
		floor = s.clampTimeout(0)
	}

	var candidates []Seat
	if err := db.Where("is_active = ? AND last_heartbeat < ?", true, now.Add(-floor)).Find(&candidates).Error; err != nil {
		return 0, errutil.Internal("failed to list stale seats", err)
	}

	swept := 0
	for i := range candidates {
		seat := &candidates[i]
		timeout := seat.StaleTimeout()
		if timeout <= 0 {
			timeout = s.clampTimeout(0)
		}
		if !seat.IsStale(now, timeout) {
			continue
		}

		ok, err := terminate(db, seat.ID, EndReasonStale, "", now, heartbeatBefore(now.Add(-timeout)))
		if err != nil {
			return swept, errutil.Internal("failed to reclaim stale seat", err)
		}
		if ok {
			swept++
			s.recordEnd(ctx, seat, EndReasonStale, audit.SeatReclaimed, "sweeper")
		}
	}

	if swept > 0 {
		logger.FromContext(ctx).Info("stale seats swept", zap.Int("count", swept))
	}
	return swept, nil
}

func (s *Service) reclaimStale(tx *gorm.DB, licenseID string, now time.Time, timeout time.Duration) ([]Seat, error) {
	cutoff := now.Add(-timeout)

	var stale []Seat
	err := tx.Where("license_id = ? AND is_active = ? AND last_heartbeat < ?", licenseID, true, cutoff).
		Find(&stale).Error
	if err != nil {
		return nil, err
	}

	reclaimed := stale[:0]
	for i := range stale {
		ok, err := terminate(tx, stale[i].ID, EndReasonStale, "", now, heartbeatBefore(cutoff))
		if err != nil {
			return nil, err
		}
		if ok {
			reclaimed = append(reclaimed, stale[i])
		}
	}
	return reclaimed, nil
}

func (s *Service) recordEnd(ctx context.Context, seat *Seat, reason EndReason, eventType, actor string) {
	seatTerminations.WithLabelValues(string(reason)).Inc()
	audit.Emit(ctx, s.audit, audit.Event{
		Type:      eventType,
		LicenseID: seat.LicenseID,
		SeatID:    seat.ID,
		Actor:     actor,
		Payload: audit.Payload(map[string]any{
			"machineName":   seat.MachineName,
			"lastHeartbeat": seat.LastHeartbeat,
			"reason":        reason,
		}),
	})
}

func activeSeats(db *gorm.DB, licenseID string) ([]Seat, error) {
	var seats []Seat
	err := db.Where("license_id = ? AND is_active = ?", licenseID, true).
		Order("started_at ASC").
		Order("id ASC").
		Find(&seats).Error
	return seats, err
}

// terminate ends one seat. It reports false when the seat was already ended
// or a guard no longer matches, which makes termination idempotent.
func terminate(db *gorm.DB, seatID string, reason EndReason, by string, now time.Time, guards ...option.QueryOption) (bool, error) {
	query := db.Model(&Seat{}).Where("id = ? AND is_active = ?", seatID, true)
	res := option.Apply(query, guards...).Updates(map[string]any{
		"is_active":     false,
		"ended_at":      now,
		"end_reason":    reason,
		"terminated_by": by,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func heartbeatBefore(cutoff time.Time) option.QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("last_heartbeat < ?", cutoff)
	}
}

// deviceSeats picks the seat a device resumes: its most recently seen active
// seat. Any other active seat of the same device is returned for supersession.
func deviceSeats(active []Seat, fingerprint string) (*Seat, []Seat) {
	var keep *Seat
	var dups []Seat
	for i := range active {
		seat := &active[i]
		if seat.HardwareFingerprint != fingerprint {
			continue
		}
		if keep == nil || seat.LastHeartbeat.After(keep.LastHeartbeat) {
			if keep != nil {
				dups = append(dups, *keep)
			}
			keep = seat
			continue
		}
		dups = append(dups, *seat)
	}
	return keep, dups
}

func evictionCandidate(active []Seat, seatID, requesterFingerprint string) *Seat {
	if seatID != "" {
		for i := range active {
			if active[i].ID == seatID {
				return &active[i]
			}
		}
		return nil
	}

	var target *Seat
	for i := range active {
		seat := &active[i]
		if requesterFingerprint != "" && seat.HardwareFingerprint == requesterFingerprint {
			continue
		}
		if target == nil || seat.LastHeartbeat.Before(target.LastHeartbeat) {
			target = seat
		}
	}
	return target
}

func isLicenseErr(err error) bool {
	return errors.Is(err, license.ErrNotFound) ||
		errors.Is(err, license.ErrRevoked) ||
		errors.Is(err, license.ErrExpired)
}
