package certificate

import (
	"context"
	"errors"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/clock"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/sequence"
	"smallbiznis-licensing/services/audit"
	"smallbiznis-licensing/services/license"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("smallbiznis-licensing/services/certificate")

var (
	certificatesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licensing_certificates_stored_total",
		Help: "Certificates stored, by origin (issued or synced).",
	}, []string{"origin"})

	certificatesVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licensing_certificate_verifications_total",
		Help: "Certificate verifications, by outcome.",
	}, []string{"outcome"})
)

const batchVerifyConcurrency = 8

type Service struct {
	db         *gorm.DB
	clock      clock.Clock
	keys       *KeyRing
	seq        sequence.Generator
	licenses   license.Store
	audit      audit.Log
	archive    Archive
	batchLimit int
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Clock    clock.Clock
	Config   *config.Config
	Keys     *KeyRing
	Sequence sequence.Generator
	Archive  Archive   `optional:"true"`
	Audit    audit.Log `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	archive := p.Archive
	if archive == nil {
		archive = nopArchive{}
	}
	limit := 100
	if p.Config != nil && p.Config.Certificate.BatchVerifyLimit > 0 {
		limit = p.Config.Certificate.BatchVerifyLimit
	}

	return &Service{
		db:         p.DB,
		clock:      p.Clock,
		keys:       p.Keys,
		seq:        p.Sequence,
		licenses:   license.NewStore(p.DB),
		audit:      p.Audit,
		archive:    archive,
		batchLimit: limit,
	}
}

func (s *Service) Keys() *KeyRing {
	return s.keys
}

// NextSequence reserves the next certificate number of licenseeCode for the
// current month.
func (s *Service) NextSequence(ctx context.Context, licenseeCode string) (*SequenceResult, error) {
	return s.NextSequenceFor(ctx, licenseeCode, IssueMonth(s.clock.Now()))
}

func (s *Service) NextSequenceFor(ctx context.Context, licenseeCode, issueMonth string) (*SequenceResult, error) {
	ctx, span := tracer.Start(ctx, "certificate.NextSequence")
	defer span.End()

	code := strings.ToUpper(strings.TrimSpace(licenseeCode))
	if !license.ValidLicenseeCode(code) {
		return nil, errutil.BadRequest("licensee code must be two characters A-Z or 0-9", ErrInvalidLicenseeCode)
	}
	if !validIssueMonth(issueMonth) {
		return nil, errutil.BadRequest("issue month must be YYMM", ErrInvalidIssueMonth)
	}

	seq, err := s.seq.Next(ctx, code, issueMonth)
	if err != nil {
		logger.FromContext(ctx).Error("failed to reserve certificate sequence",
			zap.String("licensee_code", code),
			zap.String("issue_month", issueMonth),
			zap.Error(err),
		)
		return nil, errutil.Internal("failed to reserve certificate sequence", err)
	}

	return &SequenceResult{
		CertificateID:  FormatID(code, issueMonth, seq),
		SequenceNumber: seq,
		IssueMonth:     issueMonth,
	}, nil
}

// Issue numbers, signs and stores a certificate for a usable license.
func (s *Service) Issue(ctx context.Context, licenseID string, in Input) (*Certificate, error) {
	ctx, span := tracer.Start(ctx, "certificate.Issue")
	defer span.End()

	zapLog := logger.FromContext(ctx).With(zap.String("license_id", licenseID))
	now := s.clock.Now().UTC()

	lic, err := s.licenses.Get(ctx, strings.TrimSpace(licenseID))
	if err != nil {
		return nil, license.ToError(err, nil)
	}
	if err := lic.Usable(now); err != nil {
		return nil, license.ToError(err, lic)
	}
	if !license.ValidLicenseeCode(lic.LicenseeCode) {
		return nil, errutil.BadRequest("license has no valid licensee code", ErrInvalidLicenseeCode)
	}
	if !s.keys.CanSign() {
		return nil, errutil.ServiceUnavailable("certificate signing is unavailable", ErrSigningUnavailable)
	}

	c := fromInput(in)
	if field := nonCanonicalField(c); field != "" {
		return nil, errutil.BadRequest("certificate fields may not contain line breaks", ErrNonCanonical,
			errutil.WithDetails(errutil.Detail{Field: field, Message: "contains a line break or an '=' in a data key"}))
	}

	seq, err := s.NextSequenceFor(ctx, lic.LicenseeCode, IssueMonth(now))
	if err != nil {
		return nil, err
	}

	c.ID = seq.CertificateID
	c.LicenseID = lic.ID
	c.LicenseeCode = lic.LicenseeCode
	c.IssueMonth = seq.IssueMonth
	c.SequenceNumber = seq.SequenceNumber
	c.IssuedAt = now.Truncate(time.Second)
	c.CreatedAt = now

	if c.Signature, err = s.keys.Sign(c); err != nil {
		zapLog.Error("failed to sign certificate", zap.String("certificate_id", c.ID), zap.Error(err))
		return nil, errutil.Internal("failed to sign certificate", err)
	}
	c.SignatureAlgorithm = AlgorithmECDSAP256SHA256
	c.IsSignatureVerified = true
	c.LastVerifiedAt = &now

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		zapLog.Error("failed to store certificate", zap.String("certificate_id", c.ID), zap.Error(res.Error))
		return nil, errutil.Internal("failed to store certificate", res.Error)
	}
	if res.RowsAffected == 0 {
		// the counter fell behind the table, e.g. a lost redis key
		zapLog.Warn("certificate id already in use", zap.String("certificate_id", c.ID))
		return nil, errutil.Conflict("certificate id already in use, retry to draw the next number", ErrIDInUse,
			errutil.WithMeta(map[string]string{"certificateId": c.ID}))
	}

	certificatesIssued.WithLabelValues("issued").Inc()
	s.archiveCertificate(ctx, c)
	audit.Emit(ctx, s.audit, audit.Event{
		Type:          audit.CertificateIssued,
		LicenseID:     lic.ID,
		CertificateID: c.ID,
		Actor:         c.SignatoryName,
		Payload:       audit.Payload(map[string]any{"moduleId": c.ModuleID, "sequence": c.SequenceNumber}),
	})

	zapLog.Info("certificate issued", zap.String("certificate_id", c.ID))
	return c, nil
}

// Sync stores certificates produced offline under numbers reserved through
// NextSequence. Each item succeeds or fails on its own; a failed item never
// aborts the batch. Client signed items of a revoked or expired license are
// still accepted, unsigned ones are not signed for it.
func (s *Service) Sync(ctx context.Context, licenseID string, items []Input) (*SyncResult, error) {
	ctx, span := tracer.Start(ctx, "certificate.Sync")
	defer span.End()

	lic, err := s.licenses.Get(ctx, strings.TrimSpace(licenseID))
	if err != nil {
		return nil, license.ToError(err, nil)
	}
	if !license.ValidLicenseeCode(lic.LicenseeCode) {
		return nil, errutil.BadRequest("license has no valid licensee code", ErrInvalidLicenseeCode)
	}

	out := &SyncResult{FailedIDs: []string{}}
	for _, item := range items {
		id, reason, err := s.syncOne(ctx, lic, item)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			out.FailedIDs = append(out.FailedIDs, id)
			out.Failures = append(out.Failures, SyncFailure{CertificateID: id, Reason: reason})
			continue
		}
		out.SyncedCount++
	}

	audit.Emit(ctx, s.audit, audit.Event{
		Type:      audit.CertificateSynced,
		LicenseID: lic.ID,
		Payload:   audit.Payload(map[string]any{"synced": out.SyncedCount, "failed": len(out.FailedIDs)}),
	})
	if len(out.Failures) > 0 {
		audit.Emit(ctx, s.audit, audit.Event{
			Type:      audit.CertificateSyncFailed,
			LicenseID: lic.ID,
			Payload:   audit.Payload(out.Failures),
		})
	}
	return out, nil
}

// syncOne returns a non-empty reason when the item is rejected. Only storage
// failures are returned as errors.
func (s *Service) syncOne(ctx context.Context, lic *license.License, in Input) (string, string, error) {
	id := strings.TrimSpace(in.CertificateID)

	code, month, seq, ok := ParseID(id)
	switch {
	case !ok:
		return id, "invalid certificate id", nil
	case code != lic.LicenseeCode:
		return id, "licensee code does not match license", nil
	case in.LicenseeCode != "" && strings.ToUpper(in.LicenseeCode) != code:
		return id, "licensee code does not match certificate id", nil
	case in.IssuedAt.IsZero():
		return id, "issuedAt is required", nil
	}

	now := s.clock.Now().UTC()
	c := fromInput(in)
	c.ID = id
	c.LicenseID = lic.ID
	c.LicenseeCode = code
	c.IssueMonth = month
	c.SequenceNumber = seq
	c.IssuedAt = in.IssuedAt.UTC().Truncate(time.Second)
	c.CreatedAt = now

	if field := nonCanonicalField(c); field != "" {
		return id, field + " contains a line break or an '=' in a data key", nil
	}

	last, err := s.seq.Current(ctx, code, month)
	if err != nil {
		logger.FromContext(ctx).Error("failed to read certificate sequence", zap.String("certificate_id", id), zap.Error(err))
		return id, "", errutil.Internal("failed to read certificate sequence", err)
	}
	if seq > last {
		return id, "certificate number was never reserved", nil
	}

	if in.Signature == "" {
		if err := lic.Usable(now); err != nil {
			return id, "license is " + license.Reason(err) + ", server signing refused", nil
		}
		if !s.keys.CanSign() {
			return id, "certificate is unsigned and server signing is unavailable", nil
		}
		sig, err := s.keys.Sign(c)
		if err != nil {
			return id, "", errutil.Internal("failed to sign certificate", err)
		}
		c.Signature = sig
		c.SignatureAlgorithm = AlgorithmECDSAP256SHA256
	} else {
		c.Signature = in.Signature
		c.SignatureAlgorithm = in.SignatureAlgorithm
		if c.SignatureAlgorithm == "" {
			c.SignatureAlgorithm = AlgorithmECDSAP256SHA256
		}
		if ok, reason := s.keys.Verify(c); !ok {
			return id, reason, nil
		}
	}
	c.IsSignatureVerified = true
	c.LastVerifiedAt = &now

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		logger.FromContext(ctx).Error("failed to store synced certificate", zap.String("certificate_id", id), zap.Error(res.Error))
		return id, "", errutil.Internal("failed to store certificate", res.Error)
	}

	if res.RowsAffected == 0 {
		existing, err := s.find(ctx, id)
		if err != nil {
			return id, "", errutil.Internal("failed to load certificate", err)
		}
		if existing == nil || existing.LicenseID != lic.ID || BuildCanonicalForm(existing) != BuildCanonicalForm(c) {
			return id, "certificate already exists with different contents", nil
		}
		return id, "", nil
	}

	certificatesIssued.WithLabelValues("synced").Inc()
	s.archiveCertificate(ctx, c)
	return id, "", nil
}

// Verify re-checks a stored certificate. Unknown ids and bad signatures are
// normal negative results.
func (s *Service) Verify(ctx context.Context, certificateID string) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "certificate.Verify")
	defer span.End()

	id := strings.TrimSpace(certificateID)
	out := &VerifyResult{CertificateID: id}

	c, err := s.find(ctx, id)
	if err != nil {
		return nil, errutil.Internal("failed to load certificate", err)
	}
	if c == nil {
		certificatesVerified.WithLabelValues("not_found").Inc()
		out.Message = "certificate not found"
		return out, nil
	}

	ok, reason := s.keys.Verify(c)
	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).Model(&Certificate{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{"is_signature_verified": ok, "last_verified_at": now}).Error
	if err != nil {
		logger.FromContext(ctx).Warn("failed to cache verification result", zap.String("certificate_id", c.ID), zap.Error(err))
	}

	outcome := "valid"
	if !ok {
		outcome = "invalid"
	}
	certificatesVerified.WithLabelValues(outcome).Inc()

	issuedAt := c.IssuedAt.UTC()
	out.IsValid = ok
	out.IsSignatureVerified = ok
	out.Message = reason
	out.IssuedAt = &issuedAt
	out.CompanyName = c.CompanyName
	out.ModuleName = c.ModuleName
	out.ProjectName = c.ProjectName
	return out, nil
}

// BatchVerify verifies up to the configured number of ids concurrently and
// returns results in request order.
func (s *Service) BatchVerify(ctx context.Context, ids []string) ([]VerifyResult, error) {
	if len(ids) > s.batchLimit {
		return nil, errutil.BadRequest("too many certificate ids", nil, errutil.WithMeta(map[string]int{"limit": s.batchLimit}))
	}

	results := make([]VerifyResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchVerifyConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			r, err := s.Verify(gctx, id)
			if err != nil {
				return err
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) find(ctx context.Context, id string) (*Certificate, error) {
	if id == "" {
		return nil, nil
	}
	var c Certificate
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) archiveCertificate(ctx context.Context, c *Certificate) {
	if err := s.archive.Store(ctx, c, s.keys.KeyID()); err != nil {
		logger.FromContext(ctx).Warn("failed to archive certificate", zap.String("certificate_id", c.ID), zap.Error(err))
	}
}

func fromInput(in Input) *Certificate {
	data := in.ProcessingData
	if data == nil {
		data = map[string]string{}
	}
	return &Certificate{
		ModuleID:              in.ModuleID,
		ModuleName:            in.ModuleName,
		ModuleCertificateCode: in.ModuleCertificateCode,
		ModuleVersion:         in.ModuleVersion,
		ProjectName:           in.ProjectName,
		SignatoryName:         in.SignatoryName,
		CompanyName:           in.CompanyName,
		ProcessingData:        datatypes.NewJSONType(data),
	}
}
