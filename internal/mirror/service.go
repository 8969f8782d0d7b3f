// Package mirror keeps a queryable, non-authoritative copy of registry
// submissions together with the off-chain metadata supplied at submission
// time. The registry stays the source of truth; the mirror answers reads when
// the registry cannot.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/logging"
	"github.com/idregistry/idregistry/internal/metrics"
	"github.com/idregistry/idregistry/internal/registry"
	"github.com/idregistry/idregistry/internal/sentinel"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ErrInvalidRequest rejects a submission missing required metadata.
var ErrInvalidRequest = fmt.Errorf("invalid verification request: %w", sentinel.ErrInvalidInput)

// Service coordinates registry writes with the mirror.
type Service struct {
	repo    Repository
	reader  registry.Reader
	writer  registry.Writer
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService wires a mirror service. logger and m may be nil.
func NewService(repo Repository, reader registry.Reader, writer registry.Writer, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		repo:    repo,
		reader:  reader,
		writer:  writer,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Submit records caller's identity in the registry and stores the metadata.
func (s *Service) Submit(ctx context.Context, caller account.Address, req Request) (Verification, error) {
	req = normalise(req)
	if err := validate(req); err != nil {
		return Verification{}, err
	}

	existing, err := s.repo.Get(ctx, caller)
	resubmit := err == nil
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return Verification{}, err
	}
	if resubmit && existing.Verified {
		// The projection may lag a revocation; the registry decides.
		rec, qerr := s.reader.Query(ctx, caller)
		if qerr != nil {
			return Verification{}, qerr
		}
		if rec.Verified {
			return Verification{}, ErrDuplicate
		}
	}

	var verifiedAt time.Time
	ev, err := s.writer.Submit(ctx, caller, req.IdentityHash)
	switch {
	case err == nil:
		verifiedAt = ev.Timestamp
	case errors.Is(err, registry.ErrAlreadyVerified):
		// A previous attempt may have reached the registry but not the
		// mirror. Adopt the registry record if it carries the same hash.
		rec, qerr := s.reader.Query(ctx, caller)
		if qerr != nil || !rec.Verified || rec.IdentityHash != req.IdentityHash {
			return Verification{}, err
		}
		s.logger.Info("repairing mirror entry", slog.String("address", caller.String()))
		verifiedAt = rec.Timestamp
	default:
		return Verification{}, err
	}

	now := s.now().UTC()
	v := Verification{
		ID:           uuid.NewString(),
		Address:      caller,
		IdentityHash: req.IdentityHash,
		ProofRef:     req.ProofRef,
		DocumentType: req.DocumentType,
		Nationality:  req.Nationality,
		Verified:     true,
		VerifiedAt:   verifiedAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if resubmit {
		v.ID = existing.ID
		v.CreatedAt = existing.CreatedAt
		err = s.repo.Update(ctx, v)
	} else {
		err = s.repo.Create(ctx, v)
	}
	if err != nil {
		return Verification{}, err
	}

	s.logger.Info("verification recorded",
		slog.String("address", caller.String()),
		slog.String("document_type", v.DocumentType),
		slog.Bool("resubmission", resubmit),
	)
	return v, nil
}

// Get combines live registry state with mirror metadata. When the registry is
// unreachable and a mirror entry exists the mirror answers alone.
func (s *Service) Get(ctx context.Context, address account.Address) (View, error) {
	v, err := s.repo.Get(ctx, address)
	found := err == nil
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return View{}, err
	}

	rec, err := s.reader.Query(ctx, address)
	if err != nil {
		if !found {
			return View{}, err
		}
		s.metrics.IncMirrorFallback()
		s.logger.Warn("registry unreachable, serving mirror",
			slog.String("address", address.String()),
			slog.Any("error", err),
		)
		return mirrorView(v), nil
	}

	view := View{
		Address:      address,
		IdentityHash: rec.IdentityHash,
		Verified:     rec.Verified,
		Status:       rec.Status(),
		Timestamp:    rec.Timestamp,
		Source:       SourceRegistry,
	}
	if found {
		view.ProofRef = v.ProofRef
		view.DocumentType = v.DocumentType
		view.Nationality = v.Nationality
	}
	return view, nil
}

// List pages through mirror entries.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Verification, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// Apply projects one registry event onto the mirror. Events for addresses
// without an entry are ignored; the registry serves those directly.
func (s *Service) Apply(ctx context.Context, ev registry.Event) error {
	var err error
	switch ev.Kind {
	case registry.KindVerified:
		err = s.repo.SetVerified(ctx, ev.Subject, true, ev.IdentityHash, ev.Timestamp)
	case registry.KindRevoked:
		err = s.repo.SetVerified(ctx, ev.Subject, false, "", ev.Timestamp)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	return err
}

func mirrorView(v Verification) View {
	status := registry.StatusRevoked
	if v.Verified {
		status = registry.StatusVerified
	}
	return View{
		Address:      v.Address,
		IdentityHash: v.IdentityHash,
		Verified:     v.Verified,
		Status:       status,
		Timestamp:    v.VerifiedAt,
		ProofRef:     v.ProofRef,
		DocumentType: v.DocumentType,
		Nationality:  v.Nationality,
		Source:       SourceMirror,
	}
}

func normalise(req Request) Request {
	req.IdentityHash = strings.TrimSpace(req.IdentityHash)
	req.ProofRef = strings.TrimSpace(req.ProofRef)
	req.DocumentType = strings.ToLower(strings.TrimSpace(req.DocumentType))
	req.Nationality = strings.ToUpper(strings.TrimSpace(req.Nationality))
	return req
}

func validate(req Request) error {
	var missing []string
	if req.IdentityHash == "" {
		missing = append(missing, "identity_hash")
	}
	if req.ProofRef == "" {
		missing = append(missing, "proof_ref")
	}
	if req.DocumentType == "" {
		missing = append(missing, "document_type")
	}
	if req.Nationality == "" {
		missing = append(missing, "nationality")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}
