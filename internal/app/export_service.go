// internal/app/export_service.go
package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"reward_verification_service/internal/domain/business"
	"reward_verification_service/internal/domain/paging"
	"reward_verification_service/internal/domain/verification"
	"reward_verification_service/internal/infra/export"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DownloadLinkTTL is the fixed lifetime of every signed download URL.
const DownloadLinkTTL = time.Hour

// DownloadLink is a signed, time-limited URL to a verification database artifact.
type DownloadLink struct {
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ExportService renders verification databases and hands out signed links to them.
type ExportService struct {
	repo    verification.Repository
	builder *databaseBuilder
	signer  *export.Signer
	baseURL string
	logger  *logrus.Entry
}

func NewExportService(
	repo verification.Repository,
	businesses business.Repository,
	signer *export.Signer,
	publicBaseURL string,
	logger *logrus.Entry,
) *ExportService {
	return &ExportService{
		repo:    repo,
		builder: &databaseBuilder{repo: repo, businesses: businesses},
		signer:  signer,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  logger.WithField("component", "export_service"),
	}
}

// databaseInCycle loads a database and checks it belongs to the cycle in the URL.
func (s *ExportService) databaseInCycle(ctx context.Context, cycleID, databaseID uuid.UUID) (*verification.Database, error) {
	db, err := s.repo.GetDatabaseByID(ctx, databaseID)
	if err != nil {
		if errors.Is(err, verification.ErrDatabaseNotFound) {
			return nil, ErrDatabaseNotFound
		}
		return nil, errors.Wrap(err, "get database")
	}
	if db.CycleID != cycleID {
		return nil, ErrDatabaseNotFound
	}
	return db, nil
}

func (s *ExportService) ListDatabases(ctx context.Context, filter verification.DatabaseFilter) ([]*verification.Database, paging.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, paging.Pagination{}, Validation("unknown database status %q", filter.Status)
	}
	if _, err := s.repo.GetCycleByID(ctx, filter.CycleID); err != nil {
		if errors.Is(err, verification.ErrCycleNotFound) {
			return nil, paging.Pagination{}, ErrCycleNotFound
		}
		return nil, paging.Pagination{}, errors.Wrap(err, "get cycle")
	}
	filter.Page = filter.Page.Normalize()
	dbs, total, err := s.repo.ListDatabases(ctx, filter)
	if err != nil {
		return nil, paging.Pagination{}, errors.Wrap(err, "list databases")
	}
	return dbs, paging.NewPagination(filter.Page, total), nil
}

// GetSignedDownloadURL returns a one-hour link to the database in the given format.
func (s *ExportService) GetSignedDownloadURL(ctx context.Context, cycleID, databaseID uuid.UUID, format string) (*DownloadLink, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, Validation("format must be one of csv, excel, json")
	}
	db, err := s.databaseInCycle(ctx, cycleID, databaseID)
	if err != nil {
		return nil, err
	}
	if db.Status == verification.DatabaseStatusPreparing {
		return nil, Conflict("Verification database is still being prepared")
	}
	return s.signedLink(db, f)
}

func (s *ExportService) signedLink(db *verification.Database, format export.Format) (*DownloadLink, error) {
	token, expires, err := s.signer.Sign(db.ID, format, DownloadLinkTTL)
	if err != nil {
		return nil, errors.Wrap(err, "sign download link")
	}
	return &DownloadLink{
		DownloadURL: fmt.Sprintf("%s/api/downloads/%s", s.baseURL, url.PathEscape(token)),
		ExpiresAt:   expires,
	}, nil
}

// OpenDownload validates a signed token and renders the artifact it names.
func (s *ExportService) OpenDownload(ctx context.Context, token string) (*export.Artifact, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, ErrInvalidDownload
	}
	db, err := s.repo.GetDatabaseByID(ctx, claims.DatabaseID)
	if err != nil {
		if errors.Is(err, verification.ErrDatabaseNotFound) {
			return nil, ErrDatabaseNotFound
		}
		return nil, errors.Wrap(err, "get database")
	}
	records, err := s.repo.ListRecords(ctx, db.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	art, err := export.Render(claims.Format, db, records)
	if err != nil {
		return nil, errors.Wrap(err, "render artifact")
	}
	s.logger.WithFields(logrus.Fields{
		"database_id": db.ID,
		"format":      claims.Format,
		"records":     len(records),
	}).Info("Verification database downloaded")
	return art, nil
}

// RegenerateDatabase rebuilds a database from the current transactions. Refused once
// the business has submitted it.
func (s *ExportService) RegenerateDatabase(ctx context.Context, cycleID, databaseID uuid.UUID) (*verification.Database, error) {
	db, err := s.databaseInCycle(ctx, cycleID, databaseID)
	if err != nil {
		return nil, err
	}
	if db.Locked() {
		return nil, ErrDatabaseLocked
	}
	cycle, err := s.repo.GetCycleByID(ctx, cycleID)
	if err != nil {
		if errors.Is(err, verification.ErrCycleNotFound) {
			return nil, ErrCycleNotFound
		}
		return nil, errors.Wrap(err, "get cycle")
	}
	if cycle.Status == verification.CycleStatusExpired {
		return nil, ErrDeadlineExpired
	}
	if cycle.Status.IsTerminal() {
		return nil, invalidCycleStatus(verification.CycleStatusDistributed, cycle.Status)
	}

	rebuilt, err := s.builder.build(ctx, cycle, db.BusinessID, db)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"cycle_id":     cycle.ID,
		"database_id":  rebuilt.ID,
		"transactions": rebuilt.TransactionCount,
	}).Info("Verification database regenerated")
	return rebuilt, nil
}
