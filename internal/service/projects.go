package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"bookflow/internal/database"
	"bookflow/internal/domain"
	"bookflow/internal/models"
)

// ProjectService resolves the client's project and creates per-service
// briefs inside it.
type ProjectService struct {
	repo    domain.ProjectRepository
	catalog ServiceCatalog
	logger  *zerolog.Logger
}

func NewProjectService(repo domain.ProjectRepository, catalog ServiceCatalog, logger *zerolog.Logger) *ProjectService {
	return &ProjectService{repo: repo, catalog: catalog, logger: logger}
}

// Resolve returns the intent's project, creating one when needed. Registered
// clients reuse their existing project; guests get one per intent.
func (s *ProjectService) Resolve(ctx context.Context, intent *models.BookingIntent) (*models.Project, error) {
	if intent.ProjectID != nil {
		return &models.Project{ID: *intent.ProjectID, ClientID: intent.ClientID}, nil
	}

	if !intent.IsGuest() {
		p, err := s.repo.FindProjectByClient(ctx, intent.ClientID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
	}

	p := &models.Project{ClientID: intent.ClientID, Name: projectName(intent)}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("project_id", p.ID).Int64("intent_id", intent.ID).Msg("project created")
	return p, nil
}

func projectName(intent *models.BookingIntent) string {
	if intent.IsGuest() {
		return fmt.Sprintf("Guest booking #%d (%s)", intent.ID, intent.ClientEmail)
	}
	return fmt.Sprintf("Client %s", intent.ClientID)
}

// CreateBriefs creates one brief per brief type used by the services.
// Services without a brief type mapping are skipped.
func (s *ProjectService) CreateBriefs(ctx context.Context, projectID int64, services []*models.BookedService) (int, error) {
	created := 0
	var errs []error
	for _, svc := range services {
		def, ok := s.catalog.Service(svc.ServiceID)
		if !ok || def.BriefType == "" {
			s.logger.Warn().Int64("booked_service_id", svc.ID).Int64("service_id", svc.ServiceID).Msg("no brief type for service, skipping brief")
			continue
		}

		ok, err := s.repo.CreateBrief(ctx, &models.Brief{ProjectID: projectID, BookedServiceID: svc.ID, BriefType: def.BriefType})
		if err != nil {
			errs = append(errs, fmt.Errorf("brief %s for service %d: %w", def.BriefType, svc.ID, err))
			continue
		}
		if ok {
			created++
		}
	}
	return created, errors.Join(errs...)
}
