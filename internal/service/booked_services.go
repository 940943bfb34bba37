package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bookflow/internal/domain"
	"bookflow/internal/events"
	"bookflow/internal/models"
)

// BookedServiceService drives the booked service state machine.
type BookedServiceService struct {
	repo       domain.BookedServiceRepository
	payments   *PaymentService
	events     domain.EventPublisher
	windowDays int
	logger     *zerolog.Logger
	now        clock
}

func NewBookedServiceService(
	repo domain.BookedServiceRepository,
	payments *PaymentService,
	publisher domain.EventPublisher,
	windowDays int,
	logger *zerolog.Logger,
) *BookedServiceService {
	return &BookedServiceService{
		repo:       repo,
		payments:   payments,
		events:     publisher,
		windowDays: windowDays,
		logger:     logger,
		now:        time.Now,
	}
}

func validServiceStatus(status string) bool {
	switch status {
	case models.ServicePending,
		models.ServiceInProgress,
		models.ServiceComplete,
		models.ServiceCancellationRequested,
		models.ServiceCanceled:
		return true
	}
	return false
}

func (s *BookedServiceService) Get(ctx context.Context, id int64) (*models.BookedService, error) {
	return s.repo.GetBookedService(ctx, id)
}

// UpdateStatus persists an admin or team status change. A
// service_status_changed event is published only when the status differs.
func (s *BookedServiceService) UpdateStatus(ctx context.Context, id int64, status string) (*models.BookedService, error) {
	if !validServiceStatus(status) {
		return nil, invalid("status", "unknown service status %q", status)
	}

	svc, err := s.repo.GetBookedService(ctx, id)
	if err != nil {
		return nil, err
	}
	if svc.Status == status {
		return svc, nil
	}

	old := svc.Status
	if err := s.repo.UpdateBookedServiceStatus(ctx, id, status, ""); err != nil {
		return nil, err
	}
	svc.Status = status

	if status == models.ServiceCanceled && s.payments != nil {
		if err := s.payments.CancelEligibility(ctx, id); err != nil {
			s.logger.Error().Err(err).Int64("booked_service_id", id).Msg("Failed to cancel payment eligibility")
		}
	}

	s.publish(events.EventServiceStatusChanged, svc, old)
	s.logger.Info().Int64("booked_service_id", id).Str("old_status", old).Str("new_status", status).Msg("service status updated")

	return s.repo.GetBookedService(ctx, id)
}

// CanRequestCancellation reports whether the client may still ask to cancel.
func (s *BookedServiceService) CanRequestCancellation(svc *models.BookedService, now time.Time) bool {
	if svc.IsTerminal() || svc.Status == models.ServiceCancellationRequested {
		return false
	}
	return now.Sub(svc.CreatedAt) < windowDuration(s.windowDays)
}

// RequestCancellation moves the service to cancellation_requested. It returns
// ErrCancellationUnavailable outside the window or on a closed service.
func (s *BookedServiceService) RequestCancellation(ctx context.Context, id int64, reason string) (*models.BookedService, error) {
	svc, err := s.repo.GetBookedService(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.CanRequestCancellation(svc, s.now()) {
		s.logger.Info().Int64("booked_service_id", id).Str("status", svc.Status).Msg("cancellation unavailable")
		return nil, ErrCancellationUnavailable
	}

	reason = strings.TrimSpace(reason)
	old := svc.Status
	if err := s.repo.UpdateBookedServiceStatus(ctx, id, models.ServiceCancellationRequested, reason); err != nil {
		return nil, err
	}
	svc.Status = models.ServiceCancellationRequested
	if reason != "" {
		svc.CancellationReason = reason
	}

	s.publish(events.EventServiceStatusChanged, svc, old)
	s.publish(events.EventCancellationRequested, svc, old)

	return s.repo.GetBookedService(ctx, id)
}

// UpdateTeamID reassigns the service. The team fee stays as booked.
func (s *BookedServiceService) UpdateTeamID(ctx context.Context, id, teamID int64) (*models.BookedService, error) {
	if teamID <= 0 {
		return nil, invalid("team_id", "must be positive")
	}
	if err := s.repo.UpdateBookedServiceTeam(ctx, id, teamID); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("booked_service_id", id).Int64("team_id", teamID).Msg("service reassigned")
	return s.repo.GetBookedService(ctx, id)
}

func (s *BookedServiceService) publish(eventType string, svc *models.BookedService, old string) {
	payload := events.ServiceEventPayload{
		BookedServiceID: svc.ID,
		IntentID:        svc.IntentID,
		ClientID:        svc.ClientID,
		TeamID:          svc.TeamID,
		Name:            svc.Name,
		OldStatus:       old,
		NewStatus:       svc.Status,
		Reason:          svc.CancellationReason,
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Int64("booked_service_id", svc.ID).Str("event", eventType).Msg("Failed to publish event")
	}
}
