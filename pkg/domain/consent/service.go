package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	shared "github.com/sitebridge/server/pkg"
	"github.com/sitebridge/server/pkg/types"
)

// Service is the anti-replay state machine guarding multi-step
// authentication and consent flows. Every issued state id is a single-use
// nonce: an accepted submit rotates it, and the audit trail exists only to
// tell the caller exactly why a rejected submit failed.
type Service struct {
	db        shared.Database
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time
}

func NewService(db shared.Database, logger *slog.Logger, retention time.Duration) *Service {
	return &Service{db: db, logger: logger, retention: retention, now: time.Now}
}

// CreateParams describes the session to open for one user-site.
type CreateParams struct {
	UserID        string
	UserSiteID    uuid.UUID
	SiteID        uuid.UUID
	Provider      string
	Operation     types.ConsentOperation
	RedirectURLID string
	ActivityID    uuid.UUID
	ClientID      string

	// Only for update operations: the connection state to restore when the
	// update flow fails.
	OriginalConnectionStatus types.ConnectionStatus
	OriginalFailureReason    string
}

// Create opens a session with a fresh state nonce at step 0, replacing any
// existing session for the same user-site. The created timestamp is copied
// forward from a replaced session so it keeps approximating true consent
// age across renewals.
func (s *Service) Create(ctx context.Context, params CreateParams) (*types.ConsentSessionRecord, error) {
	now := s.now()
	created := now

	existing, err := s.db.GetConsentSession(ctx, params.UserID, params.UserSiteID)
	switch {
	case err == nil:
		created = existing.Created
	case errors.Is(err, shared.ErrNotFound):
	default:
		return nil, fmt.Errorf("checking existing session for user-site %s: %w", params.UserSiteID, err)
	}

	session := &types.ConsentSessionRecord{
		UserID:                   params.UserID,
		UserSiteID:               params.UserSiteID,
		StateID:                  uuid.New(),
		SiteID:                   params.SiteID,
		Provider:                 params.Provider,
		Operation:                params.Operation,
		RedirectURLID:            params.RedirectURLID,
		StepNumber:               0,
		ActivityID:               params.ActivityID,
		ClientID:                 params.ClientID,
		Created:                  created,
		OriginalConnectionStatus: params.OriginalConnectionStatus,
		OriginalFailureReason:    params.OriginalFailureReason,
	}
	if err := s.db.SetConsentSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persisting session for user-site %s: %w", params.UserSiteID, err)
	}

	audit := &types.SessionStateRecord{
		UserID:     params.UserID,
		StateID:    session.StateID,
		UserSiteID: params.UserSiteID,
		Created:    now,
		ExpiresAt:  now.Add(s.retention),
	}
	if err := s.db.SetSessionState(ctx, audit); err != nil {
		return nil, fmt.Errorf("persisting state audit record %s: %w", session.StateID, err)
	}

	s.logger.Info("Consent session created",
		"user_site_id", params.UserSiteID,
		"operation", params.Operation,
		"activity_id", params.ActivityID,
	)
	return session, nil
}

// Submit consumes stateID and rotates the session to a fresh nonce. It
// returns the pre-rotation session together with the new state id the
// caller must hand out for the next step.
//
// On a miss the failure is classified against the audit trail, in priority
// order: never issued, already submitted, superseded by a newer session,
// or expired by retention.
func (s *Service) Submit(ctx context.Context, userID string, stateID uuid.UUID) (*types.ConsentSessionRecord, uuid.UUID, error) {
	newStateID := uuid.New()
	session, err := s.db.SubmitConsentSession(ctx, userID, stateID, newStateID, s.retention)
	if err == nil {
		s.logger.Info("Consent state rotated",
			"user_site_id", session.UserSiteID,
			"step_number", session.StepNumber,
		)
		return session, newStateID, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, uuid.Nil, fmt.Errorf("submitting state %s: %w", stateID, err)
	}
	return nil, uuid.Nil, s.classifyMiss(ctx, userID, stateID)
}

func (s *Service) classifyMiss(ctx context.Context, userID string, stateID uuid.UUID) error {
	audit, err := s.db.GetSessionState(ctx, userID, stateID)
	if errors.Is(err, shared.ErrNotFound) {
		return &UnknownStateError{StateID: stateID}
	}
	if err != nil {
		return fmt.Errorf("consulting audit trail for state %s: %w", stateID, err)
	}

	if audit.Submitted {
		submittedAt := audit.Created
		if audit.SubmittedTime != nil {
			submittedAt = *audit.SubmittedTime
		}
		return &AlreadySubmittedError{StateID: stateID, SubmittedAt: submittedAt}
	}

	current, err := s.db.GetConsentSession(ctx, userID, audit.UserSiteID)
	if err == nil && current.StateID != stateID {
		return &SupersededError{
			StateID:      stateID,
			UserSiteID:   audit.UserSiteID,
			NewerCreated: current.Created,
		}
	}
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("checking live session for user-site %s: %w", audit.UserSiteID, err)
	}

	return &ExpiredError{StateID: stateID, IssuedAt: audit.Created}
}

// AdvanceStep increments the step counter without rotating the nonce. Used
// when the provider returns an intermediate form or redirect that must be
// re-submitted under the same handshake.
func (s *Service) AdvanceStep(ctx context.Context, session *types.ConsentSessionRecord) error {
	session.StepNumber++
	if err := s.db.SetConsentSession(ctx, session); err != nil {
		session.StepNumber--
		return fmt.Errorf("advancing session for user-site %s: %w", session.UserSiteID, err)
	}
	return nil
}

// UpdateStep records the provider's continuation token and the pending
// step. Exactly one of formStep and redirectStep must be set.
func (s *Service) UpdateStep(ctx context.Context, session *types.ConsentSessionRecord, providerState, formStep, redirectStep string) error {
	if (formStep == "") == (redirectStep == "") {
		return fmt.Errorf("exactly one of form step and redirect step must be set for user-site %s", session.UserSiteID)
	}
	session.ProviderState = providerState
	session.FormStep = formStep
	session.RedirectURLStep = redirectStep
	if err := s.db.SetConsentSession(ctx, session); err != nil {
		return fmt.Errorf("updating step for user-site %s: %w", session.UserSiteID, err)
	}
	return nil
}

// Remove deletes the session for a user-site. A no-op when no session
// exists, so user-site deletion can call it unconditionally.
func (s *Service) Remove(ctx context.Context, userID string, userSiteID uuid.UUID) error {
	err := s.db.DeleteConsentSession(ctx, userID, userSiteID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("removing session for user-site %s: %w", userSiteID, err)
	}
	s.logger.Info("Consent session removed", "user_site_id", userSiteID)
	return nil
}
