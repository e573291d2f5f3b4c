package tradematch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/pkg/models"
)

// User-facing lifecycle rejections.
var (
	ErrNotParticipant = errors.New("user is not a participant in this match")
	ErrMatchClosed    = errors.New("match is in a terminal state")
	ErrNotAccepted    = errors.New("match has not been accepted by all participants")
)

// loadOpen fetches a match, verifies participation and that the match
// is still open. Expiry is enforced lazily here as well as by the
// periodic sweep.
func (e *Engine) loadOpen(ctx context.Context, matchID, userID uuid.UUID) (*models.TradeMatch, error) {
	m, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if models.MatchTerminal(m.Status) {
		return nil, ErrMatchClosed
	}
	if m.IsExpired(time.Now().UTC()) {
		m.Status = models.MatchExpired
		if err := e.store.SaveMatch(ctx, m); err != nil {
			return nil, err
		}
		return nil, ErrMatchClosed
	}
	return m, nil
}

// MarkViewed moves a fresh suggestion to VIEWED on first view by any
// participant. Later views are no-ops; transitions never move backward.
func (e *Engine) MarkViewed(ctx context.Context, matchID, userID uuid.UUID) (*models.TradeMatch, error) {
	m, err := e.loadOpen(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MatchSuggested {
		return m, nil
	}
	m.Status = models.MatchViewed
	if err := e.store.SaveMatch(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Accept records one participant's acceptance. The match moves to
// PENDING on the first acceptance and to ACCEPTED once every
// participant has accepted.
func (e *Engine) Accept(ctx context.Context, matchID, userID uuid.UUID) (*models.TradeMatch, error) {
	m, err := e.loadOpen(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}

	if m.Acceptances == nil {
		m.Acceptances = models.AcceptanceMap{}
	}
	now := time.Now().UTC()
	m.Acceptances[userID.String()] = models.Acceptance{Accepted: true, At: &now}

	all := true
	for _, p := range m.Participants {
		if !m.Acceptances[p.UserID.String()].Accepted {
			all = false
			break
		}
	}
	if all {
		m.Status = models.MatchAccepted
	} else if m.Status != models.MatchAccepted {
		m.Status = models.MatchPending
	}

	if err := e.store.SaveMatch(ctx, m); err != nil {
		return nil, err
	}
	e.logger.Info("match acceptance recorded",
		zap.String("match_id", m.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("status", m.Status))
	return m, nil
}

// Decline terminates the match; one decline is final for everyone.
func (e *Engine) Decline(ctx context.Context, matchID, userID uuid.UUID) (*models.TradeMatch, error) {
	m, err := e.loadOpen(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}

	if m.Acceptances == nil {
		m.Acceptances = models.AcceptanceMap{}
	}
	now := time.Now().UTC()
	m.Acceptances[userID.String()] = models.Acceptance{Declined: true, At: &now}
	m.Status = models.MatchDeclined

	if err := e.store.SaveMatch(ctx, m); err != nil {
		return nil, err
	}
	e.logger.Info("match declined",
		zap.String("match_id", m.ID.String()),
		zap.String("user_id", userID.String()))
	return m, nil
}

// Complete closes an ACCEPTED match after external confirmation,
// optionally linking the meetup that settled it.
func (e *Engine) Complete(ctx context.Context, matchID, userID uuid.UUID, meetupID *uuid.UUID) (*models.TradeMatch, error) {
	m, err := e.loadOpen(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MatchAccepted {
		return nil, ErrNotAccepted
	}

	now := time.Now().UTC()
	m.Status = models.MatchCompleted
	m.CompletedAt = &now
	m.MeetupID = meetupID

	if err := e.store.SaveMatch(ctx, m); err != nil {
		return nil, err
	}
	e.logger.Info("match completed", zap.String("match_id", m.ID.String()))
	return m, nil
}
