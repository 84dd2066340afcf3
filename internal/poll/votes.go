package poll

import (
	"context"
	"log/slog"
	"time"

	goaway "github.com/TwiN/go-away"

	"github.com/apoorv-echos11/polling-app/internal/models"
)

// MaskToken replaces open-text answers classified as profane. The original
// text is never stored.
const MaskToken = "***"

// voterTagLen is how much of the connection's session id ends up on a
// stored response. Enough to correlate answers from one session on a
// dashboard, not enough to identify anyone.
const voterTagLen = 8

// SubmitResult acknowledges an accepted vote batch to the submitter.
// Skipped counts answers dropped for referencing an unknown question index
// or an unrecognized option; the batch itself still succeeds.
type SubmitResult struct {
	Message string `json:"message"`
	Skipped int    `json:"skipped,omitempty"`
}

// Submit validates and applies one voter's whole answer batch against a poll.
// The batch is the unit of participation: totalParticipants counts people,
// not answers, and a voter gets exactly one batch per poll.
//
// The ledger marker is reserved before any tally mutation. Two concurrent
// submissions from the same voter race only on that single atomic
// reservation, so at most one of them mutates tallies.
func (s *Service) Submit(ctx context.Context, pollID, voterID, sessionID string, answers []models.Answer) (*SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, err := s.repo.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !poll.Active {
		return nil, ErrPollClosed
	}

	ok, err := s.ledger.Reserve(ctx, pollID, voterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyVoted
	}

	// Everything below mutates a clone. The cached poll is replaced only
	// once the store write succeeds, so a failed write leaves no trace of
	// this batch and the voter's retry cannot double-count.
	next := poll.Clone()

	skipped := 0
	now := time.Now().UTC()
	for _, answer := range answers {
		if answer.QuestionIndex < 0 || answer.QuestionIndex >= len(next.Questions) {
			skipped++
			continue
		}
		q := &next.Questions[answer.QuestionIndex]
		switch q.Kind {
		case models.KindChoice:
			if _, known := q.Tally[answer.Value]; !known {
				skipped++
				continue
			}
			q.Tally[answer.Value]++
			q.TotalVotes++
		case models.KindOpenText:
			text := answer.Value
			if goaway.IsProfane(text) {
				text = MaskToken
			}
			q.Responses = append(q.Responses, models.Response{
				Text:        text,
				SubmittedAt: now,
				VoterTag:    voterTag(sessionID),
			})
			q.TotalVotes++
		}
	}
	next.TotalParticipants++

	if err := s.repo.Put(ctx, &next); err != nil {
		// Roll the reservation back so the voter is not locked out of a
		// poll that never recorded their answers.
		if relErr := s.ledger.Release(ctx, pollID, voterID); relErr != nil {
			slog.Error("failed to release vote marker after store failure",
				"pollId", pollID, "voterId", voterID, "error", relErr)
		}
		return nil, err
	}

	if skipped > 0 {
		slog.Warn("vote batch had unusable answers", "pollId", pollID, "skipped", skipped)
	}

	s.publish(pollID, next.Results())

	return &SubmitResult{Message: "All responses recorded successfully", Skipped: skipped}, nil
}

func voterTag(sessionID string) string {
	if len(sessionID) > voterTagLen {
		return sessionID[:voterTagLen]
	}
	return sessionID
}
