package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apoorv-echos11/polling-app/internal/models"
)

// ConfirmWipePhrase must be supplied verbatim to RemoveAll. A master password
// alone is not enough to wipe every poll.
const ConfirmWipePhrase = "DELETE_ALL_POLLS"

// Broadcaster pushes a results snapshot to every subscriber of a poll's
// channel. Implemented by the websocket hub; nil-safe so the service can run
// headless in tests.
type Broadcaster interface {
	BroadcastResults(pollID string, payload models.ResultsPayload)
}

// Service is the poll lifecycle manager and vote processor. A single mutex
// serializes all mutating operations within this process; cross-instance
// races on the active flag remain best-effort (see the note on deactivateAll).
type Service struct {
	mu     sync.Mutex
	repo   *Repository
	ledger *Ledger
	master string
	bcast  Broadcaster
}

// NewService wires the lifecycle manager over a repository and ledger.
// master is the cross-poll administrative secret.
func NewService(repo *Repository, ledger *Ledger, master string) *Service {
	return &Service{repo: repo, ledger: ledger, master: master}
}

// SetBroadcaster attaches the realtime fan-out. Called once at startup, after
// the hub exists.
func (s *Service) SetBroadcaster(b Broadcaster) { s.bcast = b }

func (s *Service) publish(pollID string, payload models.ResultsPayload) {
	if s.bcast != nil {
		s.bcast.BroadcastResults(pollID, payload)
	}
}

// CreateResult is returned from Create: the new poll's identity plus the
// links handed to the organizer.
type CreateResult struct {
	PollID     string `json:"pollId"`
	AdminToken string `json:"adminToken"`
	VoterLink  string `json:"voterLink"`
	AdminLink  string `json:"adminLink"`
}

// Create validates the input, deactivates every currently active poll, and
// persists a new poll with active set. The new poll becomes the single live
// poll of the system.
func (s *Service) Create(ctx context.Context, title string, questions []models.QuestionInput) (*CreateResult, error) {
	if err := validate(title, questions); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deactivateAll(ctx, ""); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	poll := &models.Poll{
		ID:         uuid.NewString(),
		AdminToken: uuid.NewString(),
		Title:      title,
		Questions:  buildQuestions(questions),
		Active:     true,
		CreatedAt:  now,
	}
	if err := s.repo.Put(ctx, poll); err != nil {
		return nil, err
	}

	slog.Info("new active poll created, all other polls deactivated",
		"pollId", poll.ID, "title", title, "questions", len(poll.Questions))

	return &CreateResult{
		PollID:     poll.ID,
		AdminToken: poll.AdminToken,
		VoterLink:  fmt.Sprintf("/poll/%s", poll.ID),
		AdminLink:  fmt.Sprintf("/poll/%s/admin/%s", poll.ID, poll.AdminToken),
	}, nil
}

// Activate marks one poll active and deactivates all others. Authorized by
// the poll's own admin token or the master password.
func (s *Service) Activate(ctx context.Context, pollID, adminToken, adminPassword string) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, err := s.repo.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll.AdminToken != adminToken && !s.masterOK(adminPassword) {
		return nil, &AuthError{Msg: "unauthorized"}
	}

	if err := s.deactivateAll(ctx, pollID); err != nil {
		return nil, err
	}
	poll.Active = true
	if err := s.repo.Put(ctx, poll); err != nil {
		return nil, err
	}
	slog.Info("poll activated, all other polls deactivated", "pollId", pollID, "title", poll.Title)
	cp := poll.Clone()
	return &cp, nil
}

// deactivateAll flips active off on every poll except keep, first over the
// cache, then reconciled against the store since the two can disagree after
// multi-instance operation. The sweep is a snapshot-then-write loop, not a
// transaction: two racing activations can leave more than one poll active.
// That is accepted behavior, not a bug to mask.
func (s *Service) deactivateAll(ctx context.Context, keep string) error {
	for _, p := range s.repo.Cached() {
		if p.ID != keep && p.Active {
			p.Active = false
			if err := s.repo.Put(ctx, p); err != nil {
				return err
			}
		}
	}
	stored, err := s.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, p := range stored {
		if p.ID != keep && p.Active {
			p.Active = false
			if err := s.repo.Put(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// Update edits a poll's title and question set, preserving tallies wherever
// the edit is compatible. A question keeps its votes only if its kind is
// unchanged at the same index: choice tallies carry over per surviving
// option, open-text responses carry over whole. Anything else starts fresh.
func (s *Service) Update(ctx context.Context, pollID, adminToken, title string, questions []models.QuestionInput) (*models.Poll, error) {
	if err := validate(title, questions); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	poll, err := s.repo.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll.AdminToken != adminToken {
		return nil, &AuthError{Msg: "invalid admin token"}
	}

	updated := make([]models.Question, 0, len(questions))
	for i, in := range questions {
		var prev *models.Question
		if i < len(poll.Questions) {
			prev = &poll.Questions[i]
		}
		updated = append(updated, migrateQuestion(i, in, prev))
	}

	poll.Title = title
	poll.Questions = updated
	poll.UpdatedAt = time.Now().UTC()
	if err := s.repo.Put(ctx, poll); err != nil {
		return nil, err
	}
	slog.Info("poll updated", "pollId", pollID, "title", title)
	cp := poll.Clone()
	return &cp, nil
}

// ClearResults zeroes every tally, response and the participant counter,
// purges the poll's vote markers, and broadcasts the zeroed snapshot. The
// poll's identity, title, questions and admin token survive. Safe to call
// twice: clearing an already-clear poll is a no-op with the same outcome.
func (s *Service) ClearResults(ctx context.Context, pollID, adminToken string) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, err := s.repo.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll.AdminToken != adminToken {
		return nil, &AuthError{Msg: "invalid admin token"}
	}

	for i := range poll.Questions {
		q := &poll.Questions[i]
		switch q.Kind {
		case models.KindChoice:
			q.Tally = zeroTally(q.Options)
			q.Responses = nil
		case models.KindOpenText:
			q.Responses = []models.Response{}
			q.Tally = nil
		}
		q.TotalVotes = 0
	}
	poll.TotalParticipants = 0

	if err := s.repo.Put(ctx, poll); err != nil {
		return nil, err
	}
	if _, err := s.ledger.PurgePoll(ctx, pollID); err != nil {
		return nil, err
	}

	s.publish(pollID, poll.Results())
	slog.Info("poll results cleared", "pollId", pollID, "title", poll.Title)
	cp := poll.Clone()
	return &cp, nil
}

// Remove deletes one poll and purges its markers. Master secret only: a
// per-poll admin token cannot destroy the poll. Returns how many marker keys
// went with it.
func (s *Service) Remove(ctx context.Context, pollID, password string) (*models.Poll, int, error) {
	if !s.masterOK(password) {
		return nil, 0, &AuthError{Msg: "invalid admin password"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	poll, err := s.repo.Get(ctx, pollID)
	if err != nil {
		return nil, 0, err
	}
	purged, err := s.repo.Delete(ctx, pollID)
	if err != nil {
		return nil, 0, err
	}
	slog.Info("poll deleted", "pollId", pollID, "title", poll.Title, "purgedMarkers", purged)
	return poll, purged, nil
}

// WipeResult reports what RemoveAll destroyed.
type WipeResult struct {
	DeletedPolls   int `json:"deletedPolls"`
	DeletedMarkers int `json:"deletedVoteKeys"`
}

// RemoveAll deletes every poll and every marker. Requires the master secret
// plus the exact confirmation phrase.
func (s *Service) RemoveAll(ctx context.Context, password, confirm string) (*WipeResult, error) {
	if !s.masterOK(password) {
		return nil, &AuthError{Msg: "invalid admin password"}
	}
	if confirm != ConfirmWipePhrase {
		return nil, validationErrf("confirmation required: pass confirm=%s", ConfirmWipePhrase)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	polls, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	result := &WipeResult{}
	for _, p := range polls {
		purged, err := s.repo.Delete(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		result.DeletedPolls++
		result.DeletedMarkers += purged
	}
	s.repo.Reset()
	slog.Warn("all polls deleted", "count", result.DeletedPolls)
	return result, nil
}

// ActiveSummary identifies the currently active poll.
type ActiveSummary struct {
	PollID string `json:"pollId"`
	Title  string `json:"title"`
}

// ActivePoll finds the poll with the active flag set, checking the cache
// before scanning the store. ErrNotFound when no poll is live.
func (s *Service) ActivePoll(ctx context.Context) (*ActiveSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.repo.Cached() {
		if p.Active {
			return &ActiveSummary{PollID: p.ID, Title: p.Title}, nil
		}
	}
	polls, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range polls {
		if p.Active {
			return &ActiveSummary{PollID: p.ID, Title: p.Title}, nil
		}
	}
	return nil, ErrNotFound
}

// GetPublic resolves a poll for a voter-facing read: the admin token is
// stripped, and an inactive poll comes back with ErrPollClosed alongside the
// copy so the boundary can say "exists but closed" rather than "gone".
func (s *Service) GetPublic(ctx context.Context, pollID string) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, err := s.repo.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	pub := poll.Public()
	if !poll.Active {
		return &pub, ErrPollClosed
	}
	return &pub, nil
}

// GetAdmin resolves the full poll for its admin. Token must match exactly.
func (s *Service) GetAdmin(ctx context.Context, pollID, adminToken string) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, err := s.repo.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll.AdminToken != adminToken {
		return nil, &AuthError{Msg: "invalid admin token"}
	}
	cp := poll.Clone()
	return &cp, nil
}

// Results returns the current snapshot for a poll, active or not: closed
// polls still show their final numbers.
func (s *Service) Results(ctx context.Context, pollID string) (*models.ResultsPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, err := s.repo.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	payload := poll.Results()
	return &payload, nil
}

// VerifyMaster checks the master secret.
func (s *Service) VerifyMaster(password string) bool { return s.masterOK(password) }

// Summaries lists every poll for the master admin view, newest first.
func (s *Service) Summaries(ctx context.Context, password string) ([]models.PollSummary, error) {
	if !s.masterOK(password) {
		return nil, &AuthError{Msg: "invalid admin password"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	polls, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.PollSummary, 0, len(polls))
	for _, p := range polls {
		summary := models.PollSummary{
			ID:                p.ID,
			Title:             p.Title,
			QuestionsCount:    len(p.Questions),
			TotalParticipants: p.TotalParticipants,
			CreatedAt:         p.CreatedAt,
			Active:            p.Active,
			AdminToken:        p.AdminToken,
			Questions:         make([]models.QuestionSummary, 0, len(p.Questions)),
		}
		for _, q := range p.Questions {
			summary.Questions = append(summary.Questions, models.QuestionSummary{
				Question:   q.Text,
				Kind:       q.Kind,
				TotalVotes: q.TotalVotes,
			})
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Service) masterOK(password string) bool {
	return s.master != "" && password == s.master
}

// validate applies the create/update input rules: non-empty title, 1 to 7
// questions, each with text and a recognized kind, choice kinds with 2 to 6
// unique options. Duplicate options are rejected outright: a map-keyed tally
// would silently merge their counts.
func validate(title string, questions []models.QuestionInput) error {
	if title == "" {
		return &ValidationError{Msg: "title is required"}
	}
	if len(questions) == 0 {
		return &ValidationError{Msg: "at least one question is required"}
	}
	if len(questions) > models.MaxQuestions {
		return validationErrf("maximum %d questions allowed per poll", models.MaxQuestions)
	}
	for i, q := range questions {
		if q.Text == "" {
			return validationErrf("question %d: question text is required", i+1)
		}
		switch q.Kind {
		case models.KindChoice:
			if len(q.Options) < models.MinOptions {
				return validationErrf("question %d: choice needs at least %d options", i+1, models.MinOptions)
			}
			if len(q.Options) > models.MaxOptions {
				return validationErrf("question %d: choice allows at most %d options", i+1, models.MaxOptions)
			}
			seen := make(map[string]bool, len(q.Options))
			for _, opt := range q.Options {
				if opt == "" {
					return validationErrf("question %d: options must be non-empty", i+1)
				}
				if seen[opt] {
					return validationErrf("question %d: duplicate option %q", i+1, opt)
				}
				seen[opt] = true
			}
		case models.KindOpenText:
			// no options to validate
		default:
			return validationErrf("question %d: unknown question type %q", i+1, q.Kind)
		}
	}
	return nil
}

// buildQuestions turns validated input into fresh questions with zeroed
// tallies.
func buildQuestions(inputs []models.QuestionInput) []models.Question {
	out := make([]models.Question, 0, len(inputs))
	for i, in := range inputs {
		out = append(out, freshQuestion(i, in))
	}
	return out
}

func freshQuestion(index int, in models.QuestionInput) models.Question {
	q := models.Question{
		ID:   index,
		Text: in.Text,
		Kind: in.Kind,
	}
	switch in.Kind {
	case models.KindChoice:
		q.Options = in.Options
		q.Tally = zeroTally(in.Options)
	case models.KindOpenText:
		q.Responses = []models.Response{}
	}
	return q
}

// migrateQuestion carries engagement data across a compatible edit. A kind
// change (or a brand-new index) resets to fresh; same-kind choice edits keep
// counts per surviving option and recompute the total, so dropped options
// drop their votes too.
func migrateQuestion(index int, in models.QuestionInput, prev *models.Question) models.Question {
	if prev == nil || prev.Kind != in.Kind {
		return freshQuestion(index, in)
	}

	q := models.Question{
		ID:   index,
		Text: in.Text,
		Kind: in.Kind,
	}
	switch in.Kind {
	case models.KindChoice:
		q.Options = in.Options
		q.Tally = make(map[string]int, len(in.Options))
		total := 0
		for _, opt := range in.Options {
			count := prev.Tally[opt]
			q.Tally[opt] = count
			total += count
		}
		q.TotalVotes = total
	case models.KindOpenText:
		q.Responses = prev.Responses
		if q.Responses == nil {
			q.Responses = []models.Response{}
		}
		q.TotalVotes = prev.TotalVotes
	}
	return q
}

func zeroTally(options []string) map[string]int {
	tally := make(map[string]int, len(options))
	for _, opt := range options {
		tally[opt] = 0
	}
	return tally
}
