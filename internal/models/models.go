package models

import "time"

// Question kinds. A question is either a fixed-option multiple choice or a
// free-text prompt; the two kinds keep tallies in different shapes.
const (
	KindChoice   = "choice"
	KindOpenText = "open-text"
)

// Limits enforced at validation time.
const (
	MaxQuestions = 7
	MinOptions   = 2
	MaxOptions   = 6
)

// Response is a single free-text answer on an open-text question.
// Text is already profanity-masked by the time it is stored.
type Response struct {
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submittedAt"`
	VoterTag    string    `json:"voterTag"`
}

// Question is one prompt inside a poll. It is a tagged variant: for
// KindChoice, Options and Tally are populated and Responses is nil; for
// KindOpenText, Responses is populated and Options/Tally are nil. ID is the
// question's position inside the poll and stays stable for its lifetime.
type Question struct {
	ID         int            `json:"id"`
	Text       string         `json:"question"`
	Kind       string         `json:"type"`
	Options    []string       `json:"options,omitempty"`
	Tally      map[string]int `json:"votes,omitempty"`
	Responses  []Response     `json:"responses,omitempty"`
	TotalVotes int            `json:"totalVotes"`
}

// Poll is the unit of everything: a titled set of questions with a single
// active flag and a per-poll admin secret.
type Poll struct {
	ID                string     `json:"id"`
	AdminToken        string     `json:"adminToken,omitempty"`
	Title             string     `json:"title"`
	Questions         []Question `json:"questions"`
	TotalParticipants int        `json:"totalParticipants"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy of the poll. Service methods hand out clones so
// callers can serialize them while votes keep mutating the live instance.
func (p *Poll) Clone() Poll {
	out := *p
	out.Questions = make([]Question, len(p.Questions))
	for i, q := range p.Questions {
		cq := q
		if q.Tally != nil {
			cq.Tally = make(map[string]int, len(q.Tally))
			for opt, n := range q.Tally {
				cq.Tally[opt] = n
			}
		}
		if q.Responses != nil {
			cq.Responses = append([]Response(nil), q.Responses...)
		}
		out.Questions[i] = cq
	}
	return out
}

// Public returns a deep copy safe for voter-facing reads: the admin token is
// blanked so it never serializes.
func (p *Poll) Public() Poll {
	out := p.Clone()
	out.AdminToken = ""
	return out
}

// QuestionResult is the per-question slice of a results snapshot.
type QuestionResult struct {
	QuestionID int            `json:"questionId"`
	Question   string         `json:"question"`
	Kind       string         `json:"type"`
	Options    []string       `json:"options,omitempty"`
	Tally      map[string]int `json:"votes,omitempty"`
	Responses  []Response     `json:"responses,omitempty"`
	TotalVotes int            `json:"totalVotes"`
}

// ResultsPayload is broadcast to every subscriber of a poll channel after a
// vote or a reset, and sent once on join.
type ResultsPayload struct {
	Results           []QuestionResult `json:"results"`
	TotalParticipants int              `json:"totalParticipants"`
}

// Results builds the snapshot for broadcast and the results endpoint. The
// snapshot owns its tallies and responses, detached from the live poll.
func (p *Poll) Results() ResultsPayload {
	clone := p.Clone()
	out := ResultsPayload{
		Results:           make([]QuestionResult, 0, len(clone.Questions)),
		TotalParticipants: clone.TotalParticipants,
	}
	for _, q := range clone.Questions {
		out.Results = append(out.Results, QuestionResult{
			QuestionID: q.ID,
			Question:   q.Text,
			Kind:       q.Kind,
			Options:    q.Options,
			Tally:      q.Tally,
			Responses:  q.Responses,
			TotalVotes: q.TotalVotes,
		})
	}
	return out
}

// PollSummary is the master-admin listing shape: enough to manage a poll
// without shipping full tallies over the wire.
type PollSummary struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	QuestionsCount    int               `json:"questionsCount"`
	TotalParticipants int               `json:"totalParticipants"`
	CreatedAt         time.Time         `json:"createdAt"`
	Active            bool              `json:"active"`
	AdminToken        string            `json:"adminToken"`
	Questions         []QuestionSummary `json:"questions"`
}

// QuestionSummary is the per-question line inside a PollSummary.
type QuestionSummary struct {
	Question   string `json:"question"`
	Kind       string `json:"type"`
	TotalVotes int    `json:"totalVotes"`
}

// QuestionInput is the client-supplied shape of a question on create/update.
type QuestionInput struct {
	Text    string   `json:"question"`
	Kind    string   `json:"type"`
	Options []string `json:"options"`
}

// Answer is one entry of a vote batch: which question, and what the voter
// picked or typed.
type Answer struct {
	QuestionIndex int    `json:"questionIndex"`
	Value         string `json:"value"`
}
