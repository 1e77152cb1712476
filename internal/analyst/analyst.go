// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package analyst implements the goal-directed research agent. An
// analyst owns a persistent conversation, a bounded completion budget,
// and a set of tools for browsing papers, collecting extracted data, and
// submitting an answer that must survive an independent evidence
// critique.
package analyst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/elias-jhsph/scienceai/internal/extraction"
	"github.com/elias-jhsph/scienceai/internal/llm"
	"github.com/elias-jhsph/scienceai/internal/project"
	"github.com/elias-jhsph/scienceai/internal/protocol"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

// DefaultAttempts is the completion budget when the project config
// leaves it unset.
const DefaultAttempts = 5

const (
	toolAllPapers    = "get_all_papers"
	toolCreateList   = "create_named_paper_list"
	toolGetList      = "get_named_paper_list"
	toolCollectData  = "create_data_collection_request"
	toolCompleteGoal = "complete_goal_by_answering_question_with_evidence"
	toolFollowUp     = "answer_followup_question"
)

const systemPrompt = "You are a research analyst working over a database of " +
	"scientific papers. You have been given a single goal or question. Browse " +
	"the papers, create named paper lists to organize them, and issue data " +
	"collection requests to extract the structured evidence you need. When " +
	"you are confident, complete your goal by submitting a detailed answer " +
	"together with the specific data points that support it. Your answer " +
	"will be reviewed; only well-evidenced answers are accepted."

// SchemaPipeline is the slice of the extraction pipeline the analyst
// drives for data collection requests.
type SchemaPipeline interface {
	GenerateSchema(ctx context.Context, request string) (extraction.Schema, error)
	Taxonomy() *extraction.Taxonomy
	Extract(ctx context.Context, contract *extraction.ToolContract, paperText string) (map[string]any, error)
}

// Deps bundles the collaborators an analyst needs.
type Deps struct {
	DB       *project.Manager
	Gateway  *llm.Gateway
	Pipeline SchemaPipeline
	Model    string
	Attempts int
	Log      zerolog.Logger
}

// Analyst is one agent bound to a (name, goal) identity. The identity is
// immutable once created; reopening the same name resumes the persisted
// record and conversation.
type Analyst struct {
	deps Deps

	name     string
	goal     string
	answer   string
	evidence string

	// answerAttempts counts rejected completion calls, reconstructed
	// from the persisted conversation on resume.
	answerAttempts int

	followUpAnswer   string
	followUpEvidence string

	// shortIDs maps ten-character paper prefixes to full ids. It is
	// owned by this analyst alone and populated as tools run.
	shortIDs map[string]string

	log zerolog.Logger
}

// New opens or creates the analyst named name with the given goal. An
// existing record's goal, answer, and evidence win over the arguments.
func New(ctx context.Context, deps Deps, name, goal string) (*Analyst, error) {
	if deps.Attempts <= 0 {
		deps.Attempts = DefaultAttempts
	}
	a := &Analyst{
		deps:     deps,
		name:     name,
		goal:     goal,
		shortIDs: map[string]string{},
		log:      deps.Log.With().Str("analyst", name).Logger(),
	}

	record, err := deps.DB.AnalystRecord(ctx, name)
	switch {
	case err == nil:
		a.goal = record.Goal
		a.answer = record.Answer
		a.evidence = record.Evidence
	case errors.Is(err, types.ErrAnalystNotFound):
		if err := deps.DB.CreateAnalyst(ctx, name, goal); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	messages, err := deps.DB.AnalystContext(ctx, name, true)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		if msg.Role == types.RoleTool && msg.Name == toolCompleteGoal {
			a.answerAttempts++
		}
	}
	return a, nil
}

// Name returns the analyst's name.
func (a *Analyst) Name() string { return a.name }

// Goal returns the analyst's goal.
func (a *Analyst) Goal() string { return a.goal }

// Answer returns the terminal answer, empty while still pursuing.
func (a *Analyst) Answer() string { return a.answer }

// Evidence returns the terminal evidence, empty while still pursuing.
func (a *Analyst) Evidence() string { return a.evidence }

// Answered reports whether the analyst reached a terminal state.
func (a *Analyst) Answered() bool { return a.answer != "" }

// PursueGoal drives the analyst until it answers or exhausts its
// completion budget. An exhausted analyst installs a synthetic answer
// and evidence pair summarizing the rejection rationales, so the caller
// always receives a non-empty answer.
func (a *Analyst) PursueGoal(ctx context.Context) error {
	messages, err := a.deps.DB.AnalystContext(ctx, a.name, true)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		seed := []types.Message{
			{Role: types.RoleSystem, Content: systemPrompt},
			{Role: types.RoleUser, Content: "Here is your goal/question: " + a.goal},
		}
		if err := a.deps.DB.AppendAnalystContext(ctx, a.name, seed...); err != nil {
			return err
		}
	}

	reg := a.registry(ctx)
	temp := 0.2
	starved := 0
	for !a.Answered() {
		messages, err = a.deps.DB.AnalystContext(ctx, a.name, true)
		if err != nil {
			return err
		}
		resp, err := a.deps.Gateway.Chat(ctx, types.ChatRequest{
			Model:       a.deps.Model,
			Messages:    messages,
			Tools:       reg.Schemas(),
			Temperature: &temp,
		})
		if err != nil {
			return err
		}
		if resp == nil {
			// A degraded gateway yields nothing to fold into the
			// conversation, and a drained call budget never recovers
			// within the turn. Repeated empty responses spend the
			// completion budget so the loop still terminates.
			starved++
			if starved >= a.deps.Attempts {
				a.exhaust(ctx)
			}
			continue
		}
		starved = 0
		turn := protocol.RunTurn(resp, reg, protocol.Execute)
		if len(turn.Messages) > 0 {
			if err := a.deps.DB.AppendAnalystContext(ctx, a.name, turn.Messages...); err != nil {
				return err
			}
		}
		if a.answerAttempts >= a.deps.Attempts && !a.Answered() {
			a.exhaust(ctx)
		}
	}
	return a.deps.DB.SetAnalystOutcome(ctx, a.name, a.answer, a.evidence)
}

// exhaust installs the synthetic failure answer, collecting every
// rejection rationale from the conversation as evidence.
func (a *Analyst) exhaust(ctx context.Context) {
	a.answer = "The analyst has not been able to answer the question in the " +
		"allotted attempts. Refine the goal and make sure it is specific and " +
		"longer to help the next analyst succeed where this one failed. You " +
		"should remind it that when it creates its data collection requests " +
		"it should include details on how to avoid those pitfalls."

	var reasons []string
	messages, err := a.deps.DB.AnalystContext(ctx, a.name, true)
	if err == nil {
		for _, msg := range messages {
			if msg.Role == types.RoleTool && msg.Name == toolCompleteGoal {
				reasons = append(reasons, msg.Content)
			}
		}
	}
	a.evidence = fmt.Sprintf(
		"Here are the reasons the analyst failed to reach its goal after %d attempts:\n\n%s",
		a.deps.Attempts, joinParagraphs(reasons))
	a.log.Warn().Int("attempts", a.deps.Attempts).Msg("analyst exhausted its completion budget")
}

// resolvePaperID maps a short id back to a full paper id, refreshing the
// analyst's lookup table from the store on a miss.
func (a *Analyst) resolvePaperID(ctx context.Context, short string) (string, error) {
	if full, ok := a.shortIDs[short]; ok {
		return full, nil
	}
	papers, err := a.deps.DB.Papers(ctx)
	if err != nil {
		return "", err
	}
	for _, paper := range papers {
		a.shortIDs[paper.ShortID()] = paper.ID
	}
	if full, ok := a.shortIDs[short]; ok {
		return full, nil
	}
	return "", fmt.Errorf("paper %s: %w", short, types.ErrPaperNotFound)
}

func (a *Analyst) rememberPapers(papers []types.Paper) map[string]string {
	out := make(map[string]string, len(papers))
	for _, paper := range papers {
		a.shortIDs[paper.ShortID()] = paper.ID
		out[paper.ShortID()] = paper.Title
	}
	return out
}

func joinParagraphs(parts []string) string {
	var out string
	for i, part := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += part
	}
	return out
}

func encodeResult(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding tool result: %w", err)
	}
	return string(raw), nil
}
