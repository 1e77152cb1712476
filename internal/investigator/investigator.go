// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package investigator implements the principal investigator, the
// top-level conversational controller bound to one project. It drives
// the two-phase startup (ingest papers, announce readiness), serves
// user turns with the delegate_research tool, and replays any turn a
// process restart left unfinished.
package investigator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/elias-jhsph/scienceai/internal/analyst"
	"github.com/elias-jhsph/scienceai/internal/ingest"
	"github.com/elias-jhsph/scienceai/internal/llm"
	"github.com/elias-jhsph/scienceai/internal/project"
	"github.com/elias-jhsph/scienceai/internal/protocol"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

const toolDelegate = "delegate_research"

// placeholderContent stands in for an assistant message that carried
// only tool calls, so the user sees progress instead of a blank entry.
const placeholderContent = "Working on that now..."

const (
	loadingMessage = "Hello, I am ScienceAI. I first need to make sure all your papers are " +
		"loaded into the system before I can help you. I will let you know when I am ready " +
		"to answer your questions. This may take a long time if you uploaded many papers."
	readyMessage = "All papers have been loaded into the system."
)

const systemPrompt = "You are ScienceAI, a principal investigator supervising a team of " +
	"analyst agents over a database of research papers uploaded by the user. Answer the " +
	"user's research questions by delegating focused sub-questions to named analysts with " +
	"the delegate_research function, then synthesize their answers and evidence into a " +
	"clear response. Reuse an analyst's name when following up on the same line of inquiry " +
	"and pick a new descriptive name for a new one. Only make claims that are supported by " +
	"the evidence your analysts return."

// Deps bundles the collaborators the investigator needs.
type Deps struct {
	DB        *project.Manager
	Gateway   *llm.Gateway
	Pipeline  analyst.SchemaPipeline
	Processor ingest.Processor

	Model string

	// IngestDir holds PDFs awaiting ingestion on startup.
	IngestDir string

	// Attempts is the answer budget handed to each analyst.
	Attempts int

	// CallBudget caps oracle calls per user turn. Zero means unlimited.
	CallBudget int

	Log zerolog.Logger
}

// Investigator owns a project's conversation and its set of analysts.
type Investigator struct {
	deps     Deps
	analysts []*analyst.Analyst
	log      zerolog.Logger
}

// New opens the investigator for a project. On a fresh project it runs
// the full startup sequence: loading banner, paper ingestion and
// processing, readiness banner. On an existing project it resumes any
// turn that was left Pending by a crash, replaying stored tool calls
// through the protocol engine instead of restarting the turn.
func New(ctx context.Context, deps Deps) (*Investigator, error) {
	p := &Investigator{
		deps: deps,
		log:  deps.Log.With().Str("component", "investigator").Logger(),
	}

	records, err := deps.DB.Analysts(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		a, err := analyst.New(ctx, p.analystDeps(), record.Name, record.Goal)
		if err != nil {
			return nil, err
		}
		p.analysts = append(p.analysts, a)
	}

	// A reopened project greets the user once, not once per restart.
	if err := deps.DB.RemoveOldDefaultMessages(ctx, []string{loadingMessage, readyMessage}); err != nil {
		return nil, err
	}

	last, ok, err := deps.DB.LastMessage(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case !ok:
		if err := p.firstRun(ctx); err != nil {
			return nil, err
		}
	case last.Content == loadingMessage:
		// Crash mid-ingest: the loading banner is the newest entry.
		// Re-run ingestion; already-processed papers are skipped.
		if err := p.ingestAndProcess(ctx); err != nil {
			return nil, err
		}
		if err := p.appendPending(ctx, types.Message{Role: types.RoleSystem, Content: readyMessage}); err != nil {
			return nil, err
		}
	case last.Content == readyMessage:
		// Nothing to resume.
	case last.Status == types.StatusPending && len(last.ToolCalls) > 0:
		if err := p.finishToolCalls(ctx, last); err != nil {
			return nil, err
		}
	case last.Status == types.StatusPending && last.Role == types.RoleUser:
		if err := p.serve(ctx); err != nil {
			return nil, err
		}
	}

	if err := deps.DB.UpdateLastChat(ctx, types.StatusProcessed); err != nil {
		return nil, err
	}
	return p, nil
}

// Analysts returns the investigator's current analyst set.
func (p *Investigator) Analysts() []*analyst.Analyst { return p.analysts }

// ProcessMessage persists one user message and drives the conversation
// until the model produces a plain assistant reply with no dangling
// tool calls. The message must be a Pending user entry.
func (p *Investigator) ProcessMessage(ctx context.Context, msg types.Message) error {
	if msg.Status != types.StatusPending {
		return types.ErrNotPending
	}
	if msg.Role != types.RoleUser {
		return types.ErrNotUser
	}
	if err := p.appendPending(ctx, msg); err != nil {
		return err
	}
	return p.serve(ctx)
}

// serve loops model turns over the stored chat until a turn requests no
// tool calls, then marks the conversation Processed. The gateway budget
// is reset once per call, bounding nested analyst and extraction
// retries within a single user turn.
func (p *Investigator) serve(ctx context.Context) error {
	p.deps.Gateway.Budget().Reset(p.deps.CallBudget)
	reg := p.registry(ctx)

	for {
		chat, err := p.deps.DB.Chat(ctx)
		if err != nil {
			return err
		}
		messages := append([]types.Message{{Role: types.RoleSystem, Content: systemPrompt}}, chat...)

		temp := 0.2
		resp, err := p.deps.Gateway.Chat(ctx, types.ChatRequest{
			Model:       p.deps.Model,
			Messages:    messages,
			Tools:       reg.Schemas(),
			Temperature: &temp,
		})
		if err != nil {
			return err
		}
		if resp == nil {
			p.log.Warn().Msg("model turn degraded to empty response")
			break
		}
		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				err := p.appendPending(ctx, types.Message{Role: types.RoleAssistant, Content: resp.Content})
				if err != nil {
					return err
				}
			}
			break
		}

		// The assistant's own message is persisted before its tool
		// calls are dispatched, so a crash mid-dispatch leaves a
		// Pending tool-call entry that New can replay.
		intent := types.Message{
			Role:      types.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		if intent.Content == "" {
			intent.Content = placeholderContent
		}
		if err := p.appendPending(ctx, intent); err != nil {
			return err
		}

		turn := protocol.RunTurn(resp, reg, protocol.Execute)
		for _, msg := range turn.Messages {
			if msg.Role == types.RoleAssistant {
				continue
			}
			if err := p.appendPending(ctx, msg); err != nil {
				return err
			}
		}
	}
	return p.deps.DB.UpdateLastChat(ctx, types.StatusProcessed)
}

// finishToolCalls resumes a Pending assistant entry whose tool calls
// never completed, dispatching them from the stored record and then
// continuing the turn.
func (p *Investigator) finishToolCalls(ctx context.Context, last types.Message) error {
	p.log.Info().Int("calls", len(last.ToolCalls)).Msg("resuming interrupted tool calls")
	p.deps.Gateway.Budget().Reset(p.deps.CallBudget)
	reg := p.registry(ctx)

	resp := &types.ChatResponse{Content: last.Content, ToolCalls: last.ToolCalls}
	turn := protocol.RunTurn(resp, reg, protocol.Execute)
	for _, msg := range turn.Messages {
		if msg.Role == types.RoleAssistant {
			continue
		}
		if err := p.appendPending(ctx, msg); err != nil {
			return err
		}
	}
	return p.serve(ctx)
}

// firstRun performs the two-phase startup on an empty conversation.
func (p *Investigator) firstRun(ctx context.Context) error {
	if err := p.appendPending(ctx, types.Message{Role: types.RoleSystem, Content: loadingMessage}); err != nil {
		return err
	}
	if err := p.ingestAndProcess(ctx); err != nil {
		return err
	}
	return p.appendPending(ctx, types.Message{Role: types.RoleSystem, Content: readyMessage})
}

// ingestAndProcess pulls PDFs from the ingest directory and processes
// every paper without a full-text record. A paper the processor cannot
// match to a bibliographic record is pruned, not fatal.
func (p *Investigator) ingestAndProcess(ctx context.Context) error {
	if p.deps.IngestDir != "" {
		if _, err := p.deps.DB.IngestPapers(ctx, p.deps.IngestDir, true); err != nil {
			return err
		}
	}
	papers, err := p.deps.DB.UnprocessedPapers(ctx)
	if err != nil {
		return err
	}
	for _, paper := range papers {
		processed, err := p.deps.Processor.Process(ctx, paper.PDFPath)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn().Err(err).Str("paper", paper.ShortID()).Msg("dropping unprocessable paper")
			if err := p.deps.DB.PrunePaper(ctx, paper.ID); err != nil {
				return err
			}
			continue
		}
		if err := p.deps.DB.StoreProcessedPaper(ctx, paper.ID, processed); err != nil {
			return err
		}
	}
	return nil
}

// appendPending marks the newest chat entry Processed and appends msg
// as the new Pending entry, preserving the single-Pending discipline.
func (p *Investigator) appendPending(ctx context.Context, msg types.Message) error {
	if err := p.deps.DB.UpdateLastChat(ctx, types.StatusProcessed); err != nil {
		return err
	}
	msg.Status = types.StatusPending
	return p.deps.DB.AddChat(ctx, msg)
}

func (p *Investigator) registry(ctx context.Context) *protocol.Registry {
	reg := protocol.NewRegistry()
	reg.Register(types.NewToolSchema(toolDelegate,
		"Delegates a specific research question pertaining to the uploaded database of "+
			"research papers to a new Analyst Agent",
		map[string]types.Property{
			"name": {Type: "string", Description: "Assign a meaningful name to each Analyst " +
				"Agent that reflects their specific task or research focus in title case."},
			"question": {Type: "string", Description: "The specific sub-research question to be " +
				"answered by the analyst. Make sure to include any relevant context or details " +
				"that may be helpful to the analyst in performing their data collections and " +
				"analysis, as well as specific forms and types of data evidence that may be " +
				"required to support their conclusions when answering the question."},
		}, []string{"name", "question"}), p.delegateResearch(ctx))
	return reg
}

// delegateResearch validates the delegation, reuses an unanswered
// analyst with the same identity, and returns the answer and evidence
// pair as tool-result text. An answered analyst with the same (name,
// question) returns its cached answer without pursuing again; a new
// question for an answered analyst runs as a follow-up inside its
// existing conversation.
func (p *Investigator) delegateResearch(ctx context.Context) protocol.Handler {
	return func(args map[string]any) (string, error) {
		name, _ := args["name"].(string)
		question, _ := args["question"].(string)
		if err := validateDelegation(name, question); err != nil {
			return "", err
		}

		var target *analyst.Analyst
		for _, a := range p.analysts {
			if a.Name() != name {
				continue
			}
			if a.Goal() == question {
				if a.Answered() {
					return formatDelegation(a), nil
				}
				target = a
				break
			}
			if a.Answered() {
				answer, evidence, err := a.AnswerFollowUp(ctx, question)
				if err != nil {
					return "", err
				}
				return "Response from " + a.Name() + ":\n" + answer +
					"\nEvidence provided by " + a.Name() + ":\n" + evidence, nil
			}
		}
		if target == nil {
			a, err := analyst.New(ctx, p.analystDeps(), name, question)
			if err != nil {
				return "", err
			}
			p.analysts = append(p.analysts, a)
			target = a
		}

		if err := target.PursueGoal(ctx); err != nil {
			return "", err
		}
		return formatDelegation(target), nil
	}
}

func validateDelegation(name, question string) error {
	switch {
	case len(question) < 10:
		return fmt.Errorf("%w: provide a more detailed question for the analyst to research", types.ErrBadDelegation)
	case len(name) < 3:
		return fmt.Errorf("%w: provide a longer name for the new analyst", types.ErrBadDelegation)
	case len(name) > 50:
		return fmt.Errorf("%w: provide a shorter name for the new analyst", types.ErrBadDelegation)
	}
	return nil
}

func formatDelegation(a *analyst.Analyst) string {
	return "Response from " + a.Name() + ":\n" + a.Answer() +
		"\nEvidence provided by " + a.Name() + ":\n" + a.Evidence()
}

func (p *Investigator) analystDeps() analyst.Deps {
	return analyst.Deps{
		DB:       p.deps.DB,
		Gateway:  p.deps.Gateway,
		Pipeline: p.deps.Pipeline,
		Model:    p.deps.Model,
		Attempts: p.deps.Attempts,
		Log:      p.deps.Log,
	}
}
