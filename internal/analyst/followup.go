// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analyst

import (
	"context"
	"fmt"

	"github.com/elias-jhsph/scienceai/internal/protocol"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

// AnswerFollowUp poses one follow-up question to an already answered
// analyst. The exchange runs in the analyst's persisted conversation,
// hidden from user-facing views, with the same critique applied to the
// follow-up answer. Returns the accepted answer and evidence, or an
// error when the analyst cannot produce one within its budget.
func (a *Analyst) AnswerFollowUp(ctx context.Context, question string) (string, string, error) {
	if !a.Answered() {
		return "", "", fmt.Errorf("analyst %s has not answered its goal yet", a.name)
	}
	a.followUpAnswer = ""
	a.followUpEvidence = ""

	reg := a.registry(ctx)
	reg.Register(types.NewToolSchema(toolFollowUp,
		"Answers a follow-up question with evidence.",
		map[string]types.Property{
			"answer":   {Type: "string", Description: "The answer to the question."},
			"evidence": {Type: "string", Description: "The evidence supporting the answer."},
		}, []string{"answer", "evidence"}),
		func(args map[string]any) (string, error) {
			return a.answerFollowUp(ctx, args)
		})

	prompt := types.Message{
		Role:    types.RoleUser,
		Content: "Answer this follow-up question about your completed research: " + question,
		Hidden:  true,
	}
	if err := a.deps.DB.AppendAnalystContext(ctx, a.name, prompt); err != nil {
		return "", "", err
	}

	temp := 0.2
	for turns := 0; turns < a.deps.Attempts; turns++ {
		if a.followUpAnswer != "" {
			return a.followUpAnswer, a.followUpEvidence, nil
		}
		messages, err := a.deps.DB.AnalystContext(ctx, a.name, true)
		if err != nil {
			return "", "", err
		}
		resp, err := a.deps.Gateway.Chat(ctx, types.ChatRequest{
			Model:       a.deps.Model,
			Messages:    messages,
			Tools:       reg.Schemas(),
			Temperature: &temp,
		})
		if err != nil {
			return "", "", err
		}
		turn := protocol.RunTurn(resp, reg, protocol.Execute)
		for i := range turn.Messages {
			turn.Messages[i].Hidden = true
		}
		if len(turn.Messages) > 0 {
			if err := a.deps.DB.AppendAnalystContext(ctx, a.name, turn.Messages...); err != nil {
				return "", "", err
			}
		}
	}
	if a.followUpAnswer != "" {
		return a.followUpAnswer, a.followUpEvidence, nil
	}
	return "", "", fmt.Errorf("analyst %s could not answer the follow-up question", a.name)
}

func (a *Analyst) answerFollowUp(ctx context.Context, args map[string]any) (string, error) {
	answer, _ := args["answer"].(string)
	evidence, _ := args["evidence"].(string)

	thoughts, err := a.reflectOnEvidence(ctx, answer, evidence)
	if err != nil {
		return "", err
	}
	if thoughts == "" {
		a.followUpAnswer = answer
		a.followUpEvidence = evidence
		return "Question answered:\n" + answer + "\n\nEvidence:\n" + evidence, nil
	}
	return "Question not answered. Here are some thoughts on why: " + thoughts, nil
}
