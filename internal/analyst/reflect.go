// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analyst

import (
	"context"
	"fmt"

	"github.com/elias-jhsph/scienceai/internal/protocol"
	"github.com/elias-jhsph/scienceai/internal/retry"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

const checkGoalTool = "check_completed_goal"

// reflectRetries bounds the verdict calls inside one critique.
const reflectRetries = 3

// reflectOnEvidence runs the independent critique of a submitted answer.
// It returns empty when the critique accepts, and the critic's rationale
// when it rejects. A critique that never produces a verdict counts as a
// rejection.
func (a *Analyst) reflectOnEvidence(ctx context.Context, answer, evidence string) (string, error) {
	messages := []types.Message{
		{Role: types.RoleSystem, Content: "The analyst has answered the following question / goal " +
			"with evidence. You are a thoughtful researcher. Evaluate the evidence and determine if " +
			"the goal has been achieved or the question has been answered."},
		{Role: types.RoleUser, Content: fmt.Sprintf(
			"My goal/question: %s\n\nMy answer is:\n%s\n\nMy evidence:\n%s.", a.goal, answer, evidence)},
	}

	resp, err := a.deps.Gateway.Chat(ctx, types.ChatRequest{Model: a.deps.Model, Messages: messages})
	if err != nil {
		return "", err
	}
	thoughts := "The critique did not respond."
	if resp != nil && resp.Content != "" {
		thoughts = resp.Content
	}
	messages = append(messages, types.Message{Role: types.RoleAssistant, Content: thoughts})

	reg := protocol.NewRegistry()
	reg.Register(types.NewToolSchema(checkGoalTool,
		"Checks if the goal has been completed or the question has been answered and the evidence is sufficient.",
		map[string]types.Property{
			"resolved": {Type: "boolean", Description: "Whether the goal has been completed or the question has been answered."},
		}, []string{"resolved"}), nil)

	var verdict string
	ok, err := retry.Do(ctx, reflectRetries, func() (bool, error) {
		resp, err := a.deps.Gateway.Chat(ctx, types.ChatRequest{
			Model:      a.deps.Model,
			Messages:   messages,
			Tools:      reg.Schemas(),
			ToolChoice: types.ForceTool(checkGoalTool),
		})
		if err != nil {
			return false, err
		}
		turn := protocol.RunTurn(resp, reg, protocol.DryRun)
		for _, call := range turn.ValidCalls {
			if call.Name != checkGoalTool {
				continue
			}
			if resolved, _ := call.Params["resolved"].(bool); resolved {
				verdict = ""
			} else {
				verdict = thoughts
			}
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return thoughts, nil
	}
	return verdict, nil
}
