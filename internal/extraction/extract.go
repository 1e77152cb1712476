// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

const reflectToolName = "check_extracted_data"

// Extract runs a compiled contract against one paper's text. Each
// candidate record is cleaned with RemoveFailedData and then reviewed by
// a reflection pass; a rejected record is discarded and extraction runs
// again. Returns nil when the retry budget ends without an accepted
// record.
func (p *Pipeline) Extract(ctx context.Context, contract *ToolContract, paperText string) (map[string]any, error) {
	tool := contract.ToolSchema()
	prompt := "Extract the requested data from the following research paper. " +
		"Set each successfully_extracted flag to false when the paper does not " +
		"contain that data.\n\nPAPER:\n" + paperText

	var accepted map[string]any
	ok, err := p.retry(ctx, func() (bool, error) {
		resp, err := p.gw.Chat(ctx, types.ChatRequest{
			Model: p.model,
			Messages: []types.Message{
				{Role: types.RoleSystem, Content: "You are an expert at extracting structured data from scientific papers."},
				{Role: types.RoleUser, Content: prompt},
			},
			Tools:      []types.ToolSchema{tool},
			ToolChoice: types.ForceTool(ExtractToolName),
		})
		if err != nil {
			return false, err
		}
		if resp == nil || len(resp.ToolCalls) == 0 {
			return false, nil
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &record); err != nil {
			return false, nil
		}
		cleaned := RemoveFailedData(record)
		valid, err := p.reflectOnExtraction(ctx, contract, paperText, cleaned)
		if err != nil {
			return false, err
		}
		if !valid {
			p.log.Debug().Msg("reflection rejected extracted record, retrying")
			return false, nil
		}
		accepted = cleaned
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return accepted, nil
}

// reflectOnExtraction asks the model whether an extracted record is
// faithful to the paper. Defaults to false when no verdict arrives
// within the retry budget.
func (p *Pipeline) reflectOnExtraction(ctx context.Context, contract *ToolContract, paperText string, record map[string]any) (bool, error) {
	tool := types.NewToolSchema(reflectToolName,
		"reports whether the extracted data is supported by the paper",
		map[string]types.Property{
			"valid": {Type: "boolean", Description: "True when every extracted value is supported by the paper."},
		}, []string{"valid"})

	raw, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshaling extracted record: %w", err)
	}
	prompt := fmt.Sprintf("Review this data extracted from a research paper and report "+
		"whether it is accurate.\n\nEXTRACTED DATA:\n%s\n\nPAPER:\n%s", raw, paperText)

	valid := false
	_, err = p.retry(ctx, func() (bool, error) {
		resp, err := p.gw.Chat(ctx, types.ChatRequest{
			Model: p.model,
			Messages: []types.Message{
				{Role: types.RoleSystem, Content: "You are an expert reviewer of data extracted from scientific papers."},
				{Role: types.RoleUser, Content: prompt},
			},
			Tools:      []types.ToolSchema{tool},
			ToolChoice: types.ForceTool(reflectToolName),
		})
		if err != nil {
			return false, err
		}
		if resp == nil || len(resp.ToolCalls) == 0 {
			return false, nil
		}
		var verdict struct {
			Valid bool `json:"valid"`
		}
		if err := json.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &verdict); err != nil {
			return false, nil
		}
		valid = verdict.Valid
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return valid, nil
}
