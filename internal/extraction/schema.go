// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elias-jhsph/scienceai/internal/retry"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

const schemaToolName = "generate_analysis_schema"

// schemaRetries bounds how many model calls GenerateSchema spends
// before giving up on a request.
const schemaRetries = 5

// GenerateSchema asks the model to design an extraction schema for the
// given analysis request. Every entry is validated against the taxonomy;
// an invalid batch is discarded and regenerated. Returns nil when the
// retry budget runs out without a valid schema.
func (p *Pipeline) GenerateSchema(ctx context.Context, request string) (Schema, error) {
	docs, err := p.DescribeTaxonomy(ctx)
	if err != nil {
		return nil, err
	}

	tool := types.NewToolSchema(schemaToolName,
		"submits a data extraction schema as a JSON array of schema entries",
		map[string]types.Property{
			"schema": {
				Type: "string",
				Description: "A JSON array of schema entries. Each entry is an object " +
					"with a type field naming a data type plus that type's fields.",
			},
		}, []string{"schema"})

	prompt := fmt.Sprintf("Design a data extraction schema for the following analysis "+
		"request:\n\n%s\n\nAvailable data types:\n\n%s", request, docs)

	var schema Schema
	ok, err := retry.Do(ctx, schemaRetries, func() (bool, error) {
		resp, err := p.gw.Chat(ctx, types.ChatRequest{
			Model: p.model,
			Messages: []types.Message{
				{Role: types.RoleSystem, Content: "You are an expert at designing data extraction schemas for scientific literature."},
				{Role: types.RoleUser, Content: prompt},
			},
			Tools:      []types.ToolSchema{tool},
			ToolChoice: types.ForceTool(schemaToolName),
		})
		if err != nil {
			return false, err
		}
		if resp == nil || len(resp.ToolCalls) == 0 {
			return false, nil
		}
		var args struct {
			Schema string `json:"schema"`
		}
		if err := json.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &args); err != nil {
			return false, nil
		}
		var candidate Schema
		if err := json.Unmarshal([]byte(args.Schema), &candidate); err != nil {
			p.log.Debug().Err(err).Msg("schema did not parse as a JSON array")
			return false, nil
		}
		if len(candidate) == 0 {
			return false, nil
		}
		for _, entry := range candidate {
			if err := p.tax.ValidateEntry(entry); err != nil {
				p.log.Debug().Err(err).Msg("rejected schema entry")
				return false, nil
			}
		}
		schema = candidate
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return schema, nil
}
