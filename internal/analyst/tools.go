// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analyst

import (
	"context"
	"fmt"
	"strings"

	"github.com/elias-jhsph/scienceai/internal/protocol"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

// registry builds the analyst's tool set, binding handlers to the turn's
// context. Declarations and handlers are registered together.
func (a *Analyst) registry(ctx context.Context) *protocol.Registry {
	reg := protocol.NewRegistry()

	reg.Register(types.NewToolSchema(toolAllPapers,
		"Lists every paper in the database by short id and title.",
		map[string]types.Property{
			"all": {Type: "boolean", Description: "Whether to return all papers."},
		}, []string{"all"}),
		func(args map[string]any) (string, error) {
			return a.allPapers(ctx)
		})

	reg.Register(types.NewToolSchema(toolCreateList,
		"Creates a permanent named list of papers. A list cannot be changed once created.",
		map[string]types.Property{
			"name": {Type: "string", Description: "The name of the list."},
			"paper_ids": {
				Type:        "array",
				Description: "The short IDs of the papers to add to the list.",
				Items:       &types.Property{Type: "string", Description: "The short ID of the paper."},
			},
		}, []string{"name", "paper_ids"}),
		func(args map[string]any) (string, error) {
			return a.createList(ctx, args)
		})

	reg.Register(types.NewToolSchema(toolGetList,
		"Gets the papers in a named list by short id and title.",
		map[string]types.Property{
			"name": {Type: "string", Description: "The name of the list."},
		}, []string{"name"}),
		func(args map[string]any) (string, error) {
			return a.getList(ctx, args)
		})

	reg.Register(types.NewToolSchema(toolCollectData,
		"Designs an extraction schema for a data collection request and runs it over the papers, producing a data table.",
		map[string]types.Property{
			"collection_name": {Type: "string", Description: "The name of the data collection request."},
			"collection_goal": {Type: "string", Description: "The goal of the data collection request."},
			"target_list":     {Type: "string", Description: "The name of the list of papers to collect data from. Omit to use every paper."},
		}, []string{"collection_name", "collection_goal"}),
		func(args map[string]any) (string, error) {
			return a.collectData(ctx, args)
		})

	reg.Register(types.NewToolSchema(toolCompleteGoal,
		"Completes the analyst's goal by answering the question with evidence.",
		map[string]types.Property{
			"answer": {Type: "string", Description: "A detailed answer to the research question. All " +
				"evidence needed to support the answer should be included in the evidence section."},
			"evidence": {Type: "string", Description: "Specific data points or findings from the data " +
				"collection that support your answer. Do not reference data you do not directly provide " +
				"as evidence. For example, if asked for the top genes from each paper, list the genes by paper."},
		}, []string{"answer", "evidence"}),
		func(args map[string]any) (string, error) {
			return a.completeGoal(ctx, args)
		})

	return reg
}

func (a *Analyst) allPapers(ctx context.Context) (string, error) {
	papers, err := a.deps.DB.Papers(ctx)
	if err != nil {
		return "", err
	}
	return encodeResult(a.rememberPapers(papers))
}

func (a *Analyst) createList(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	rawIDs, _ := args["paper_ids"].([]any)
	var ids []string
	var shorts []string
	for _, raw := range rawIDs {
		short, _ := raw.(string)
		full, err := a.resolvePaperID(ctx, short)
		if err != nil {
			return "", err
		}
		ids = append(ids, full)
		shorts = append(shorts, short)
	}
	if err := a.deps.DB.CreateNamedList(ctx, a.name, name, ids); err != nil {
		return "", err
	}
	return fmt.Sprintf("List named '%s' created with papers: [%s]", name, strings.Join(shorts, ", ")), nil
}

func (a *Analyst) getList(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	papers, err := a.deps.DB.NamedList(ctx, a.name, name)
	if err != nil {
		return "", err
	}
	return encodeResult(a.rememberPapers(papers))
}

// collectData generates a schema for the request, compiles it, extracts
// from every target paper into a tracker, and freezes the tracker to CSV.
func (a *Analyst) collectData(ctx context.Context, args map[string]any) (string, error) {
	collection, _ := args["collection_name"].(string)
	goal, _ := args["collection_goal"].(string)
	targetList, _ := args["target_list"].(string)

	var papers []types.Paper
	var err error
	if targetList != "" {
		papers, err = a.deps.DB.NamedList(ctx, a.name, targetList)
	} else {
		papers, err = a.deps.DB.Papers(ctx)
	}
	if err != nil {
		return "", err
	}

	var summaries strings.Builder
	for _, paper := range papers {
		processed, err := a.deps.DB.ProcessedPaper(ctx, paper.ID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&summaries, "%s\n\nSummary: %s\n\n\n", paper.Title, processed.Summary)
	}

	request := fmt.Sprintf("Goal: %s - %s\n\nPapers under analysis:\n\n%s",
		collection, goal, summaries.String())
	schema, err := a.deps.Pipeline.GenerateSchema(ctx, request)
	if err != nil {
		return "", err
	}
	if schema == nil {
		return "", fmt.Errorf("could not generate a valid extraction schema for %q, rephrase the collection goal", collection)
	}
	contract, err := a.deps.Pipeline.Taxonomy().CompileSchema(schema)
	if err != nil {
		return "", err
	}

	tracker, err := a.deps.DB.AddToolTracker(ctx, a.name, collection)
	if err != nil {
		return "", err
	}
	results := map[string]any{}
	for _, paper := range papers {
		processed, err := a.deps.DB.ProcessedPaper(ctx, paper.ID)
		if err != nil {
			return "", err
		}
		record, err := a.deps.Pipeline.Extract(ctx, contract, processed.CleanedText)
		if err != nil {
			return "", err
		}
		if record == nil {
			a.log.Warn().Str("paper", paper.ShortID()).Msg("extraction produced no accepted record")
			record = map[string]any{}
		}
		if err := a.deps.DB.UpdateToolTracker(ctx, tracker, paper.ID, record); err != nil {
			return "", err
		}
		a.shortIDs[paper.ShortID()] = paper.ID
		results[paper.ShortID()] = record
	}
	if _, err := a.deps.DB.FreezeToolTracker(ctx, a.name, tracker); err != nil {
		return "", err
	}
	return encodeResult(results)
}

func (a *Analyst) completeGoal(ctx context.Context, args map[string]any) (string, error) {
	answer, _ := args["answer"].(string)
	evidence, _ := args["evidence"].(string)

	thoughts, err := a.reflectOnEvidence(ctx, answer, evidence)
	if err != nil {
		return "", err
	}
	a.answerAttempts++
	if thoughts == "" {
		a.answer = answer
		a.evidence = evidence
		return "Goal achieved:\n" + answer + "\n\nEvidence:\n" + evidence, nil
	}
	return "Goal not achieved. Here are some thoughts on why: " + thoughts, nil
}
