// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ingest turns PDF papers into processed full-text records. A
// processor rasterizes the pages, hunts for the paper's DOI in the page
// images, resolves it against the Crossref catalog, converts the pages
// to cleaned text with figure descriptions, and writes a model summary.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/elias-jhsph/scienceai/internal/llm"
	"github.com/elias-jhsph/scienceai/internal/protocol"
	"github.com/elias-jhsph/scienceai/internal/retry"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

// Processor converts one stored PDF into a processed record. It fails
// when no bibliographic identifier can be confidently matched.
type Processor interface {
	Process(ctx context.Context, pdfPath string) (types.ProcessedPaper, error)
}

const (
	doiAttempts     = 3
	pageDOIRetries  = 5
	titleRetries    = 3
	figureRetries   = 3
	pageCompleteTag = "**PAGE_COMPLETE**"
	figuresDoneTag  = "**FIGURES_AND_TABLES_COMPLETE**"
)

// ModelProcessor implements Processor with the model oracle plus the
// Crossref catalog.
type ModelProcessor struct {
	gw      *llm.Gateway
	ras     Rasterizer
	catalog *Crossref
	model   string
	log     zerolog.Logger
}

// NewModelProcessor wires a processor.
func NewModelProcessor(gw *llm.Gateway, ras Rasterizer, catalog *Crossref, model string, log zerolog.Logger) *ModelProcessor {
	return &ModelProcessor{
		gw:      gw,
		ras:     ras,
		catalog: catalog,
		model:   model,
		log:     log.With().Str("component", "ingest").Logger(),
	}
}

func (p *ModelProcessor) Process(ctx context.Context, pdfPath string) (types.ProcessedPaper, error) {
	pages, err := p.ras.Rasterize(ctx, pdfPath)
	if err != nil {
		return types.ProcessedPaper{}, err
	}

	bib, refs, err := p.gatherMetadata(ctx, pages)
	if err != nil {
		return types.ProcessedPaper{}, err
	}
	p.log.Info().Str("doi", bib.DOI).Str("title", bib.Title).Msg("matched bibliographic record")

	body, err := p.cleanText(ctx, pages)
	if err != nil {
		return types.ProcessedPaper{}, err
	}
	cleaned := bib.Title + "\n\n\n" + body
	if len(refs) > 0 {
		cleaned += "\n\n## REFERENCES\n" + renderReferences(refs)
	}

	summary, err := p.summarize(ctx, cleaned)
	if err != nil {
		return types.ProcessedPaper{}, err
	}

	return types.ProcessedPaper{
		CleanedText: cleaned,
		Metadata:    bib,
		Summary:     summary,
		PageImages:  pages,
	}, nil
}

// gatherMetadata hunts for the paper's DOI in the page images, resolves
// it, and confirms the resolved title against the first page. A DOI that
// resolves to the wrong paper goes on the incorrect list and the hunt
// continues.
func (p *ModelProcessor) gatherMetadata(ctx context.Context, pages []string) (types.Bibliography, []string, error) {
	var incorrect []string
	for attempt := 0; attempt < doiAttempts; attempt++ {
		doi, err := p.extractDOI(ctx, pages, incorrect)
		if err != nil {
			return types.Bibliography{}, nil, err
		}
		if doi == "" {
			continue
		}
		bib, refs, err := p.catalog.Work(ctx, doi)
		if err != nil {
			p.log.Warn().Err(err).Str("doi", doi).Msg("catalog lookup failed")
			continue
		}
		confirmed, err := p.confirmTitle(ctx, bib.Title, pages[0])
		if err != nil {
			return types.Bibliography{}, nil, err
		}
		if confirmed {
			return bib, refs, nil
		}
		incorrect = append(incorrect, doi)
	}
	return types.Bibliography{}, nil, fmt.Errorf("no bibliographic identifier matched for paper")
}

// extractDOI scans the pages for a DOI via a forced-choice tool pair:
// store the DOI, or keep searching.
func (p *ModelProcessor) extractDOI(ctx context.Context, pages []string, incorrect []string) (string, error) {
	reg := protocol.NewRegistry()
	reg.Register(types.NewToolSchema("store_doi",
		"Store the DOI in the database",
		map[string]types.Property{
			"doi": {Type: "string", Description: "The DOI to store"},
		}, []string{"doi"}), nil)
	reg.Register(types.NewToolSchema("keep_searching_for_doi",
		"Keep searching for the DOI",
		map[string]types.Property{}, nil), nil)

	system := "Given a scan of a page, your task is to extract the DOI from the text. " +
		"The DOI is a unique alphanumeric string that provides a permanent link to the " +
		"location of an online resource. It is often found in the header, footer, or " +
		"metadata of a research paper. If the DOI is not present, use the " +
		"keep_searching_for_doi function. If the DOI is found, store it with the " +
		"store_doi function.\nExample of DOI: '12.3456/nature123'. If the DOI is in " +
		"the form of a URL, extract the bare DOI from the URL."
	prompt := "Extract the DOI from this image"
	if len(incorrect) > 0 {
		prompt = fmt.Sprintf("The DOI is not any of these '%s'. Extract the correct DOI from this image",
			strings.Join(incorrect, ", "))
	}

	for _, page := range pages {
		messages := []types.Message{
			{Role: types.RoleSystem, Content: system},
			{Role: types.RoleUser, Content: prompt, Images: []string{page}},
		}
		var doi string
		found, err := retry.Do(ctx, pageDOIRetries, func() (bool, error) {
			resp, err := p.gw.Chat(ctx, types.ChatRequest{
				Model:    p.model,
				Messages: messages,
				Tools:    reg.Schemas(),
			})
			if err != nil {
				return false, err
			}
			turn := protocol.RunTurn(resp, reg, protocol.DryRun)
			for _, call := range turn.ValidCalls {
				if call.Name == "store_doi" {
					doi, _ = call.Params["doi"].(string)
					return doi != "", nil
				}
				if call.Name == "keep_searching_for_doi" {
					return true, nil
				}
			}
			return false, nil
		})
		if err != nil {
			return "", err
		}
		if found && doi != "" {
			return doi, nil
		}
	}
	return "", nil
}

// confirmTitle asks the model to read the first page's title and judge
// whether it matches the catalog title. An unreadable title counts as
// unconfirmed.
func (p *ModelProcessor) confirmTitle(ctx context.Context, title, firstPage string) (bool, error) {
	reg := protocol.NewRegistry()
	reg.Register(types.NewToolSchema("store_title",
		"Store the title in the database",
		map[string]types.Property{
			"title": {Type: "string", Description: "The title to store"},
		}, []string{"title"}), nil)

	var stored string
	found, err := retry.Do(ctx, titleRetries, func() (bool, error) {
		resp, err := p.gw.Chat(ctx, types.ChatRequest{
			Model: p.model,
			Messages: []types.Message{
				{Role: types.RoleSystem, Content: "Read the contents of the provided scan of a page " +
					"from a research paper. Extract the title of the paper from the text."},
				{Role: types.RoleUser, Content: "Extract the title.", Images: []string{firstPage}},
			},
			Tools:      reg.Schemas(),
			ToolChoice: types.ForceTool("store_title"),
		})
		if err != nil {
			return false, err
		}
		turn := protocol.RunTurn(resp, reg, protocol.DryRun)
		for _, call := range turn.ValidCalls {
			if call.Name == "store_title" {
				stored, _ = call.Params["title"].(string)
				return stored != "", nil
			}
		}
		return false, nil
	})
	if err != nil || !found {
		return false, err
	}

	check := protocol.NewRegistry()
	check.Register(types.NewToolSchema("store_title_similar",
		"Store the title similarity in the database",
		map[string]types.Property{
			"titles_similar": {Type: "boolean", Description: "Are the titles similar?"},
		}, []string{"titles_similar"}), nil)

	similar := false
	found, err = retry.Do(ctx, titleRetries, func() (bool, error) {
		resp, err := p.gw.Chat(ctx, types.ChatRequest{
			Model: p.model,
			Messages: []types.Message{
				{Role: types.RoleSystem, Content: "Are these titles likely to be the same?"},
				{Role: types.RoleUser, Content: "Title 1: " + title + "\nTitle 2: " + stored},
			},
			Tools:      check.Schemas(),
			ToolChoice: types.ForceTool("store_title_similar"),
		})
		if err != nil {
			return false, err
		}
		turn := protocol.RunTurn(resp, check, protocol.DryRun)
		for _, call := range turn.ValidCalls {
			if call.Name == "store_title_similar" {
				similar, _ = call.Params["titles_similar"].(bool)
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return false, err
	}
	return found && similar, nil
}

// cleanText converts each page to raw body text, then appends authored
// figure and table descriptions when the page carries any.
func (p *ModelProcessor) cleanText(ctx context.Context, pages []string) (string, error) {
	bodyPrompt := "Read the contents of the provided scan of a page from a research paper. " +
		"Convert the text that is in the main body of the paper to raw text. Do not include " +
		"any tables, figures, footnotes, or reference sections. Once you have written out " +
		"the text in the main body of the paper write " + pageCompleteTag + " and stop."
	firstPagePrompt := "Read the contents of the provided scan of a page from a research paper. " +
		"Convert the text of the paper to raw text. Skip the title, authors, headers, footers, " +
		"legalese, copyrights, and references. Include the abstract and any other introductory " +
		"text as well as the main body of the paper. Once you have written out the text in the " +
		"main body of the paper write " + pageCompleteTag + " and stop."
	figurePrompt := "Read the contents of the provided scan of a page from a research paper. " +
		"For each figure and table on the page include a '**Figure/Table Description:**' section " +
		"that you will author, describing what is being communicated along with all text found " +
		"within it. Once you have written out the text for all figures write " + figuresDoneTag

	temp := 0.2
	var sb strings.Builder
	for i, page := range pages {
		fmt.Fprintf(&sb, "\n\n**Start of Page %d**\n\n", i+1)

		system := bodyPrompt
		if i == 0 {
			system = firstPagePrompt
		}
		resp, err := p.gw.Chat(ctx, types.ChatRequest{
			Model: p.model,
			Messages: []types.Message{
				{Role: types.RoleSystem, Content: system},
				{Role: types.RoleUser, Images: []string{page}},
			},
			Temperature: &temp,
		})
		if err != nil {
			return "", err
		}
		if resp != nil {
			sb.WriteString(strings.ReplaceAll(resp.Content, pageCompleteTag, ""))
		}

		count, err := p.countFigures(ctx, page)
		if err != nil {
			return "", err
		}
		// An unknown count falls through to the figure pass.
		if count != 0 {
			resp, err := p.gw.Chat(ctx, types.ChatRequest{
				Model: p.model,
				Messages: []types.Message{
					{Role: types.RoleSystem, Content: figurePrompt},
					{Role: types.RoleUser, Images: []string{page}},
				},
				Temperature: &temp,
			})
			if err != nil {
				return "", err
			}
			if resp != nil {
				sb.WriteString(strings.ReplaceAll(resp.Content, figuresDoneTag, ""))
			}
		}

		fmt.Fprintf(&sb, "\n\n**End of Page %d**\n\n", i+1)
	}
	return sb.String(), nil
}

// countFigures returns the page's figure plus table count, or -1 when no
// verdict arrived within the retry budget.
func (p *ModelProcessor) countFigures(ctx context.Context, page string) (int, error) {
	reg := protocol.NewRegistry()
	reg.Register(types.NewToolSchema("store_figure_table_count",
		"Store the count of figures and tables",
		map[string]types.Property{
			"figure_count": {Type: "integer", Description: "The number of figures on the page"},
			"table_count":  {Type: "integer", Description: "The number of tables on the page"},
		}, []string{"figure_count", "table_count"}), nil)

	temp := 0.2
	count := -1
	_, err := retry.Do(ctx, figureRetries, func() (bool, error) {
		resp, err := p.gw.Chat(ctx, types.ChatRequest{
			Model: p.model,
			Messages: []types.Message{
				{Role: types.RoleSystem, Content: "Read the contents of the provided scan of a page " +
					"from a research paper. Record the number of figures and tables present on the page."},
				{Role: types.RoleUser, Images: []string{page}},
			},
			Tools:       reg.Schemas(),
			ToolChoice:  types.ForceTool("store_figure_table_count"),
			Temperature: &temp,
		})
		if err != nil {
			return false, err
		}
		turn := protocol.RunTurn(resp, reg, protocol.DryRun)
		for _, call := range turn.ValidCalls {
			if call.Name == "store_figure_table_count" {
				figures, okF := asInt(call.Params["figure_count"])
				tables, okT := asInt(call.Params["table_count"])
				if okF && okT {
					count = figures + tables
					return true, nil
				}
			}
		}
		return false, nil
	})
	return count, err
}

func (p *ModelProcessor) summarize(ctx context.Context, text string) (string, error) {
	resp, err := p.gw.Chat(ctx, types.ChatRequest{
		Model: p.model,
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "Given a block of text, your task is to summarize the " +
				"text into a concise paragraph. Do not include any references or citations in the " +
				"summary. Do not speak to the user directly, just produce the summary of the text " +
				"you are given."},
			{Role: types.RoleUser, Content: "Summarize this text:\n\n" + text},
		},
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("summary generation produced no content")
	}
	return resp.Content, nil
}

func renderReferences(dois []string) string {
	lines := make([]string, len(dois))
	for i, doi := range dois {
		lines[i] = fmt.Sprintf("%d. DOI: %s", i+1, doi)
	}
	return strings.Join(lines, "\n")
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
