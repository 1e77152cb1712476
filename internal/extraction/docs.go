// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "go.yaml.in/yaml/v3"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

const exampleToolName = "generate_example_data"

// exampleCount is how many validated examples a template description carries.
const exampleCount = 3

// docsCache persists generated template documentation so the expensive
// example generation runs once per template across all projects.
type docsCache struct {
	mu   sync.Mutex
	path string
	docs map[string]string
}

func newDocsCache(path string) *docsCache {
	c := &docsCache{path: path, docs: make(map[string]string)}
	if raw, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(raw, &c.docs)
	}
	return c
}

func (c *docsCache) get(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[name]
	return doc, ok
}

func (c *docsCache) put(name, doc string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[name] = doc
	raw, err := yaml.Marshal(c.docs)
	if err != nil {
		return fmt.Errorf("marshaling docs cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating docs cache dir: %w", err)
	}
	if err := os.WriteFile(c.path, raw, 0o644); err != nil {
		return fmt.Errorf("writing docs cache: %w", err)
	}
	return nil
}

// DescribeTemplate returns schema-authoring documentation for one
// template: its spec fields plus generated example entries. Examples are
// produced by the model through a forced tool call and validated against
// the template before they count. Results are cached on disk permanently.
func (p *Pipeline) DescribeTemplate(ctx context.Context, name string) (string, error) {
	if doc, ok := p.docs.get(name); ok {
		return doc, nil
	}

	tmpl, ok := p.tax.Template(name)
	if !ok {
		return "", fmt.Errorf("data type %q not found in taxonomy", name)
	}

	examples, err := p.generateExamples(ctx, tmpl)
	if err != nil {
		return "", err
	}

	doc := renderTemplateDoc(tmpl, examples)
	if err := p.docs.put(name, doc); err != nil {
		p.log.Warn().Err(err).Str("template", name).Msg("could not persist template docs")
	}
	return doc, nil
}

// DescribeTaxonomy concatenates the documentation of every template.
func (p *Pipeline) DescribeTaxonomy(ctx context.Context) (string, error) {
	var sb strings.Builder
	for _, name := range p.tax.Names() {
		doc, err := p.DescribeTemplate(ctx, name)
		if err != nil {
			return "", err
		}
		sb.WriteString(doc)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (p *Pipeline) generateExamples(ctx context.Context, tmpl *Template) ([]Entry, error) {
	props := map[string]types.Property{}
	for _, field := range tmpl.Spec {
		props[field.Key] = specFieldProperty(field)
	}
	props["type"] = types.Property{Type: "string", Description: "Must be " + tmpl.Name}
	required := []string{"type"}
	for _, field := range tmpl.Spec {
		required = append(required, field.Key)
	}
	tool := types.NewToolSchema(exampleToolName,
		"generates an example schema entry for the "+tmpl.Name+" data type",
		props, required)

	var examples []Entry
	for len(examples) < exampleCount {
		entry, err := p.generateExample(ctx, tmpl, tool, examples)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, fmt.Errorf("could not generate a valid %s example", tmpl.Name)
		}
		examples = append(examples, entry)
	}
	return examples, nil
}

func (p *Pipeline) generateExample(ctx context.Context, tmpl *Template, tool types.ToolSchema, prior []Entry) (Entry, error) {
	prompt := fmt.Sprintf("Generate a realistic example of a %s schema entry "+
		"for extracting data from scientific papers. The data type is described as: %s",
		tmpl.Name, tmpl.Description)
	if len(prior) > 0 {
		raw, _ := json.Marshal(prior)
		prompt += "\nMake it distinct from these existing examples: " + string(raw)
	}

	var entry Entry
	ok, err := p.retry(ctx, func() (bool, error) {
		resp, err := p.gw.Chat(ctx, types.ChatRequest{
			Model: p.model,
			Messages: []types.Message{
				{Role: types.RoleSystem, Content: "You are an expert at designing data extraction schemas for scientific literature."},
				{Role: types.RoleUser, Content: prompt},
			},
			Tools:      []types.ToolSchema{tool},
			ToolChoice: types.ForceTool(exampleToolName),
		})
		if err != nil {
			return false, err
		}
		if resp == nil || len(resp.ToolCalls) == 0 {
			return false, nil
		}
		var candidate Entry
		if err := json.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &candidate); err != nil {
			return false, nil
		}
		candidate["type"] = tmpl.Name
		if err := p.tax.ValidateEntry(candidate); err != nil {
			p.log.Debug().Err(err).Str("template", tmpl.Name).Msg("rejected example entry")
			return false, nil
		}
		entry = candidate
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return entry, nil
}

func specFieldProperty(field SpecField) types.Property {
	prop := types.Property{Type: field.Type, Description: field.Description}
	if field.Type == "array" {
		prop.Items = &types.Property{Type: "string"}
	}
	if field.Type == "object" {
		prop.Type = "string"
		prop.Description += " Provide as a JSON object string."
	}
	return prop
}

func renderTemplateDoc(tmpl *Template, examples []Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n%s\n\nFields:\n", tmpl.Name, tmpl.Description)
	for _, field := range tmpl.Spec {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", field.Key, field.Type, field.Description)
	}
	sb.WriteString("\nExamples:\n")
	for _, example := range examples {
		sb.WriteString(renderEntry(example))
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderEntry prints an entry with sorted keys so docs are stable.
func renderEntry(entry Entry) string {
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		raw, _ := json.Marshal(entry[k])
		parts[i] = fmt.Sprintf("%q: %s", k, raw)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
