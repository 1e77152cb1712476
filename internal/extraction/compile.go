// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"fmt"
	"strings"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

// ExtractToolName is the function name of every compiled extraction tool.
const ExtractToolName = "extract_data"

const successSuffix = "_successfully_extracted"

// ToolContract is the compiled form of an extraction schema: a flat
// property set plus the required-field list. It serves both as the
// model-facing declaration and as the acceptance filter for extracted
// values. Compilation is deterministic for a fixed schema.
type ToolContract struct {
	Properties map[string]types.Property
	Required   []string
}

// ToolSchema renders the contract as the extract_data declaration.
func (c *ToolContract) ToolSchema() types.ToolSchema {
	return types.NewToolSchema(ExtractToolName,
		"extracts data from a research paper using a schema",
		c.Properties, c.Required)
}

// CompileSchema expands each schema entry per its template's tool shape.
// Prefix mode emits one name-prefixed field per template key; array mode
// emits a single array-of-object field. Both modes add a synthetic
// <name>_successfully_extracted boolean, always required. Description
// tokens (NAME and upper-cased spec field keys) are substituted with the
// entry's actual values so one template serves many targets.
func (t *Taxonomy) CompileSchema(schema Schema) (*ToolContract, error) {
	contract := &ToolContract{Properties: make(map[string]types.Property)}
	var required []string

	for _, entry := range schema {
		tmpl, ok := t.Template(entry.TypeName())
		if !ok {
			return nil, fmt.Errorf("data type %q not found in taxonomy", entry.TypeName())
		}
		name := entry.TargetName()
		if name == "" {
			return nil, fmt.Errorf("schema entry of type %q has no name", entry.TypeName())
		}

		switch tmpl.Tool.Mode {
		case "prefix":
			for _, field := range tmpl.Tool.Fields {
				prop := name + "_" + field.Key
				if entry.IsRequired() {
					required = append(required, prop)
				}
				contract.Properties[prop] = types.Property{
					Type:        field.Type,
					Description: substitute(field.Description, tmpl, entry),
				}
			}
		case "array":
			if entry.IsRequired() {
				required = append(required, name)
			}
			items := make(map[string]types.Property, len(tmpl.Tool.Items))
			for _, field := range tmpl.Tool.Items {
				items[field.Key] = types.Property{
					Type:        field.Type,
					Description: substitute(field.Description, tmpl, entry),
				}
			}
			contract.Properties[name] = types.Property{
				Type:        "array",
				Description: substitute(tmpl.Tool.Description, tmpl, entry),
				Items:       &types.Property{Type: "object", Properties: items},
			}
		default:
			return nil, fmt.Errorf("template %q has unknown tool mode %q", tmpl.Name, tmpl.Tool.Mode)
		}

		contract.Properties[name+successSuffix] = types.Property{
			Type:        "boolean",
			Description: "Was the data for " + name + " successfully extracted?",
		}
		required = append(required, name+successSuffix)
	}

	contract.Required = dedupe(required)
	return contract, nil
}

// substitute replaces the NAME token and upper-cased spec-field tokens
// in a tool description with the entry's values.
func substitute(description string, tmpl *Template, entry Entry) string {
	out := description
	for _, field := range tmpl.Spec {
		if field.Key == "name" {
			out = strings.ReplaceAll(out, "NAME", entry.TargetName())
			continue
		}
		token := strings.ToUpper(field.Key)
		if !strings.Contains(out, token) {
			continue
		}
		out = strings.ReplaceAll(out, token, formatValue(entry[field.Key]))
	}
	return out
}

// formatValue renders a spec value for interpolation into a description.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// RemoveFailedData strips every field group whose synthetic success flag
// is false, and the flags themselves, from an extracted record.
func RemoveFailedData(record map[string]any) map[string]any {
	var succeeded []string
	for key, value := range record {
		if strings.HasSuffix(key, successSuffix) {
			if ok, _ := value.(bool); ok {
				succeeded = append(succeeded, strings.TrimSuffix(key, successSuffix))
			}
		}
	}

	out := make(map[string]any)
	for _, prefix := range succeeded {
		for key, value := range record {
			if strings.HasPrefix(key, prefix) && !strings.HasSuffix(key, successSuffix) {
				out[key] = value
			}
		}
	}
	return out
}
