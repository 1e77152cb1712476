// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extraction turns a taxonomy of data-type templates into typed
// extraction tools. It synthesizes a free-form extraction schema for a
// corpus and goal via the model, compiles that schema into a callable
// tool contract, and drives the per-paper extraction conversation with
// validation and reflection.
package extraction

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"go.yaml.in/yaml/v3"
)

//go:embed data_types.yaml
var rawTaxonomy []byte

// SpecField declares one field a schema entry must provide, with the
// value kind used for validation: string, boolean, number, array (of
// strings), or object.
type SpecField struct {
	Key         string            `yaml:"key"`
	Type        string            `yaml:"type"`
	Description string            `yaml:"description"`
	Keys        map[string]string `yaml:"keys,omitempty"`
}

// ToolField is one field of a template's compiled tool shape.
type ToolField struct {
	Key         string `yaml:"key"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// ToolShape describes how a schema entry expands into tool properties.
// Prefix mode emits one name-prefixed flat field per entry; array mode
// emits a single array-of-object field.
type ToolShape struct {
	Mode        string      `yaml:"mode"`
	Description string      `yaml:"description,omitempty"`
	Fields      []ToolField `yaml:"fields,omitempty"`
	Items       []ToolField `yaml:"items,omitempty"`
}

// Template is one immutable data-type template. Only the generated
// documentation attached to a template changes after load, and that is
// cached separately.
type Template struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Spec        []SpecField `yaml:"spec"`
	Tool        ToolShape   `yaml:"tool"`
}

// Taxonomy is the ordered set of templates.
type Taxonomy struct {
	Templates []Template `yaml:"templates"`
}

// DefaultTaxonomy parses the embedded taxonomy. The embedded file is
// part of the build, so a parse failure is a programming error.
func DefaultTaxonomy() *Taxonomy {
	var tax Taxonomy
	if err := yaml.Unmarshal(rawTaxonomy, &tax); err != nil {
		panic(fmt.Sprintf("embedded taxonomy is invalid: %v", err))
	}
	return &tax
}

// Template returns the named template.
func (t *Taxonomy) Template(name string) (*Template, bool) {
	for i := range t.Templates {
		if t.Templates[i].Name == name {
			return &t.Templates[i], true
		}
	}
	return nil, false
}

// Names lists the template names in taxonomy order.
func (t *Taxonomy) Names() []string {
	names := make([]string, len(t.Templates))
	for i, tmpl := range t.Templates {
		names[i] = tmpl.Name
	}
	return names
}

// Entry is one generated schema entry: a template name under "type" plus
// the template's spec fields.
type Entry map[string]any

// TypeName returns the entry's template name.
func (e Entry) TypeName() string {
	s, _ := e["type"].(string)
	return s
}

// TargetName returns the entry's extraction-target name with spaces
// replaced so it can serve as a property name.
func (e Entry) TargetName() string {
	s, _ := e["name"].(string)
	return strings.ReplaceAll(s, " ", "_")
}

// IsRequired reports whether the entry was marked required.
func (e Entry) IsRequired() bool {
	b, _ := e["required"].(bool)
	return b
}

// Schema is an ordered sequence of generated entries.
type Schema []Entry

// ValidateEntry checks a schema entry against its template's spec: the
// template must exist, every spec field must be present with the declared
// kind, and no extra fields are allowed.
func (t *Taxonomy) ValidateEntry(entry Entry) error {
	name := entry.TypeName()
	if name == "" {
		return fmt.Errorf("entry has no 'type' field")
	}
	tmpl, ok := t.Template(name)
	if !ok {
		return fmt.Errorf("data type %q not found in taxonomy", name)
	}

	spec := make(Entry, len(entry))
	for k, v := range entry {
		if k != "type" {
			spec[k] = v
		}
	}
	return tmpl.ValidateSpec(spec)
}

// ValidateSpec checks a bare spec (no "type" field) against the template.
func (tmpl *Template) ValidateSpec(spec Entry) error {
	for _, field := range tmpl.Spec {
		value, ok := spec[field.Key]
		if !ok {
			return fmt.Errorf("field %q not found in specification", field.Key)
		}
		if err := checkKind(field, value); err != nil {
			return err
		}
	}
	if len(spec) != len(tmpl.Spec) {
		return fmt.Errorf("specification has extra fields")
	}
	return nil
}

// checkKind validates one spec value against its declared kind.
func checkKind(field SpecField, value any) error {
	switch field.Type {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("value for %q is not a string", field.Key)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("value for %q is not a boolean", field.Key)
		}
	case "number":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("value for %q is not a number", field.Key)
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("value for %q is not an array", field.Key)
		}
		for _, item := range items {
			if _, ok := item.(string); !ok {
				return fmt.Errorf("item in array %q is not a string", field.Key)
			}
		}
	case "object":
		raw, ok := value.(string)
		if !ok {
			return fmt.Errorf("value for %q is not a JSON object string", field.Key)
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return fmt.Errorf("value for %q is not a valid JSON object", field.Key)
		}
		for k, v := range decoded {
			kind, known := field.Keys[k]
			if !known {
				continue
			}
			switch kind {
			case "string":
				if _, ok := v.(string); !ok {
					return fmt.Errorf("value for %q is not a string", k)
				}
			case "boolean":
				if _, ok := v.(bool); !ok {
					return fmt.Errorf("value for %q is not a boolean", k)
				}
			default:
				return fmt.Errorf("invalid kind %q for key %q in object spec", kind, k)
			}
		}
	default:
		return fmt.Errorf("unknown spec kind %q for field %q", field.Type, field.Key)
	}
	return nil
}
