// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "go.yaml.in/yaml/v3"

	"github.com/elias-jhsph/scienceai/internal/llm"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

// scriptedOracle returns canned responses in order and records every
// request it sees.
type scriptedOracle struct {
	calls []types.ChatRequest
	resps []*types.ChatResponse
}

func (o *scriptedOracle) Chat(_ context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	i := len(o.calls)
	o.calls = append(o.calls, req)
	if i >= len(o.resps) {
		return nil, nil
	}
	return o.resps[i], nil
}

func toolResp(name, args string) *types.ChatResponse {
	return &types.ChatResponse{ToolCalls: []types.ToolCallRef{{
		ID:       "call-1",
		Type:     "function",
		Function: types.FunctionCall{Name: name, Arguments: args},
	}}}
}

func testPipeline(t *testing.T, oracle llm.Oracle) *Pipeline {
	t.Helper()
	return &Pipeline{
		gw:      llm.NewGateway(oracle, llm.NewBudget(0), zerolog.Nop()),
		tax:     DefaultTaxonomy(),
		model:   "test-model",
		retries: defaultRetries,
		docs:    newDocsCache(filepath.Join(t.TempDir(), "template_docs.yaml")),
		log:     zerolog.Nop(),
	}
}

// prefillDocs seeds the docs cache so tests that need taxonomy docs do
// not spend model calls generating examples.
func prefillDocs(p *Pipeline) {
	for _, name := range p.tax.Names() {
		p.docs.docs[name] = "## " + name + "\nstub docs\n"
	}
}

func TestCompileSchema_PrefixMode(t *testing.T) {
	tax := DefaultTaxonomy()
	schema := Schema{{
		"type":        "numeric_result",
		"name":        "systolic blood pressure",
		"description": "The mean systolic blood pressure of the treatment group.",
		"units":       "mmHg",
		"required":    true,
	}}

	contract, err := tax.CompileSchema(schema)
	require.NoError(t, err)

	value, ok := contract.Properties["systolic_blood_pressure_value"]
	require.True(t, ok)
	assert.Equal(t, "number", value.Type)
	assert.Contains(t, value.Description, "systolic_blood_pressure")
	assert.Contains(t, value.Description, "mmHg")
	assert.NotContains(t, value.Description, "UNITS")
	assert.NotContains(t, value.Description, "NAME")

	units, ok := contract.Properties["systolic_blood_pressure_units"]
	require.True(t, ok)
	assert.Equal(t, "string", units.Type)

	flag, ok := contract.Properties["systolic_blood_pressure_successfully_extracted"]
	require.True(t, ok)
	assert.Equal(t, "boolean", flag.Type)

	assert.ElementsMatch(t, []string{
		"systolic_blood_pressure_value",
		"systolic_blood_pressure_units",
		"systolic_blood_pressure_successfully_extracted",
	}, contract.Required)
}

func TestCompileSchema_ArrayMode(t *testing.T) {
	tax := DefaultTaxonomy()
	schema := Schema{{
		"type":        "evidence_list",
		"name":        "reported limitations",
		"description": "Limitations the authors acknowledge.",
		"required":    false,
	}}

	contract, err := tax.CompileSchema(schema)
	require.NoError(t, err)

	list, ok := contract.Properties["reported_limitations"]
	require.True(t, ok)
	assert.Equal(t, "array", list.Type)
	require.NotNil(t, list.Items)
	assert.Equal(t, "object", list.Items.Type)
	assert.Contains(t, list.Items.Properties, "statement")
	assert.Contains(t, list.Items.Properties, "quote")

	// Optional entries still require their success flag.
	assert.Equal(t, []string{"reported_limitations_successfully_extracted"}, contract.Required)
}

func TestCompileSchema_Deterministic(t *testing.T) {
	tax := DefaultTaxonomy()
	schema := Schema{
		{"type": "yes_no_flag", "name": "used_randomization", "description": "Did the study randomize?", "required": true},
		{"type": "text_finding", "name": "main_conclusion", "description": "The paper's main conclusion.", "required": true},
	}

	first, err := tax.CompileSchema(schema)
	require.NoError(t, err)
	second, err := tax.CompileSchema(schema)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCompileSchema_UnknownType(t *testing.T) {
	tax := DefaultTaxonomy()
	_, err := tax.CompileSchema(Schema{{"type": "no_such_type", "name": "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_type")
}

func TestRemoveFailedData(t *testing.T) {
	record := map[string]any{
		"sample_size_value":                   float64(120),
		"sample_size_successfully_extracted":  true,
		"dropout_rate_value":                  float64(3),
		"dropout_rate_units":                  "percent",
		"dropout_rate_successfully_extracted": false,
		"main_finding_value":                  "treatment reduced symptoms",
		"main_finding_successfully_extracted": true,
		"side_effects":                        []any{},
		"side_effects_successfully_extracted": false,
	}

	cleaned := RemoveFailedData(record)

	assert.Equal(t, map[string]any{
		"sample_size_value":  float64(120),
		"main_finding_value": "treatment reduced symptoms",
	}, cleaned)
}

func TestValidateEntry(t *testing.T) {
	tax := DefaultTaxonomy()
	tests := []struct {
		name    string
		entry   Entry
		wantErr string
	}{
		{
			name: "valid text finding",
			entry: Entry{
				"type": "text_finding", "name": "main_conclusion",
				"description": "The paper's main conclusion.", "required": true,
			},
		},
		{
			name: "valid category label",
			entry: Entry{
				"type": "category_label", "name": "study_design",
				"description": "The study design used.",
				"categories":  []any{"rct", "cohort", "case_control"},
				"required":    true,
			},
		},
		{
			name:    "missing type",
			entry:   Entry{"name": "x"},
			wantErr: "no 'type' field",
		},
		{
			name:    "unknown type",
			entry:   Entry{"type": "mystery", "name": "x"},
			wantErr: "not found in taxonomy",
		},
		{
			name: "missing spec field",
			entry: Entry{
				"type": "text_finding", "name": "main_conclusion", "required": true,
			},
			wantErr: `field "description" not found`,
		},
		{
			name: "wrong kind",
			entry: Entry{
				"type": "text_finding", "name": "main_conclusion",
				"description": "ok", "required": "yes",
			},
			wantErr: "not a boolean",
		},
		{
			name: "extra field",
			entry: Entry{
				"type": "text_finding", "name": "main_conclusion",
				"description": "ok", "required": true, "extra": 1,
			},
			wantErr: "extra fields",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tax.ValidateEntry(tc.entry)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestExtract_ReflectionRejectionDiscardsAndRetries(t *testing.T) {
	oracle := &scriptedOracle{resps: []*types.ChatResponse{
		toolResp(ExtractToolName, `{"n_value": 10, "n_successfully_extracted": true}`),
		toolResp(reflectToolName, `{"valid": false}`),
		toolResp(ExtractToolName, `{"n_value": 42, "n_successfully_extracted": true}`),
		toolResp(reflectToolName, `{"valid": true}`),
	}}
	p := testPipeline(t, oracle)

	contract, err := p.tax.CompileSchema(Schema{{
		"type": "numeric_result", "name": "n",
		"description": "Sample size.", "units": "participants", "required": true,
	}})
	require.NoError(t, err)

	record, err := p.Extract(context.Background(), contract, "the study enrolled 42 participants")
	require.NoError(t, err)
	require.NotNil(t, record)

	// The rejected first record never surfaces.
	assert.Equal(t, map[string]any{"n_value": float64(42)}, record)
	assert.Len(t, oracle.calls, 4)
}

func TestExtract_ExhaustionReturnsNil(t *testing.T) {
	resps := make([]*types.ChatResponse, 0, defaultRetries*2)
	for i := 0; i < defaultRetries; i++ {
		resps = append(resps,
			toolResp(ExtractToolName, `{"n_value": 1, "n_successfully_extracted": true}`),
			toolResp(reflectToolName, `{"valid": false}`))
	}
	oracle := &scriptedOracle{resps: resps}
	p := testPipeline(t, oracle)

	contract, err := p.tax.CompileSchema(Schema{{
		"type": "numeric_result", "name": "n",
		"description": "Sample size.", "units": "participants", "required": true,
	}})
	require.NoError(t, err)

	record, err := p.Extract(context.Background(), contract, "text")
	require.NoError(t, err)
	assert.Nil(t, record)
	// Five extraction attempts, each followed by a reflection call.
	assert.Len(t, oracle.calls, 10)
}

func TestExtract_Cancellation(t *testing.T) {
	oracle := &scriptedOracle{}
	p := testPipeline(t, oracle)
	contract, err := p.tax.CompileSchema(Schema{{
		"type": "yes_no_flag", "name": "blinded",
		"description": "Was the study blinded?", "required": true,
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Extract(ctx, contract, "text")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, oracle.calls)
}

func TestGenerateSchema_RetriesInvalidEntries(t *testing.T) {
	bad := `[{"type":"text_finding","name":"x"}]`
	good := `[{"type":"text_finding","name":"main_conclusion","description":"The main conclusion.","required":true}]`
	oracle := &scriptedOracle{resps: []*types.ChatResponse{
		toolResp(schemaToolName, `{"schema":`+jsonString(bad)+`}`),
		toolResp(schemaToolName, `{"schema":`+jsonString(good)+`}`),
	}}
	p := testPipeline(t, oracle)
	prefillDocs(p)

	schema, err := p.GenerateSchema(context.Background(), "summarize conclusions")
	require.NoError(t, err)
	require.Len(t, schema, 1)
	assert.Equal(t, "main_conclusion", schema[0].TargetName())
	assert.Len(t, oracle.calls, 2)
}

func TestGenerateSchema_ExhaustionReturnsNil(t *testing.T) {
	oracle := &scriptedOracle{}
	p := testPipeline(t, oracle)
	prefillDocs(p)

	schema, err := p.GenerateSchema(context.Background(), "anything")
	require.NoError(t, err)
	assert.Nil(t, schema)
	assert.Len(t, oracle.calls, schemaRetries)
}

func TestDescribeTemplate_GeneratesAndCaches(t *testing.T) {
	example := `{"name":"main_conclusion","description":"The main conclusion.","required":true}`
	oracle := &scriptedOracle{resps: []*types.ChatResponse{
		toolResp(exampleToolName, example),
		toolResp(exampleToolName, `{"name":"stated_mechanism","description":"The mechanism described.","required":false}`),
		toolResp(exampleToolName, `{"name":"population","description":"The study population.","required":true}`),
	}}
	p := testPipeline(t, oracle)

	doc, err := p.DescribeTemplate(context.Background(), "text_finding")
	require.NoError(t, err)
	assert.Contains(t, doc, "text_finding")
	assert.Contains(t, doc, "main_conclusion")
	assert.Len(t, oracle.calls, 3)

	// Cached on disk: a fresh pipeline over the same path makes no calls.
	fresh := testPipeline(t, &scriptedOracle{})
	fresh.docs = newDocsCache(p.docs.path)
	again, err := fresh.DescribeTemplate(context.Background(), "text_finding")
	require.NoError(t, err)
	assert.Equal(t, doc, again)

	raw, err := os.ReadFile(p.docs.path)
	require.NoError(t, err)
	var stored map[string]string
	require.NoError(t, yaml.Unmarshal(raw, &stored))
	assert.Contains(t, stored, "text_finding")
}

func TestDescribeTemplate_RejectsInvalidExamples(t *testing.T) {
	// First candidate misses spec fields and is retried.
	oracle := &scriptedOracle{resps: []*types.ChatResponse{
		toolResp(exampleToolName, `{"name":"broken"}`),
		toolResp(exampleToolName, `{"name":"a","description":"First.","required":true}`),
		toolResp(exampleToolName, `{"name":"b","description":"Second.","required":true}`),
		toolResp(exampleToolName, `{"name":"c","description":"Third.","required":false}`),
	}}
	p := testPipeline(t, oracle)

	doc, err := p.DescribeTemplate(context.Background(), "text_finding")
	require.NoError(t, err)
	assert.NotContains(t, doc, "broken")
	assert.Len(t, oracle.calls, 4)
}

// jsonString renders s as a quoted JSON string literal.
func jsonString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}
