// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/elias-jhsph/scienceai/internal/llm"
	"github.com/elias-jhsph/scienceai/internal/retry"
)

const defaultRetries = 5

// Pipeline turns taxonomy templates into extraction schemas, compiles
// them into tool contracts, and runs model-driven extraction with a
// reflection check. One Pipeline is shared across projects.
type Pipeline struct {
	gw      *llm.Gateway
	tax     *Taxonomy
	model   string
	retries int
	docs    *docsCache
	log     zerolog.Logger
}

// NewPipeline builds a pipeline over the default taxonomy. The docs
// cache lives under cacheDir and survives restarts.
func NewPipeline(gw *llm.Gateway, model, cacheDir string, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		gw:      gw,
		tax:     DefaultTaxonomy(),
		model:   model,
		retries: defaultRetries,
		docs:    newDocsCache(filepath.Join(cacheDir, "template_docs.yaml")),
		log:     log.With().Str("component", "extraction").Logger(),
	}
}

// Taxonomy exposes the pipeline's template set.
func (p *Pipeline) Taxonomy() *Taxonomy { return p.tax }

func (p *Pipeline) retry(ctx context.Context, fn func() (bool, error)) (bool, error) {
	return retry.Do(ctx, p.retries, fn)
}
