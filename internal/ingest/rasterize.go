// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
)

// Rasterizer renders a PDF into one image per page, returned as PNG data
// URLs in page order. Rendering quality is the implementation's concern;
// pages must come back upright and legible enough for the model to read.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string) ([]string, error)
}

// PopplerRasterizer shells out to pdftoppm from the poppler-utils
// package.
type PopplerRasterizer struct {
	// DPI defaults to 200 when zero.
	DPI int
}

func (r *PopplerRasterizer) Rasterize(ctx context.Context, pdfPath string) ([]string, error) {
	dpi := r.DPI
	if dpi == 0 {
		dpi = 200
	}
	tmp, err := os.MkdirTemp("", "scienceai-pages-")
	if err != nil {
		return nil, fmt.Errorf("creating page directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png", "-r", strconv.Itoa(dpi), pdfPath, filepath.Join(tmp, "page"))
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %v: %s", err, out)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".png" {
			names = append(names, entry.Name())
		}
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order.
	sort.Strings(names)

	pages := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(tmp, name))
		if err != nil {
			return nil, fmt.Errorf("reading page %s: %w", name, err)
		}
		pages = append(pages, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(raw))
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages for %s", pdfPath)
	}
	return pages, nil
}
