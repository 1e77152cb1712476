// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

const papersDirName = "papers_pdf"

// IngestPaper copies one PDF into the project and registers it under its
// content hash. Re-ingesting the same bytes is a no-op and returns the
// existing id.
func (m *Manager) IngestPaper(ctx context.Context, pdfPath string) (string, error) {
	id, err := sha256File(pdfPath)
	if err != nil {
		return "", err
	}
	stored := filepath.Join(m.dir, papersDirName, id+".pdf")
	if _, err := os.Stat(stored); os.IsNotExist(err) {
		if err := copyFile(pdfPath, stored); err != nil {
			return "", fmt.Errorf("storing pdf: %w", err)
		}
	}
	err = m.mutatePapers(ctx, func(papers map[string]types.Paper) error {
		paper, ok := papers[id]
		if !ok {
			paper = types.Paper{ID: id}
		}
		paper.PDFPath = stored
		papers[id] = paper
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// IngestPapers registers every PDF in ingestDir. With autoPrune set,
// papers no longer present in the directory are dropped from the project.
func (m *Manager) IngestPapers(ctx context.Context, ingestDir string, autoPrune bool) ([]string, error) {
	entries, err := os.ReadDir(ingestDir)
	if err != nil {
		return nil, fmt.Errorf("listing ingest directory: %w", err)
	}
	var found []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		id, err := m.IngestPaper(ctx, filepath.Join(ingestDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		m.log.Info().Str("paper", id).Str("file", entry.Name()).Msg("ingested paper")
		found = append(found, id)
	}
	if autoPrune {
		keep := make(map[string]bool, len(found))
		for _, id := range found {
			keep[id] = true
		}
		papers, err := m.Papers(ctx)
		if err != nil {
			return nil, err
		}
		for _, paper := range papers {
			if !keep[paper.ID] {
				if err := m.PrunePaper(ctx, paper.ID); err != nil {
					return nil, err
				}
			}
		}
	}
	return found, nil
}

// PrunePaper removes a paper's record, stored PDF, and full-text record.
func (m *Manager) PrunePaper(ctx context.Context, id string) error {
	err := m.mutatePapers(ctx, func(papers map[string]types.Paper) error {
		paper, ok := papers[id]
		if !ok {
			return fmt.Errorf("paper %s: %w", id, types.ErrPaperNotFound)
		}
		if paper.PDFPath != "" {
			if err := os.Remove(paper.PDFPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing pdf: %w", err)
			}
		}
		delete(papers, id)
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Info().Str("paper", id).Msg("pruned paper")
	return m.store.Delete(ctx, paperDataKey(id))
}

// Papers returns every registered paper sorted by id.
func (m *Manager) Papers(ctx context.Context) ([]types.Paper, error) {
	papers := map[string]types.Paper{}
	if err := m.readOrEmpty(ctx, papersKey, &papers); err != nil {
		return nil, err
	}
	out := make([]types.Paper, 0, len(papers))
	for _, paper := range papers {
		out = append(out, paper)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Paper returns one paper record.
func (m *Manager) Paper(ctx context.Context, id string) (types.Paper, error) {
	papers := map[string]types.Paper{}
	if err := m.readOrEmpty(ctx, papersKey, &papers); err != nil {
		return types.Paper{}, err
	}
	paper, ok := papers[id]
	if !ok {
		return types.Paper{}, fmt.Errorf("paper %s: %w", id, types.ErrPaperNotFound)
	}
	return paper, nil
}

// StoreProcessedPaper records a paper's full-text record and promotes
// the bibliographic fields onto the paper entry.
func (m *Manager) StoreProcessedPaper(ctx context.Context, id string, processed types.ProcessedPaper) error {
	if err := m.store.Session(ctx, paperDataKey(id), func(raw []byte) ([]byte, error) {
		return jsonMarshal(processed)
	}); err != nil {
		return err
	}
	return m.mutatePapers(ctx, func(papers map[string]types.Paper) error {
		paper, ok := papers[id]
		if !ok {
			return fmt.Errorf("paper %s: %w", id, types.ErrPaperNotFound)
		}
		paper.Title = processed.Metadata.Title
		paper.Authors = processed.Metadata.Authors
		paper.Date = processed.Metadata.Date
		paper.Processed = true
		papers[id] = paper
		return nil
	})
}

// ProcessedPaper returns a paper's full-text record.
func (m *Manager) ProcessedPaper(ctx context.Context, id string) (types.ProcessedPaper, error) {
	var processed types.ProcessedPaper
	if err := m.store.Read(ctx, paperDataKey(id), &processed); err != nil {
		return types.ProcessedPaper{}, err
	}
	return processed, nil
}

// UnprocessedPapers returns the papers with no full-text record yet.
func (m *Manager) UnprocessedPapers(ctx context.Context) ([]types.Paper, error) {
	papers, err := m.Papers(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.Paper
	for _, paper := range papers {
		if !paper.Processed {
			out = append(out, paper)
		}
	}
	return out, nil
}

// CreateNamedList records a permanent named paper list for an analyst.
// The list is immutable once created.
func (m *Manager) CreateNamedList(ctx context.Context, analyst, list string, paperIDs []string) error {
	if _, err := m.AnalystRecord(ctx, analyst); err != nil {
		return err
	}
	return m.mutatePapers(ctx, func(papers map[string]types.Paper) error {
		for _, paper := range papers {
			for _, existing := range paper.Lists[analyst] {
				if existing == list {
					return fmt.Errorf("list %q: %w", list, types.ErrListExists)
				}
			}
		}
		for _, id := range paperIDs {
			paper, ok := papers[id]
			if !ok {
				return fmt.Errorf("paper %s: %w", id, types.ErrPaperNotFound)
			}
			if paper.Lists == nil {
				paper.Lists = map[string][]string{}
			}
			paper.Lists[analyst] = append(paper.Lists[analyst], list)
			papers[id] = paper
		}
		return nil
	})
}

// NamedList returns the papers on an analyst's named list.
func (m *Manager) NamedList(ctx context.Context, analyst, list string) ([]types.Paper, error) {
	papers, err := m.Papers(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.Paper
	for _, paper := range papers {
		for _, name := range paper.Lists[analyst] {
			if name == list {
				out = append(out, paper)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("list %q: %w", list, types.ErrListNotFound)
	}
	return out, nil
}

func (m *Manager) mutatePapers(ctx context.Context, fn func(map[string]types.Paper) error) error {
	return m.store.Session(ctx, papersKey, func(raw []byte) ([]byte, error) {
		papers := map[string]types.Paper{}
		if raw != nil {
			if err := jsonUnmarshal(raw, &papers); err != nil {
				return nil, err
			}
		}
		if err := fn(papers); err != nil {
			return nil, err
		}
		return jsonMarshal(papers)
	})
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
