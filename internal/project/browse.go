// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

// BrowseAnalystData resolves a hierarchical browse path over analyst
// output. Levels: analyst names, then "evidence_files" (latest frozen
// trackers) or "internal_memory" (the analyst's conversation), then one
// tracker or message. Empty segments in a path are rejected.
func (m *Manager) BrowseAnalystData(ctx context.Context, path string) (any, error) {
	parts := splitBrowsePath(path)
	if len(parts) == 0 {
		analysts, err := m.Analysts(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(analysts))
		for i, record := range analysts {
			names[i] = record.Name
		}
		return names, nil
	}

	record, err := m.AnalystRecord(ctx, parts[0])
	if err != nil {
		return nil, err
	}
	if len(parts) == 1 {
		return map[string]any{
			"name":          record.Name,
			"goal":          record.Goal,
			"answer":        record.Answer,
			"evidence":      record.Evidence,
			"goal_achieved": record.GoalAchieved,
			"children":      []string{"evidence_files", "internal_memory"},
		}, nil
	}

	switch parts[1] {
	case "evidence_files":
		return m.browseEvidence(ctx, record.Name, parts[2:])
	case "internal_memory":
		return m.browseMemory(ctx, record.Name, parts[2:])
	default:
		return nil, fmt.Errorf("browse path %q: %w", path, types.ErrKeyNotFound)
	}
}

func (m *Manager) browseEvidence(ctx context.Context, analyst string, rest []string) (any, error) {
	trackers, err := m.LatestTrackers(ctx, analyst)
	if err != nil {
		return nil, err
	}
	if len(rest) == 0 {
		names := make([]string, 0, len(trackers))
		for _, ref := range trackers {
			if !ref.Hidden {
				names = append(names, trackerBase(ref.ToolName))
			}
		}
		return names, nil
	}
	for _, ref := range trackers {
		if trackerBase(ref.ToolName) == rest[0] {
			return m.ToolTracker(ctx, ref)
		}
	}
	return nil, fmt.Errorf("tracker %q: %w", rest[0], types.ErrKeyNotFound)
}

func (m *Manager) browseMemory(ctx context.Context, analyst string, rest []string) (any, error) {
	messages, err := m.AnalystContext(ctx, analyst, true)
	if err != nil {
		return nil, err
	}
	if len(rest) == 0 {
		return len(messages), nil
	}
	index, err := strconv.Atoi(rest[0])
	if err != nil || index < 0 || index >= len(messages) {
		return nil, fmt.Errorf("memory entry %q: %w", rest[0], types.ErrKeyNotFound)
	}
	return messages[index], nil
}

func splitBrowsePath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
