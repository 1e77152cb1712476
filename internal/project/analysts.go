// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

const trackerTimeFormat = "2006-01-02_15_04_05"

func trackerKey(analyst, tool string) string {
	return "tracker/" + analyst + "/" + tool
}

// CreateAnalyst registers a new analyst record. Creating a name that
// already exists leaves the existing record untouched.
func (m *Manager) CreateAnalyst(ctx context.Context, name, goal string) error {
	if err := m.mutateAnalysts(ctx, func(analysts map[string]types.AnalystRecord) error {
		if _, ok := analysts[name]; !ok {
			analysts[name] = types.AnalystRecord{Name: name, Goal: goal}
		}
		return nil
	}); err != nil {
		return err
	}
	return m.store.Create(ctx, contextKey(name), []types.Message{})
}

// AnalystRecord returns one analyst's persisted record.
func (m *Manager) AnalystRecord(ctx context.Context, name string) (types.AnalystRecord, error) {
	analysts := map[string]types.AnalystRecord{}
	if err := m.readOrEmpty(ctx, analystsKey, &analysts); err != nil {
		return types.AnalystRecord{}, err
	}
	record, ok := analysts[name]
	if !ok {
		return types.AnalystRecord{}, fmt.Errorf("analyst %s: %w", name, types.ErrAnalystNotFound)
	}
	return record, nil
}

// Analysts returns every analyst record sorted by name.
func (m *Manager) Analysts(ctx context.Context) ([]types.AnalystRecord, error) {
	analysts := map[string]types.AnalystRecord{}
	if err := m.readOrEmpty(ctx, analystsKey, &analysts); err != nil {
		return nil, err
	}
	out := make([]types.AnalystRecord, 0, len(analysts))
	for _, record := range analysts {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetAnalystOutcome installs an analyst's terminal answer and evidence.
func (m *Manager) SetAnalystOutcome(ctx context.Context, name, answer, evidence string) error {
	return m.mutateAnalysts(ctx, func(analysts map[string]types.AnalystRecord) error {
		record, ok := analysts[name]
		if !ok {
			return fmt.Errorf("analyst %s: %w", name, types.ErrAnalystNotFound)
		}
		record.Answer = answer
		record.Evidence = evidence
		record.GoalAchieved = true
		analysts[name] = record
		return nil
	})
}

// AnalystContext returns an analyst's conversation, hidden entries
// excluded unless includeHidden is set.
func (m *Manager) AnalystContext(ctx context.Context, name string, includeHidden bool) ([]types.Message, error) {
	var messages []types.Message
	if err := m.readOrEmpty(ctx, contextKey(name), &messages); err != nil {
		return nil, err
	}
	if includeHidden {
		return messages, nil
	}
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if !msg.Hidden {
			out = append(out, msg)
		}
	}
	return out, nil
}

// AppendAnalystContext appends messages to an analyst's conversation.
func (m *Manager) AppendAnalystContext(ctx context.Context, name string, msgs ...types.Message) error {
	return m.store.Session(ctx, contextKey(name), func(raw []byte) ([]byte, error) {
		var messages []types.Message
		if raw != nil {
			if err := jsonUnmarshal(raw, &messages); err != nil {
				return nil, err
			}
		}
		messages = append(messages, msgs...)
		return jsonMarshal(messages)
	})
}

// AddToolTracker opens a timestamped accumulation bucket for one
// extraction run and records it, hidden, on the analyst.
func (m *Manager) AddToolTracker(ctx context.Context, analyst, tool string) (types.ToolTrackerRef, error) {
	full := tool + "_" + time.Now().Format(trackerTimeFormat)
	ref := types.ToolTrackerRef{
		ToolName: full,
		Key:      trackerKey(analyst, full),
		Hidden:   true,
	}
	if err := m.store.Create(ctx, ref.Key, map[string]map[string]any{}); err != nil {
		return types.ToolTrackerRef{}, err
	}
	err := m.mutateAnalysts(ctx, func(analysts map[string]types.AnalystRecord) error {
		record, ok := analysts[analyst]
		if !ok {
			return fmt.Errorf("analyst %s: %w", analyst, types.ErrAnalystNotFound)
		}
		record.Tools = append(record.Tools, ref)
		analysts[analyst] = record
		return nil
	})
	if err != nil {
		return types.ToolTrackerRef{}, err
	}
	return ref, nil
}

// UpdateToolTracker merges one paper's extracted record into a tracker.
func (m *Manager) UpdateToolTracker(ctx context.Context, ref types.ToolTrackerRef, paperID string, record map[string]any) error {
	return m.store.Session(ctx, ref.Key, func(raw []byte) ([]byte, error) {
		data := map[string]map[string]any{}
		if raw != nil {
			if err := jsonUnmarshal(raw, &data); err != nil {
				return nil, err
			}
		}
		existing, ok := data[paperID]
		if !ok {
			data[paperID] = record
		} else {
			for k, v := range record {
				existing[k] = v
			}
		}
		return jsonMarshal(data)
	})
}

// ToolTracker returns a tracker's per-paper records.
func (m *Manager) ToolTracker(ctx context.Context, ref types.ToolTrackerRef) (map[string]map[string]any, error) {
	data := map[string]map[string]any{}
	if err := m.store.Read(ctx, ref.Key, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// LatestTrackers returns, for each collection name, the newest frozen
// tracker an analyst produced. The timestamp suffix orders runs.
func (m *Manager) LatestTrackers(ctx context.Context, analyst string) ([]types.ToolTrackerRef, error) {
	record, err := m.AnalystRecord(ctx, analyst)
	if err != nil {
		return nil, err
	}
	latest := map[string]types.ToolTrackerRef{}
	for _, ref := range record.Tools {
		base := trackerBase(ref.ToolName)
		if prev, ok := latest[base]; !ok || ref.ToolName > prev.ToolName {
			latest[base] = ref
		}
	}
	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]types.ToolTrackerRef, 0, len(names))
	for _, name := range names {
		out = append(out, latest[name])
	}
	return out, nil
}

// trackerBase strips the timestamp suffix from a tracker name.
func trackerBase(toolName string) string {
	if len(toolName) <= len(trackerTimeFormat)+1 {
		return toolName
	}
	return toolName[:len(toolName)-len(trackerTimeFormat)-1]
}

func (m *Manager) mutateAnalysts(ctx context.Context, fn func(map[string]types.AnalystRecord) error) error {
	return m.store.Session(ctx, analystsKey, func(raw []byte) ([]byte, error) {
		analysts := map[string]types.AnalystRecord{}
		if raw != nil {
			if err := jsonUnmarshal(raw, &analysts); err != nil {
				return nil, err
			}
		}
		if err := fn(analysts); err != nil {
			return nil, err
		}
		return jsonMarshal(analysts)
	})
}
