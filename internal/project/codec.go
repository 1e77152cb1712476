// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

func jsonMarshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return raw, nil
}

func jsonUnmarshal(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

// readOrEmpty reads key into out, treating an absent key as the zero
// document.
func (m *Manager) readOrEmpty(ctx context.Context, key string, out any) error {
	err := m.store.Read(ctx, key, out)
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil
	}
	return err
}
