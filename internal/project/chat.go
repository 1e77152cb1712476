// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"context"
	"time"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

// AddChat appends one message to the project chat log, stamping the
// append time when the message carries none.
func (m *Manager) AddChat(ctx context.Context, msg types.Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	return m.mutateChat(ctx, func(chat *[]types.Message) error {
		*chat = append(*chat, msg)
		return nil
	})
}

// UpdateLastChat sets the status of the newest chat message. An empty
// log is left untouched.
func (m *Manager) UpdateLastChat(ctx context.Context, status types.Status) error {
	return m.mutateChat(ctx, func(chat *[]types.Message) error {
		if len(*chat) > 0 {
			(*chat)[len(*chat)-1].Status = status
		}
		return nil
	})
}

// Chat returns the full chat log in order.
func (m *Manager) Chat(ctx context.Context) ([]types.Message, error) {
	var chat []types.Message
	if err := m.readOrEmpty(ctx, chatKey, &chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// LastMessage returns the newest chat message, if any.
func (m *Manager) LastMessage(ctx context.Context) (types.Message, bool, error) {
	chat, err := m.Chat(ctx)
	if err != nil || len(chat) == 0 {
		return types.Message{}, false, err
	}
	return chat[len(chat)-1], true, nil
}

// RemoveOldDefaultMessages drops a trailing run of boilerplate messages
// whose contents exactly match defaults, so a reopened project greets
// the user once instead of stacking loading banners.
func (m *Manager) RemoveOldDefaultMessages(ctx context.Context, defaults []string) error {
	if len(defaults) == 0 {
		return nil
	}
	return m.mutateChat(ctx, func(chat *[]types.Message) error {
		index := len(*chat) - len(defaults)
		if index < 0 {
			return nil
		}
		for i, want := range defaults {
			if (*chat)[index+i].Content != want {
				return nil
			}
		}
		*chat = (*chat)[:index]
		return nil
	})
}

func (m *Manager) mutateChat(ctx context.Context, fn func(*[]types.Message) error) error {
	return m.store.Session(ctx, chatKey, func(raw []byte) ([]byte, error) {
		var chat []types.Message
		if raw != nil {
			if err := jsonUnmarshal(raw, &chat); err != nil {
				return nil, err
			}
		}
		if err := fn(&chat); err != nil {
			return nil, err
		}
		return jsonMarshal(chat)
	})
}
