package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{
			name:  "map",
			input: map[string]any{"event": "push", "count": 2},
			want:  `{"count":2,"event":"push"}`,
		},
		{
			name:  "nil",
			input: nil,
			want:  "null",
		},
		{
			name:  "unmarshalable degrades to empty object",
			input: map[string]any{"fn": func() {}},
			want:  "{}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MarshalJSON(tt.input))
		})
	}
}

func TestMemory_Record(t *testing.T) {
	m := NewMemory()

	m.Record(context.Background(), Entry{
		Agent:  "github_webhook",
		Action: "webhook:push",
		Input:  `{"event":"push"}`,
		Output: `{"status":"received"}`,
	})

	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "github_webhook", entries[0].Agent)
	assert.Equal(t, "webhook:push", entries[0].Action)
	assert.False(t, entries[0].Timestamp.IsZero(), "zero timestamp is stamped at record time")
}

func TestMemory_RecordKeepsExplicitTimestamp(t *testing.T) {
	m := NewMemory()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m.Record(context.Background(), Entry{Agent: "a", Action: "b", Timestamp: ts})

	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ts, entries[0].Timestamp)
}

func TestMemory_EntriesReturnsSnapshot(t *testing.T) {
	m := NewMemory()
	m.Record(context.Background(), Entry{Agent: "a", Action: "one"})

	snapshot := m.Entries()
	m.Record(context.Background(), Entry{Agent: "a", Action: "two"})

	assert.Len(t, snapshot, 1)
	assert.Len(t, m.Entries(), 2)
}
