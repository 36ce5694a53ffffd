package sessionx

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := NewSession("+15550000000", "whatsapp", now)

	assert.Equal(t, "+15550000000", sess.ID)
	assert.Equal(t, "whatsapp", sess.Platform)
	assert.Empty(t, sess.History)
	assert.Equal(t, sess.CreatedAt, sess.LastActive)
}

func TestSessionAppend_TrimsOldestFirst(t *testing.T) {
	now := time.Now()
	sess := NewSession("id", "", now)

	for i := 0; i < 5; i++ {
		sess.Append(Message{
			Role:      RoleUser,
			Content:   fmt.Sprintf("msg-%d", i),
			Timestamp: now.Add(time.Duration(i) * time.Second),
		}, 3)
	}

	require.Len(t, sess.History, 3)
	assert.Equal(t, "msg-2", sess.History[0].Content)
	assert.Equal(t, "msg-3", sess.History[1].Content)
	assert.Equal(t, "msg-4", sess.History[2].Content)
}

func TestSessionAppend_BumpsLastActive(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := NewSession("id", "", created)

	later := created.Add(time.Minute)
	sess.Append(Message{Role: RoleUser, Content: "hi", Timestamp: later}, 10)

	assert.Equal(t, later, sess.LastActive)
	assert.Equal(t, created, sess.CreatedAt)
	assert.True(t, !sess.LastActive.Before(sess.CreatedAt))
}

func TestSessionClone_Isolated(t *testing.T) {
	now := time.Now()
	sess := NewSession("id", "", now)
	sess.Append(Message{Role: RoleUser, Content: "original", Timestamp: now}, 10)
	sess.Metadata["key"] = "value"

	clone := sess.Clone()
	clone.History[0].Content = "mutated"
	clone.Metadata["key"] = "mutated"

	assert.Equal(t, "original", sess.History[0].Content)
	assert.Equal(t, "value", sess.Metadata["key"])
}

func TestTrimHistory(t *testing.T) {
	mk := func(n int) []Message {
		msgs := make([]Message, n)
		for i := range msgs {
			msgs[i] = Message{Content: fmt.Sprintf("m%d", i)}
		}
		return msgs
	}

	tests := []struct {
		name      string
		in        int
		max       int
		wantLen   int
		wantFirst string
	}{
		{"under cap", 2, 5, 2, "m0"},
		{"at cap", 5, 5, 5, "m0"},
		{"over cap", 8, 5, 5, "m3"},
		{"unbounded", 8, 0, 8, "m0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := TrimHistory(mk(tt.in), tt.max)
			require.Len(t, out, tt.wantLen)
			assert.Equal(t, tt.wantFirst, out[0].Content)
		})
	}
}

func TestSessionInfo(t *testing.T) {
	now := time.Now()
	sess := NewSession("id", "github", now)
	sess.Append(Message{Role: RoleUser, Content: "hi", Timestamp: now}, 10)
	sess.Metadata["issue"] = "42"

	info := sess.Info()
	assert.Equal(t, "id", info.SessionID)
	assert.Equal(t, "github", info.Platform)
	assert.Equal(t, 1, info.MessageCount)
	assert.Equal(t, "42", info.Metadata["issue"])
}
