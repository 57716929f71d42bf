package conversations_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casebridge/casebridge/conversations"
)

func TestFormatTranscriptEmpty(t *testing.T) {
	require.Empty(t, conversations.FormatTranscript(nil))
	require.Empty(t, conversations.FormatTranscript([]conversations.Message{}))
}

func TestFormatTranscriptOrdersChronologically(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC).Unix()
	messages := []conversations.Message{
		{Content: "sure, here is how", Role: "assistant", CreatedAt: at + 60},
		{Content: "how do I reset my password?", Role: "user", CreatedAt: at},
	}

	got := conversations.FormatTranscript(messages)
	want := "User [2025-03-14 09:30:00]: how do I reset my password?\n\n" +
		"Assistant [2025-03-14 09:31:00]: sure, here is how"
	require.Equal(t, want, got)
}

func TestFormatTranscriptOmitsZeroTimestamps(t *testing.T) {
	messages := []conversations.Message{
		{Content: "hello", Role: "user"},
		{Content: "hi there", Role: "assistant"},
	}
	require.Equal(t, "User: hello\n\nAssistant: hi there", conversations.FormatTranscript(messages))
}

func TestFormatTranscriptFallsBackToMachineFlag(t *testing.T) {
	messages := []conversations.Message{
		{Content: "hello", Machine: false, CreatedAt: 1},
		{Content: "hi there", Machine: true, CreatedAt: 2},
	}
	require.Equal(t, "User [1970-01-01 00:00:01]: hello\n\nAssistant [1970-01-01 00:00:02]: hi there",
		conversations.FormatTranscript(messages))
}

func TestMessageStats(t *testing.T) {
	messages := []conversations.Message{
		{Content: "how do I reset my password?", Role: "user"},
		{Content: "sure, here is how", Role: "assistant"},
		{Content: "thanks", Machine: false},
	}

	stats := conversations.MessageStats(messages)
	require.Equal(t, map[string]string{
		"Message_Count":          "3",
		"User_Messages":          "2",
		"Assistant_Messages":     "1",
		"Total_Characters":       "50",
		"Average_Message_Length": "16",
	}, stats)
}

func TestMessageStatsEmpty(t *testing.T) {
	stats := conversations.MessageStats(nil)
	require.Equal(t, "0", stats["Message_Count"])
	require.Equal(t, "0", stats["Average_Message_Length"])
}
