package conversations

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FormatTranscript renders messages as a readable transcript: chronological
// order, speaker labels, optional timestamps, blank-line separated. An empty
// message list yields "".
func FormatTranscript(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}

	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt < sorted[j].CreatedAt
	})

	lines := make([]string, 0, len(sorted))
	for _, m := range sorted {
		ts := ""
		if m.CreatedAt > 0 {
			ts = " [" + time.Unix(m.CreatedAt, 0).UTC().Format("2006-01-02 15:04:05") + "]"
		}
		lines = append(lines, fmt.Sprintf("%s%s: %s", speaker(m), ts, m.Content))
	}
	return strings.Join(lines, "\n\n")
}

func speaker(m Message) string {
	switch strings.ToLower(m.Role) {
	case "user", "human":
		return "User"
	case "assistant", "bot", "ai":
		return "Assistant"
	}
	if m.Machine {
		return "Assistant"
	}
	return "User"
}

// MessageStats computes the per-conversation figures stored as custom fields
// on the case.
func MessageStats(messages []Message) map[string]string {
	total := len(messages)
	userCount := 0
	botCount := 0
	chars := 0

	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		chars += len(content)
		if isAssistant(m) {
			botCount++
		} else {
			userCount++
		}
	}

	avgLen := 0
	if total > 0 {
		avgLen = chars / total
	}
	return map[string]string{
		"Message_Count":          strconv.Itoa(total),
		"User_Messages":          strconv.Itoa(userCount),
		"Assistant_Messages":     strconv.Itoa(botCount),
		"Total_Characters":       strconv.Itoa(chars),
		"Average_Message_Length": strconv.Itoa(avgLen),
	}
}

func isAssistant(m Message) bool {
	if m.Role != "" {
		role := strings.ToLower(m.Role)
		return role == "assistant" || role == "bot" || role == "ai"
	}
	return m.Machine
}
