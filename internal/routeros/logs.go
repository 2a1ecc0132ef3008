package routeros

import (
	"strings"
)

// LogEntry is one row of the router's system log.
type LogEntry struct {
	ID      string   `json:"id,omitempty"` // RouterOS ".id", e.g. "*1A2"
	Time    string   `json:"time"`
	Topics  []string `json:"topics"` // lower-case
	Message string   `json:"message"`
}

// Identity is the dedup key of a log entry. The router's ".id" is not
// used because it restarts when the log buffer is cleared.
type Identity struct {
	Time    string
	Message string
}

// Identity returns the entry's composite (time, message) identity.
func (e LogEntry) Identity() Identity {
	return Identity{Time: e.Time, Message: e.Message}
}

// TopicString joins the topics the way RouterOS prints them.
func (e LogEntry) TopicString() string {
	return strings.Join(e.Topics, ",")
}

// ParseLogEntries converts raw log rows to entries in input order. The
// "topics" field may be a comma-separated string or a JSON array. Rows
// without a message are skipped; the count of skipped rows is returned.
func ParseLogEntries(rows []Row) ([]LogEntry, int) {
	entries := make([]LogEntry, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		msg, ok := NormalizeString(row["message"])
		if !ok {
			skipped++
			continue
		}
		id, _ := NormalizeString(row[".id"])
		ts, _ := NormalizeString(row["time"])
		entries = append(entries, LogEntry{
			ID:      id,
			Time:    ts,
			Topics:  parseTopics(row["topics"]),
			Message: msg,
		})
	}
	return entries, skipped
}

func parseTopics(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, strings.Split(s, ",")...)
			}
		}
	}

	topics := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			topics = append(topics, p)
		}
	}
	return topics
}
