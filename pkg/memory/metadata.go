package memory

import (
	"regexp"
	"strings"
	"time"
)

// IndexMetadata is the fixed projection written alongside every vector in
// the remote index. Derivation is deterministic: the same memory always
// produces the same metadata, so the mirror can be filtered and rebuilt
// without consulting the primary store.
type IndexMetadata struct {
	Text    string `json:"text"`
	UserID  string `json:"user_id,omitempty"`
	RoomID  string `json:"room_id"`
	AgentID string `json:"agent_id,omitempty"`
	Table   string `json:"table"`

	// Timestamp is unix milliseconds of CreatedAt
	Timestamp int64 `json:"timestamp"`

	// Calendar fields derived from CreatedAt in UTC
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
	Hour  int `json:"hour"`

	Mentions    []string `json:"mentions,omitempty"`
	URLs        []string `json:"urls,omitempty"`
	HasMentions bool     `json:"has_mentions"`
	HasURLs     bool     `json:"has_urls"`
	TextLength  int      `json:"text_length"`

	Action         string `json:"action,omitempty"`
	Source         string `json:"source,omitempty"`
	InReplyTo      string `json:"in_reply_to,omitempty"`
	IsUnique       bool   `json:"is_unique"`
	HasAttachments bool   `json:"has_attachments"`
}

var (
	mentionPattern = regexp.MustCompile(`@(\w+)`)
	urlPattern     = regexp.MustCompile(`https?://\S+`)
)

// DeriveMetadata computes the index metadata projection for a memory.
// It is a pure function of the memory and table.
func DeriveMetadata(m *Memory, table string) *IndexMetadata {
	text := m.Content.Text
	ts := m.CreatedAt.UTC()

	mentions := extractMentions(text)
	urls := extractURLs(text)

	return &IndexMetadata{
		Text:           text,
		UserID:         m.UserID,
		RoomID:         m.RoomID,
		AgentID:        m.AgentID,
		Table:          table,
		Timestamp:      m.CreatedAt.UnixMilli(),
		Year:           ts.Year(),
		Month:          int(ts.Month()),
		Day:            ts.Day(),
		Hour:           ts.Hour(),
		Mentions:       mentions,
		URLs:           urls,
		HasMentions:    len(mentions) > 0,
		HasURLs:        len(urls) > 0,
		TextLength:     len(text),
		Action:         m.Content.Action,
		Source:         m.Content.Source,
		InReplyTo:      m.Content.InReplyTo,
		IsUnique:       m.Unique,
		HasAttachments: len(m.Content.Attachments) > 0,
	}
}

// ToMemory reconstructs a memory skeleton from index metadata. Used when a
// match exists only in the index mirror and the authoritative row is not in
// the merged result set.
func (md *IndexMetadata) ToMemory(id string, score float64) *Memory {
	return &Memory{
		ID:      id,
		RoomID:  md.RoomID,
		UserID:  md.UserID,
		AgentID: md.AgentID,
		Content: Content{
			Text:      md.Text,
			Action:    md.Action,
			Source:    md.Source,
			InReplyTo: md.InReplyTo,
		},
		CreatedAt:  time.UnixMilli(md.Timestamp).UTC(),
		Unique:     md.IsUnique,
		Similarity: score,
	}
}

func extractMentions(text string) []string {
	var mentions []string
	seen := make(map[string]bool)
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			mentions = append(mentions, name)
		}
	}
	return mentions
}

func extractURLs(text string) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, match := range urlPattern.FindAllString(text, -1) {
		url := strings.TrimRight(match, ".,;:!?)")
		if !seen[url] {
			seen[url] = true
			urls = append(urls, url)
		}
	}
	return urls
}
