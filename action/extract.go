// Package action extracts structured commands embedded in free-text model
// output. The model is not constrained to emit valid JSON, so extraction is
// a best-effort heuristic and parse failures are treated as "no action".
package action

import (
	"encoding/json"
	"strings"

	"github.com/mailmind/mailmind/types"
)

// Extract locates the first balanced brace-delimited JSON object containing
// an "action" key in text. It returns the parsed action (nil when absent or
// malformed) and the display text with the action payload removed. When
// stripping leaves nothing, the display text is replaced with a canned
// confirmation keyed by action name. For texts without an action,
// displayText equals the input unchanged.
func Extract(text string) (*types.StructuredAction, string) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		end, ok := matchBrace(text, start)
		if !ok {
			// No balanced object starts here; later '{' may still match.
			continue
		}
		candidate := text[start : end+1]

		var parsed struct {
			Action types.ActionName `json:"action"`
			Params map[string]any   `json:"params"`
		}
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil || parsed.Action == "" {
			continue
		}

		act := &types.StructuredAction{Name: parsed.Action, Params: parsed.Params}
		display := strings.TrimSpace(text[:start] + text[end+1:])
		if display == "" {
			display = Confirmation(parsed.Action)
		}
		return act, display
	}
	return nil, text
}

// matchBrace returns the index of the brace closing the object opened at
// start, honoring JSON string literals and escapes. Reports false when the
// sequence is unbalanced.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Confirmation returns the human-readable confirmation string shown when a
// response consisted of nothing but an action payload.
func Confirmation(name types.ActionName) string {
	switch name {
	case types.ActionSummarizeInbox:
		return "Summarizing your inbox..."
	case types.ActionSummarizeItem:
		return "Summarizing this email..."
	case types.ActionFilterUnread:
		return "Showing unread emails..."
	case types.ActionSearch:
		return "Searching your mailbox..."
	case types.ActionAnalyzeSentiment:
		return "Analyzing the tone of this email..."
	case types.ActionDraftReply:
		return "Drafting a reply..."
	case types.ActionOpenItem:
		return "Opening the email..."
	case types.ActionScroll:
		return "Scrolling..."
	default:
		return "Working on it..."
	}
}
