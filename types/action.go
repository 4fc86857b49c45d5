package types

import "encoding/json"

// ActionName identifies a structured action embedded in model output.
type ActionName string

const (
	ActionSummarizeInbox   ActionName = "summarize_inbox"
	ActionSummarizeItem    ActionName = "summarize_item"
	ActionFilterUnread     ActionName = "filter_unread"
	ActionSearch           ActionName = "search"
	ActionAnalyzeSentiment ActionName = "analyze_sentiment"
	ActionDraftReply       ActionName = "draft_reply"
	ActionOpenItem         ActionName = "open_item"
	ActionScroll           ActionName = "scroll"
)

// StructuredAction is a machine-readable command extracted from otherwise
// free-text model output. Params keys are action specific (e.g. "query" for
// search, "index" for open_item).
type StructuredAction struct {
	Name   ActionName     `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// StringParam returns a string parameter, tolerating JSON numbers.
func (a *StructuredAction) StringParam(key string) (string, bool) {
	if a == nil || a.Params == nil {
		return "", false
	}
	v, ok := a.Params[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	}
	return "", false
}

// IntParam returns an integer parameter. Model output frequently encodes
// indexes as float64 (plain JSON numbers) or strings, both are accepted.
func (a *StructuredAction) IntParam(key string) (int, bool) {
	if a == nil || a.Params == nil {
		return 0, false
	}
	switch v := a.Params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	case string:
		n := 0
		neg := false
		for i, r := range v {
			if i == 0 && r == '-' {
				neg = true
				continue
			}
			if r < '0' || r > '9' {
				return 0, false
			}
			n = n*10 + int(r-'0')
		}
		if v == "" || (neg && len(v) == 1) {
			return 0, false
		}
		if neg {
			n = -n
		}
		return n, true
	}
	return 0, false
}

// ActionResult is produced by the page agent executing a StructuredAction
// against the live page. Failures are reported in Error, never thrown past
// the agent boundary.
type ActionResult struct {
	Success bool          `json:"success"`
	Summary string        `json:"summary,omitempty"`
	Message string        `json:"message,omitempty"`
	Item    *ItemDetail   `json:"item,omitempty"`
	Items   []ItemSummary `json:"items,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// ErrorResult builds a failed ActionResult.
func ErrorResult(msg string) ActionResult {
	return ActionResult{Success: false, Error: msg}
}

// ItemSummary is one row of the visible mailbox list.
type ItemSummary struct {
	Index   int    `json:"index"`
	Sender  string `json:"sender,omitempty"`
	Subject string `json:"subject,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Unread  bool   `json:"unread,omitempty"`
	Date    string `json:"date,omitempty"`
}

// ItemDetail is the currently open message, if any.
type ItemDetail struct {
	Sender  string `json:"sender,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// PageContext is a point-in-time snapshot of the webmail surface. Both
// fields may legitimately be empty (e.g. a non-inbox view).
type PageContext struct {
	Items    []ItemSummary `json:"items"`
	OpenItem *ItemDetail   `json:"open_item,omitempty"`
	Note     string        `json:"note,omitempty"`
}
