package orchestrator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mailmind/mailmind/types"
)

const systemPreamble = `You are a helpful email assistant embedded in a webmail client.
Answer the user in plain text. When the user asks you to act on the mailbox,
append exactly one JSON object describing the action, for example:
{"action": "open_item", "params": {"index": 2}}

Available actions: summarize_inbox, summarize_item, filter_unread,
search {"query"}, analyze_sentiment, draft_reply {"text"},
open_item {"index"}, scroll {"direction", "amount"}.

Only emit an action the current page can satisfy. If no action is needed,
reply with text only.`

// PromptBuilder assembles the generation prompt under a token budget.
// Counting uses tiktoken when the encoding is available and falls back to a
// bytes/4 estimate, so an offline host degrades to a coarser budget rather
// than failing the turn.
type PromptBuilder struct {
	budget int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewPromptBuilder creates a builder with the given whole-prompt token
// budget.
func NewPromptBuilder(budget int) *PromptBuilder {
	if budget <= 0 {
		budget = 3072
	}
	return &PromptBuilder{budget: budget}
}

func (b *PromptBuilder) init() error {
	b.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			b.initErr = fmt.Errorf("init tiktoken encoding: %w", err)
			return
		}
		b.enc = enc
	})
	return b.initErr
}

// CountTokens returns the token count of text, estimated when the encoding
// could not be initialized.
func (b *PromptBuilder) CountTokens(text string) int {
	if b.init() == nil {
		return len(b.enc.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

// Build renders the prompt: preamble, optional context-failure note, page
// context, recent transcript, then the user message. Page items are added
// newest-first-visible until the budget runs out; the open-item body is
// truncated to whatever budget remains.
func (b *PromptBuilder) Build(userMessage string, pc *types.PageContext, note string, history []types.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)
	sb.WriteString("\n\n")

	if note != "" {
		fmt.Fprintf(&sb, "Note: %s\n\n", note)
	}

	used := b.CountTokens(sb.String()) + b.CountTokens(userMessage) + 64
	remaining := b.budget - used

	if pc != nil && len(pc.Items) > 0 {
		var items strings.Builder
		items.WriteString("Visible emails:\n")
		for _, it := range pc.Items {
			line := fmt.Sprintf("[%d] from=%q subject=%q unread=%v snippet=%q\n",
				it.Index, it.Sender, it.Subject, it.Unread, it.Snippet)
			cost := b.CountTokens(line)
			if cost > remaining {
				break
			}
			items.WriteString(line)
			remaining -= cost
		}
		sb.WriteString(items.String())
		sb.WriteString("\n")
	}

	if pc != nil && pc.OpenItem != nil {
		body := b.truncate(pc.OpenItem.Body, remaining/2)
		fmt.Fprintf(&sb, "Open email from %q, subject %q:\n%s\n\n",
			pc.OpenItem.Sender, pc.OpenItem.Subject, body)
		remaining -= b.CountTokens(body) + 16
	}

	if len(history) > 0 {
		var hist strings.Builder
		// Walk backwards so the most recent exchanges survive the budget.
		kept := make([]string, 0, len(history))
		for i := len(history) - 1; i >= 0; i-- {
			line := fmt.Sprintf("%s: %s\n", history[i].Role, history[i].Content)
			cost := b.CountTokens(line)
			if cost > remaining {
				break
			}
			kept = append(kept, line)
			remaining -= cost
		}
		if len(kept) > 0 {
			hist.WriteString("Conversation so far:\n")
			for i := len(kept) - 1; i >= 0; i-- {
				hist.WriteString(kept[i])
			}
			sb.WriteString(hist.String())
			sb.WriteString("\n")
		}
	}

	fmt.Fprintf(&sb, "User: %s\nAssistant:", userMessage)
	return sb.String()
}

// truncate cuts text to roughly maxTokens, preserving whole runes.
func (b *PromptBuilder) truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if b.CountTokens(text) <= maxTokens {
		return text
	}
	if b.init() == nil {
		toks := b.enc.Encode(text, nil, nil)
		if len(toks) > maxTokens {
			toks = toks[:maxTokens]
		}
		return b.enc.Decode(toks)
	}
	limit := maxTokens * 4
	runes := []rune(text)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}
