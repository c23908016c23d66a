package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pai-platform/pai/internal/llm"
	"github.com/pai-platform/pai/pkg/models"
)

// History thresholds.
const (
	// SummarizeTriggerMessages is the history length past which older
	// messages are summarized.
	SummarizeTriggerMessages = 24

	// KeepRecentMessages is how many recent messages survive
	// summarization verbatim.
	KeepRecentMessages = 12

	// HardCapMessages is the absolute history bound applied as a last
	// resort.
	HardCapMessages = 32
)

const summarySystemPrompt = `You summarize agent conversations. Produce a 200-400 word summary covering: the user's requests, what was attempted, tool outcomes, and any unresolved items. Write plain prose, no headers.`

// Manager owns one agent's conversation history. It is not safe for
// concurrent use; only the owning agent's loop mutates it.
type Manager struct {
	client llm.Client
	logger *slog.Logger

	history []models.Message
	// summaryCache is keyed by the split index the summary covers, so a
	// stable prefix is summarized once.
	summaryCache map[int]string
}

// NewManager builds a conversation manager. client may be nil, in which case
// summarization always uses the extractive fallback.
func NewManager(client llm.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:       client,
		logger:       logger,
		summaryCache: make(map[int]string),
	}
}

// Append adds a message to the history.
func (m *Manager) Append(msg models.Message) {
	m.history = append(m.history, msg)
}

// AppendText adds a plain text message.
func (m *Manager) AppendText(role models.Role, text string) {
	m.Append(models.TextMessage(role, text))
}

// History returns the raw history slice. Callers must not mutate it.
func (m *Manager) History() []models.Message {
	return m.history
}

// Len returns the current history length.
func (m *Manager) Len() int {
	return len(m.history)
}

// Reset clears history and the summary cache.
func (m *Manager) Reset() {
	m.history = nil
	m.summaryCache = make(map[int]string)
}

// SetHistory replaces the history, dropping cached summaries.
func (m *Manager) SetHistory(history []models.Message) {
	m.history = history
	m.summaryCache = make(map[int]string)
}

// BuildAPIMessages assembles the message list for the next LLM call. Long
// histories, by message count or by token estimate, are summarized down to a
// two-message preamble plus the recent tail; the hard caps apply as a last
// resort. tool_use/tool_result pairs are never split.
func (m *Manager) BuildAPIMessages(ctx context.Context) []models.Message {
	history := m.history

	if len(history) > SummarizeTriggerMessages || CountHistoryTokens(history) > SummarizeTriggerTokens {
		split := SafeTruncationIndex(history, len(history)-KeepRecentMessages)
		if split > 0 && split < len(history) {
			summary := m.summarize(ctx, split)
			msgs := make([]models.Message, 0, len(history)-split+2)
			msgs = append(msgs,
				models.TextMessage(models.RoleUser, "[Previous conversation summary follows]"),
				models.TextMessage(models.RoleAssistant, "[Conversation Summary]\n"+summary+"\n[Continuing from here...]"),
			)
			msgs = append(msgs, history[split:]...)
			return enforceTokenCeiling(msgs)
		}
	}

	if len(history) > HardCapMessages {
		start := SafeTruncationIndex(history, len(history)-HardCapMessages)
		history = history[start:]
	}
	out := make([]models.Message, len(history))
	copy(out, history)
	return enforceTokenCeiling(out)
}

// enforceTokenCeiling drops the oldest messages, pair-safely, until the list
// fits the safe context budget. The newest message always survives.
func enforceTokenCeiling(msgs []models.Message) []models.Message {
	for len(msgs) > 1 && CountHistoryTokens(msgs) > SafeContextTokens {
		next := SafeTruncationIndex(msgs, 1)
		if next <= 0 || next >= len(msgs) {
			return msgs[len(msgs)-1:]
		}
		msgs = msgs[next:]
	}
	return msgs
}

// summarize returns the summary of history[:split], from cache when the
// split point was summarized before.
func (m *Manager) summarize(ctx context.Context, split int) string {
	if cached, ok := m.summaryCache[split]; ok {
		return cached
	}

	summary, err := m.llmSummary(ctx, m.history[:split])
	if err != nil {
		m.logger.Warn("summarizer failed, using extractive fallback", "error", err)
		summary = extractiveSummary(m.history[:split])
	}
	m.summaryCache[split] = summary
	return summary
}

func (m *Manager) llmSummary(ctx context.Context, history []models.Message) (string, error) {
	if m.client == nil {
		return "", fmt.Errorf("convo: no summarizer client")
	}

	var b strings.Builder
	for i := range history {
		msg := &history[i]
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		if text := msg.Text(); text != "" {
			b.WriteString(text)
		}
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockToolUse:
				fmt.Fprintf(&b, " [called tool %s]", block.Name)
			case models.BlockToolResult:
				status := "ok"
				if block.IsError {
					status = "error"
				}
				fmt.Fprintf(&b, " [tool result: %s]", status)
			}
		}
		b.WriteString("\n")
	}

	resp, err := m.client.CreateMessage(ctx, &llm.Request{
		Model:     llm.TierFast,
		MaxTokens: 600,
		System:    summarySystemPrompt,
		Messages: []models.Message{
			models.TextMessage(models.RoleUser, "Summarize this conversation:\n\n"+b.String()),
		},
	})
	if err != nil {
		return "", fmt.Errorf("convo: summarize: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("convo: summarizer returned empty text")
	}
	return resp.Text, nil
}

// extractiveSummary is the no-LLM fallback: list the user's requests and the
// tools that were used.
func extractiveSummary(history []models.Message) string {
	var requests []string
	toolSet := make(map[string]bool)
	var toolOrder []string

	for i := range history {
		msg := &history[i]
		if msg.Role == models.RoleUser {
			if text := strings.TrimSpace(msg.Text()); text != "" {
				if len(text) > 200 {
					text = text[:200] + "..."
				}
				requests = append(requests, text)
			}
		}
		for _, block := range msg.Content {
			if block.Type == models.BlockToolUse && !toolSet[block.Name] {
				toolSet[block.Name] = true
				toolOrder = append(toolOrder, block.Name)
			}
		}
	}

	var b strings.Builder
	b.WriteString("Earlier in this conversation the user requested:\n")
	for _, r := range requests {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	if len(toolOrder) > 0 {
		fmt.Fprintf(&b, "Tools used: %s.", strings.Join(toolOrder, ", "))
	}
	return b.String()
}
