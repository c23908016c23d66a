package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/pai-platform/pai/internal/llm"
	"github.com/pai-platform/pai/pkg/models"
)

func toolPair(id string) (models.Message, models.Message) {
	use := models.Message{
		Role: models.RoleAssistant,
		Content: []models.ContentBlock{
			{Type: models.BlockText, Text: "working"},
			{Type: models.BlockToolUse, ID: id, Name: "read_file", Input: json.RawMessage(`{"path":"x"}`)},
		},
	}
	result := models.Message{
		Role: models.RoleUser,
		Content: []models.ContentBlock{
			{Type: models.BlockToolResult, ToolUseID: id, Content: "ok"},
		},
	}
	return use, result
}

func TestSafeTruncationIndexSkipsOrphans(t *testing.T) {
	use, result := toolPair("t1")
	history := []models.Message{
		models.TextMessage(models.RoleUser, "hi"),
		use,
		result,
		models.TextMessage(models.RoleAssistant, "done"),
	}

	tests := []struct {
		name string
		want int
		got  int
	}{
		{name: "zero stays zero", want: 0, got: SafeTruncationIndex(history, 0)},
		{name: "safe index passes through", want: 1, got: SafeTruncationIndex(history, 1)},
		{name: "orphan result advances", want: 3, got: SafeTruncationIndex(history, 2)},
		{name: "past end clamps", want: 4, got: SafeTruncationIndex(history, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("index = %d, want %d", tt.got, tt.want)
			}
		})
	}
}

func TestSafeTruncationIndexNoSafePoint(t *testing.T) {
	// Every candidate start is a tool_result; fall back to keeping all.
	_, r1 := toolPair("a")
	_, r2 := toolPair("b")
	history := []models.Message{r1, r2}
	if got := SafeTruncationIndex(history, 1); got != 0 {
		t.Errorf("index = %d, want 0", got)
	}
}

func TestTruncateToolOutputString(t *testing.T) {
	long := strings.Repeat("x", MaxToolResultChars+100)
	got := TruncateToolOutput(long).(string)
	if !strings.HasSuffix(got, truncationSuffix) {
		t.Error("missing truncation suffix")
	}
	if len(got) > MaxToolResultChars+len(truncationSuffix) {
		t.Errorf("len = %d", len(got))
	}

	short := "hello"
	if got := TruncateToolOutput(short).(string); got != short {
		t.Errorf("short string altered: %q", got)
	}
}

func TestTruncateToolOutputDict(t *testing.T) {
	huge := strings.Repeat("A", MaxImageDataChars+1)
	out := TruncateToolOutput(map[string]any{
		"base64":  huge,
		"content": strings.Repeat("y", MaxToolResultChars+10),
		"small":   "keep",
	}).(map[string]any)

	if out["base64"] != imageSentinel {
		t.Error("oversized base64 not replaced with sentinel")
	}
	if !strings.HasSuffix(out["content"].(string), truncationSuffix) {
		t.Error("content key not truncated")
	}
	if out["small"] != "keep" {
		t.Error("unrelated key altered")
	}
}

func TestTruncateToolOutputList(t *testing.T) {
	items := make([]any, 80)
	for i := range items {
		items[i] = fmt.Sprintf("item-%d", i)
	}
	out := TruncateToolOutput(items).([]any)
	if len(out) != maxListItems+1 {
		t.Fatalf("len = %d, want %d", len(out), maxListItems+1)
	}
	if !strings.Contains(out[maxListItems].(string), "more items omitted") {
		t.Errorf("tail marker = %v", out[maxListItems])
	}
}

func TestCountMessageTokensOverhead(t *testing.T) {
	plain := models.TextMessage(models.RoleUser, "hello world")
	use, _ := toolPair("t1")
	if CountMessageTokens(&use) <= CountMessageTokens(&plain) {
		t.Error("tool_use message should cost more than plain text")
	}

	img := models.Message{
		Role:    models.RoleUser,
		Content: []models.ContentBlock{{Type: models.BlockImage, Source: &models.ImageSource{MediaType: "image/png", Data: "abc"}}},
	}
	if CountMessageTokens(&img) < imageOverheadTokens {
		t.Error("image overhead missing")
	}
}

type scriptedClient struct {
	text  string
	err   error
	calls int
}

func (c *scriptedClient) CreateMessage(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Text: c.text, StopReason: llm.StopEndTurn}, nil
}

func (c *scriptedClient) Name() string { return "scripted" }

func TestBuildAPIMessagesShortHistoryPassesThrough(t *testing.T) {
	m := NewManager(&scriptedClient{text: "sum"}, nil)
	for i := 0; i < 10; i++ {
		m.AppendText(models.RoleUser, fmt.Sprintf("msg %d", i))
	}
	msgs := m.BuildAPIMessages(context.Background())
	if len(msgs) != 10 {
		t.Errorf("len = %d, want 10", len(msgs))
	}
}

func TestBuildAPIMessagesSummarizes(t *testing.T) {
	client := &scriptedClient{text: "the summary"}
	m := NewManager(client, nil)
	for i := 0; i < 30; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		m.AppendText(role, fmt.Sprintf("msg %d", i))
	}

	msgs := m.BuildAPIMessages(context.Background())
	// Two-message preamble plus the retained recent messages.
	if len(msgs) != KeepRecentMessages+2 {
		t.Fatalf("len = %d, want %d", len(msgs), KeepRecentMessages+2)
	}
	if msgs[0].Role != models.RoleUser || !strings.Contains(msgs[0].Text(), "summary follows") {
		t.Errorf("preamble[0] = %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || !strings.Contains(msgs[1].Text(), "the summary") {
		t.Errorf("preamble[1] = %+v", msgs[1])
	}
	if msgs[2].Text() != "msg 18" {
		t.Errorf("first retained = %q, want msg 18", msgs[2].Text())
	}

	// The summary for the same split point is cached.
	m.BuildAPIMessages(context.Background())
	if client.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1", client.calls)
	}
}

func TestBuildAPIMessagesSummarizesOnTokenBudget(t *testing.T) {
	client := &scriptedClient{text: "token summary"}
	m := NewManager(client, nil)

	// Few messages, but enough tokens to cross the budget trigger.
	big := strings.Repeat("alpha beta gamma delta ", 10_000)
	for CountHistoryTokens(m.History()) <= SummarizeTriggerTokens {
		m.AppendText(models.RoleUser, big)
	}
	for m.Len() < KeepRecentMessages+2 {
		m.AppendText(models.RoleAssistant, "short reply")
	}
	if m.Len() > SummarizeTriggerMessages {
		t.Fatalf("history reached %d messages, message-count trigger would mask the token trigger", m.Len())
	}

	msgs := m.BuildAPIMessages(context.Background())
	if client.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1", client.calls)
	}
	if len(msgs) < 2 || !strings.Contains(msgs[1].Text(), "token summary") {
		t.Errorf("summary preamble missing: %+v", msgs)
	}
}

func TestBuildAPIMessagesEnforcesTokenCeiling(t *testing.T) {
	m := NewManager(nil, nil)
	big := strings.Repeat("omega theta sigma kappa ", 30_000)
	for CountHistoryTokens(m.History()) <= SafeContextTokens {
		m.AppendText(models.RoleUser, big)
	}
	m.AppendText(models.RoleAssistant, "newest")

	msgs := m.BuildAPIMessages(context.Background())
	if got := CountHistoryTokens(msgs); len(msgs) > 1 && got > SafeContextTokens {
		t.Errorf("tokens = %d, want <= %d", got, SafeContextTokens)
	}
	if msgs[len(msgs)-1].Text() != "newest" {
		t.Errorf("newest message dropped, last = %q", msgs[len(msgs)-1].Text())
	}
}

func TestBuildAPIMessagesNeverSplitsToolPair(t *testing.T) {
	m := NewManager(&scriptedClient{text: "sum"}, nil)
	for i := 0; i < 17; i++ {
		m.AppendText(models.RoleUser, fmt.Sprintf("msg %d", i))
	}
	// The pair straddles the naive split point (len 30, keep 12 → split 18).
	use, result := toolPair("edge")
	m.Append(use)    // index 17
	m.Append(result) // index 18
	for i := 0; i < 11; i++ {
		m.AppendText(models.RoleAssistant, fmt.Sprintf("tail %d", i))
	}

	msgs := m.BuildAPIMessages(context.Background())
	for i, msg := range msgs {
		if i == 0 {
			continue
		}
		if msg.HasToolResult() {
			prev := msgs[i-1]
			if len(prev.ToolUses()) == 0 {
				t.Fatalf("orphaned tool_result at %d", i)
			}
		}
	}
}

func TestBuildAPIMessagesFallbackSummary(t *testing.T) {
	m := NewManager(&scriptedClient{err: fmt.Errorf("llm down")}, nil)
	use, result := toolPair("t1")
	m.AppendText(models.RoleUser, "please fix the build")
	m.Append(use)
	m.Append(result)
	for i := 0; i < 30; i++ {
		m.AppendText(models.RoleUser, fmt.Sprintf("msg %d", i))
	}

	msgs := m.BuildAPIMessages(context.Background())
	summary := msgs[1].Text()
	if !strings.Contains(summary, "please fix the build") {
		t.Errorf("fallback summary missing user request: %q", summary)
	}
	if !strings.Contains(summary, "read_file") {
		t.Errorf("fallback summary missing tool name: %q", summary)
	}
}

func TestResetClearsCache(t *testing.T) {
	client := &scriptedClient{text: "sum"}
	m := NewManager(client, nil)
	for i := 0; i < 30; i++ {
		m.AppendText(models.RoleUser, fmt.Sprintf("msg %d", i))
	}
	m.BuildAPIMessages(context.Background())
	m.Reset()
	if m.Len() != 0 {
		t.Errorf("Len = %d after Reset", m.Len())
	}
}
