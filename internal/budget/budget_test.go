package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7.
	got := EstimateMessages(msgs)
	if got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_TrimHistory_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage("sys")}
	history := []*schema.Message{
		schema.UserMessage("hi"),
		schema.UserMessage("there"),
	}
	got := TrimHistory(fixed, history, DefaultMaxHistoryTokens)
	if len(got) != 2 {
		t.Errorf("want 2 history messages, got %d", len(got))
	}
}

func Test_TrimHistory_DropsOldest(t *testing.T) {
	t.Parallel()
	history := []*schema.Message{
		schema.UserMessage("oldest"),
		schema.UserMessage("newest"),
	}
	// Each history message costs 4 overhead + 1 role + 1 content = 6 tokens.
	// A budget of 7 fits one message but not two; the oldest is dropped.
	got := TrimHistory(nil, history, 7)
	if len(got) != 1 {
		t.Fatalf("want 1 history message after trim, got %d", len(got))
	}
	if got[0].Content != "newest" {
		t.Errorf("want newest message retained, got %q", got[0].Content)
	}
}

func Test_TrimHistory_AllDroppedWhenFixedExceedsBudget(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{
		schema.SystemMessage(strings.Repeat("x", 4*7000)),
	}
	history := []*schema.Message{
		schema.UserMessage("a"),
		schema.UserMessage("b"),
	}
	got := TrimHistory(fixed, history, 6000)
	if len(got) != 0 {
		t.Errorf("want 0 history messages, got %d", len(got))
	}
}

func Test_IsSmallModel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		model string
		want  bool
	}{
		{"llama3.2:3b", true},
		{"qwen2.5:1.5b", true},
		{"gpt-4o-mini", true},
		{"phi3", true},
		{"gemma2:9b", true},
		{"gpt-4o", false},
		{"llama3.3:70b", false},
		{"deepseek-r1:32b", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsSmallModel(tc.model); got != tc.want {
			t.Errorf("IsSmallModel(%q) = %v, want %v", tc.model, got, tc.want)
		}
	}
}

func Test_IsLongQuestion(t *testing.T) {
	t.Parallel()
	if IsLongQuestion(strings.Repeat("q", longQuestionChars)) {
		t.Error("question at the threshold should not count as long")
	}
	if !IsLongQuestion(strings.Repeat("q", longQuestionChars+1)) {
		t.Error("question over the threshold should count as long")
	}
}
