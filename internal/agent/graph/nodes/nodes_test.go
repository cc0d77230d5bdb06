package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/graph/resolver"
	"github.com/travel-sense/server/internal/agent/graph/tools"
	"github.com/travel-sense/server/internal/agent/model"
)

type fakeChatModel struct {
	reply *schema.Message
	err   error
	tools []*schema.ToolInfo
	seen  *[]*schema.Message
	bound *[]string
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	if f.seen != nil {
		*f.seen = in
	}
	if f.bound != nil {
		names := make([]string, 0, len(f.tools))
		for _, t := range f.tools {
			names = append(names, t.Name)
		}
		*f.bound = names
	}
	if f.err != nil {
		return nil, f.err
	}
	out := *f.reply
	return &out, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeChatModel) WithTools(infos []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	c := *f
	c.tools = infos
	return &c, nil
}

type fixedCandidates []model.Candidate

func (f fixedCandidates) Retrieve(context.Context, string, int) []model.Candidate { return f }

type fixedResolver struct {
	out resolver.Outcome
	err error
	in  resolver.Input
}

func (r *fixedResolver) Resolve(_ context.Context, in resolver.Input) (resolver.Outcome, error) {
	r.in = in
	return r.out, r.err
}

type cityArgs struct {
	City string `json:"city" validate:"required"`
}

func testRegistry(t *testing.T, names ...string) *tools.Registry {
	t.Helper()
	var ts []*tools.Tool
	for _, n := range names {
		ts = append(ts, tools.Define(n, n+" tool", map[string]*schema.ParameterInfo{
			"city": {Type: schema.String, Required: true},
		}, func(_ context.Context, in *cityArgs) (model.Envelope, error) {
			return model.Success("ok "+in.City, nil), nil
		}))
	}
	reg, err := tools.NewRegistry(ts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func newTestChatbot(t *testing.T, m *fakeChatModel, res IntentResolver, cands []model.Candidate) *Chatbot {
	t.Helper()
	cb, err := NewChatbot(ChatbotConfig{
		Retriever:   fixedCandidates(cands),
		Resolver:    res,
		Registry:    testRegistry(t, "search_hotels", "search_flights", "track_flight"),
		Model:       m,
		ModelName:   "gemini-2.5-flash",
		Prompt:      model.PromptConfig{AssistantName: "Travel Sense", BrandName: "TBO", TimeZoneLabel: "IST", TimeZoneShift: "+05:30"},
		Resolution:  model.ResolverConfig{TopK: 3, FallbackBind: 2},
		MaxMessages: 10,
		Now:         func() time.Time { return time.Date(2025, 3, 1, 6, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewChatbot: %v", err)
	}
	return cb
}

var ranked = []model.Candidate{
	{Name: "search_flights", Score: 0.58},
	{Name: "track_flight", Score: 0.55},
	{Name: "search_hotels", Score: 0.40},
}

func TestChatbotActiveToolBindsOnlyThatTool(t *testing.T) {
	var seen []*schema.Message
	var bound []string
	m := &fakeChatModel{reply: schema.AssistantMessage("Which dates?", nil), seen: &seen, bound: &bound}
	res := &fixedResolver{out: resolver.Outcome{Tool: "search_hotels"}}
	cb := newTestChatbot(t, m, res, ranked)

	step := cb.Run(context.Background(), []*schema.Message{schema.UserMessage("hotels in Goa")}, "")

	if step.IntentTool != "search_hotels" || step.Failed {
		t.Fatalf("unexpected step: %+v", step)
	}
	if len(bound) != 1 || bound[0] != "search_hotels" {
		t.Fatalf("bound tools = %v", bound)
	}
	if res.in.UserMessage != "hotels in Goa" {
		t.Fatalf("resolver saw %q", res.in.UserMessage)
	}
	if len(seen) != 4 {
		t.Fatalf("expected 3 system notes and 1 user message, got %d", len(seen))
	}
	if !strings.Contains(seen[1].Content, "2025-03-01 12:00:00 IST") {
		t.Errorf("time note = %q", seen[1].Content)
	}
	if !strings.Contains(seen[2].Content, "Current intent: 'search_hotels'") {
		t.Errorf("tool note = %q", seen[2].Content)
	}
}

func TestChatbotNoIntentBindsTopCandidates(t *testing.T) {
	var seen []*schema.Message
	var bound []string
	m := &fakeChatModel{reply: schema.AssistantMessage("Hello!", nil), seen: &seen, bound: &bound}
	cb := newTestChatbot(t, m, &fixedResolver{}, ranked)

	step := cb.Run(context.Background(), []*schema.Message{schema.UserMessage("hi")}, "")

	if strings.Join(bound, ",") != "search_flights,track_flight" {
		t.Fatalf("bound tools = %v", bound)
	}
	if seen[2].Content != "No matched tool. Respond as a helpful assistant." {
		t.Errorf("tool note = %q", seen[2].Content)
	}
	if step.Message.Content != "Hello!" || step.IntentTool != "" {
		t.Fatalf("unexpected step: %+v", step)
	}
}

func TestChatbotNoCandidatesBindsEverything(t *testing.T) {
	var bound []string
	m := &fakeChatModel{reply: schema.AssistantMessage("Hello!", nil), bound: &bound}
	cb := newTestChatbot(t, m, &fixedResolver{}, nil)

	cb.Run(context.Background(), []*schema.Message{schema.UserMessage("hi")}, "")

	if len(bound) != 3 {
		t.Fatalf("expected the full tool set, got %v", bound)
	}
}

func TestChatbotSynthesizesCallFromJSON(t *testing.T) {
	m := &fakeChatModel{reply: schema.AssistantMessage("```json\n{\"parameters\": {\"city\": \"Goa\"}}\n```", nil)}
	cb := newTestChatbot(t, m, &fixedResolver{out: resolver.Outcome{Tool: "search_hotels"}}, ranked)

	step := cb.Run(context.Background(), []*schema.Message{schema.UserMessage("hotels in Goa")}, "search_hotels")

	if len(step.Message.ToolCalls) != 1 {
		t.Fatalf("expected a synthesized call, got %+v", step.Message)
	}
	call := step.Message.ToolCalls[0]
	if call.Function.Name != "search_hotels" || call.Function.Arguments != `{"city":"Goa"}` || call.ID == "" {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestChatbotJSONWithoutIntentStaysText(t *testing.T) {
	m := &fakeChatModel{reply: schema.AssistantMessage(`{"city": "Goa"}`, nil)}
	cb := newTestChatbot(t, m, &fixedResolver{}, ranked)

	step := cb.Run(context.Background(), []*schema.Message{schema.UserMessage("hi")}, "")

	if len(step.Message.ToolCalls) != 0 || step.Message.Content != `{"city": "Goa"}` {
		t.Fatalf("unexpected message: %+v", step.Message)
	}
}

func TestChatbotNativeCallWins(t *testing.T) {
	reply := schema.AssistantMessage(`{"parameters": {}}`, []schema.ToolCall{{
		Function: schema.FunctionCall{Name: "search_flights", Arguments: `{"city":"Delhi"}`},
	}})
	m := &fakeChatModel{reply: reply}
	cb := newTestChatbot(t, m, &fixedResolver{out: resolver.Outcome{Tool: "search_hotels"}}, ranked)

	step := cb.Run(context.Background(), []*schema.Message{schema.UserMessage("flights")}, "")

	if len(step.Message.ToolCalls) != 1 || step.Message.ToolCalls[0].Function.Name != "search_flights" {
		t.Fatalf("unexpected message: %+v", step.Message)
	}
}

func TestChatbotEmptyReply(t *testing.T) {
	m := &fakeChatModel{reply: schema.AssistantMessage("  ", nil)}
	cb := newTestChatbot(t, m, &fixedResolver{}, nil)

	step := cb.Run(context.Background(), []*schema.Message{schema.UserMessage("hi")}, "")

	if step.Message.Content != EmptyReplyText {
		t.Fatalf("got %q", step.Message.Content)
	}
}

func TestChatbotPrimaryFailureClearsIntent(t *testing.T) {
	m := &fakeChatModel{err: errors.New("boom")}
	cb := newTestChatbot(t, m, &fixedResolver{out: resolver.Outcome{Tool: "search_hotels"}}, ranked)

	step := cb.Run(context.Background(), []*schema.Message{schema.UserMessage("hotels")}, "search_hotels")

	if !step.Failed || step.IntentTool != "" || step.Message.Content != PrimaryFailureText {
		t.Fatalf("unexpected step: %+v", step)
	}
}

func TestChatbotResolverErrorKeepsStoredIntent(t *testing.T) {
	var seen []*schema.Message
	m := &fakeChatModel{reply: schema.AssistantMessage("ok", nil), seen: &seen}
	res := &fixedResolver{out: resolver.Outcome{Tool: "track_flight"}, err: errors.New("classifier down")}
	cb := newTestChatbot(t, m, res, ranked)

	step := cb.Run(context.Background(), []*schema.Message{schema.UserMessage("status?")}, "track_flight")

	if step.IntentTool != "track_flight" {
		t.Fatalf("intent = %q", step.IntentTool)
	}
	if seen[2].Content != "No matched tool. Respond as a helpful assistant." {
		t.Fatalf("turn must run without a tool, note = %q", seen[2].Content)
	}
}

func TestChatbotTruncatesHistory(t *testing.T) {
	var seen []*schema.Message
	m := &fakeChatModel{reply: schema.AssistantMessage("ok", nil), seen: &seen}
	cb := newTestChatbot(t, m, &fixedResolver{}, nil)

	var history []*schema.Message
	for i := 0; i < 15; i++ {
		history = append(history, schema.UserMessage("q"), schema.AssistantMessage("a", nil))
	}
	history = append(history, schema.UserMessage("latest"))

	cb.Run(context.Background(), history, "")

	if got := len(seen) - 3; got != 10 {
		t.Fatalf("window size = %d, want 10", got)
	}
	if seen[len(seen)-1].Content != "latest" {
		t.Fatalf("last message = %q", seen[len(seen)-1].Content)
	}
}

func TestFormatterRun(t *testing.T) {
	envelope := model.Success("Found 2 hotels.", nil).JSON()
	cases := []struct {
		name    string
		content string
		model   *fakeChatModel
		want    string
		failed  bool
	}{
		{"envelope passes through", envelope, &fakeChatModel{reply: schema.AssistantMessage("x", nil)}, "", false},
		{"plain text passes through", "Hello", &fakeChatModel{reply: schema.AssistantMessage("x", nil)}, "", false},
		{"bare json is formatted", `{"flight":"AI101","status":"On Time"}`, &fakeChatModel{reply: schema.AssistantMessage("Flight AI101 is on time.", nil)}, "Flight AI101 is on time.", false},
		{"formatter error", `{"flight":"AI101"}`, &fakeChatModel{err: errors.New("boom")}, FormatterFailureText, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFormatter(tc.model, "gemini-2.5-flash", model.PromptConfig{AssistantName: "Travel Sense"}, time.Second)
			reply, failed := f.Run(context.Background(), schema.ToolMessage(tc.content, "call_1"))
			if failed != tc.failed {
				t.Fatalf("failed = %v, want %v", failed, tc.failed)
			}
			if tc.want == "" {
				if reply != nil {
					t.Fatalf("expected pass through, got %+v", reply)
				}
				return
			}
			if reply == nil || reply.Content != tc.want || reply.Role != schema.Assistant {
				t.Fatalf("unexpected reply: %+v", reply)
			}
		})
	}
}

func TestCapToolCalls(t *testing.T) {
	msg := schema.AssistantMessage("", make([]schema.ToolCall, 6))
	if dropped := capToolCalls(msg, 4); dropped != 2 || len(msg.ToolCalls) != 4 {
		t.Fatalf("dropped=%d len=%d", dropped, len(msg.ToolCalls))
	}
	if dropped := capToolCalls(msg, 0); dropped != 0 {
		t.Fatalf("default limit must keep 4 calls, dropped %d", dropped)
	}
}

func TestNormalizeToolCallIDs(t *testing.T) {
	state := &model.TurnState{}
	msg := schema.AssistantMessage("", []schema.ToolCall{{ID: ""}, {ID: "keep"}, {ID: " "}})
	normalizeToolCallIDs(msg, state)
	got := []string{msg.ToolCalls[0].ID, msg.ToolCalls[1].ID, msg.ToolCalls[2].ID}
	if strings.Join(got, ",") != "call_1,keep,call_2" {
		t.Fatalf("ids = %v", got)
	}
}

func TestRecordUsage(t *testing.T) {
	state := &model.TurnState{}
	out := schema.AssistantMessage("hi", nil)
	out.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 0}}
	recordUsage(state, NodeChatbot, "gemini-2.5-flash", out)
	recordUsage(state, NodeChatbot, "gemini-2.5-flash", out)
	if state.TotalCostUSD < 0.59 || state.TotalCostUSD > 0.61 {
		t.Fatalf("total = %v", state.TotalCostUSD)
	}
	if out.Extra[ExtraTotalCostUSD] != state.TotalCostUSD {
		t.Fatalf("extra = %v", out.Extra)
	}
}
