package model

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestMockChatModel(t *testing.T) {
	t.Run("responses in order then repeat last", func(t *testing.T) {
		m := &MockChatModel{Responses: []ChatOut{{Text: "one"}, {Text: "two"}}}
		want := []string{"one", "two", "two"}
		for i, w := range want {
			out, err := m.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
			if err != nil {
				t.Fatalf("call %d: %v", i, err)
			}
			if out.Text != w {
				t.Errorf("call %d: got %q, want %q", i, out.Text, w)
			}
		}
		if m.CallCount() != 3 {
			t.Errorf("CallCount() = %d", m.CallCount())
		}
	})

	t.Run("handler sees messages", func(t *testing.T) {
		m := &MockChatModel{Handler: func(msgs []Message) (ChatOut, error) {
			return ChatOut{Text: msgs[len(msgs)-1].Content + "!"}, nil
		}}
		out, _ := m.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hey"}}, nil)
		if out.Text != "hey!" {
			t.Errorf("got %q", out.Text)
		}
		if calls := m.Calls(); len(calls) != 1 || calls[0][0].Content != "hey" {
			t.Errorf("unexpected calls %v", calls)
		}
	})

	t.Run("error and cancellation", func(t *testing.T) {
		m := &MockChatModel{Err: errors.New("down")}
		if _, err := m.Chat(context.Background(), nil, nil); err == nil || err.Error() != "down" {
			t.Errorf("expected scripted error, got %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := (&MockChatModel{}).Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleSystem, Content: ""},
		{Role: RoleAssistant, Content: "hello"},
	})
	if len(system) != 1 || system[0] != "be brief" {
		t.Errorf("system = %v", system)
	}
	if len(rest) != 2 || rest[0].Role != RoleUser || rest[1].Role != RoleAssistant {
		t.Errorf("rest = %v", rest)
	}
}

func TestRetryPolicy(t *testing.T) {
	fast := RetryPolicy{MaxRetries: 2, Delay: time.Millisecond}
	transient := func(error) ErrorClass { return Transient }

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		out, err := fast.Do(context.Background(), "test", transient, func(context.Context) (ChatOut, error) {
			calls++
			if calls < 3 {
				return ChatOut{}, errors.New("503")
			}
			return ChatOut{Text: "ok"}, nil
		})
		if err != nil || out.Text != "ok" || calls != 3 {
			t.Errorf("out=%v err=%v calls=%d", out, err, calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		_, err := fast.Do(context.Background(), "test", transient, func(context.Context) (ChatOut, error) {
			calls++
			return ChatOut{}, errors.New("503")
		})
		if err == nil || calls != 3 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("permanent errors return at once", func(t *testing.T) {
		calls := 0
		_, err := fast.Do(context.Background(), "test", func(error) ErrorClass { return Permanent }, func(context.Context) (ChatOut, error) {
			calls++
			return ChatOut{}, errors.New("bad request")
		})
		if err == nil || calls != 1 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryPolicy{MaxRetries: 5, Delay: time.Hour}
		_, err := slow.Do(ctx, "test", transient, func(context.Context) (ChatOut, error) {
			cancel()
			return ChatOut{}, errors.New("503")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestClassify(t *testing.T) {
	status := []struct {
		code int
		want ErrorClass
	}{
		{400, Permanent},
		{401, Permanent},
		{408, Transient},
		{429, RateLimited},
		{500, Transient},
		{503, Transient},
	}
	for _, c := range status {
		if got := ClassifyStatus(c.code); got != c.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", c.code, got, c.want)
		}
	}

	messages := []struct {
		msg  string
		want ErrorClass
	}{
		{"connection reset by peer", Transient},
		{"rpc error: code = Unavailable", Transient},
		{"Resource Exhausted: quota", RateLimited},
		{"invalid api key", Permanent},
	}
	for _, c := range messages {
		if got := ClassifyMessage(errors.New(c.msg)); got != c.want {
			t.Errorf("ClassifyMessage(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestCostTracker(t *testing.T) {
	ct := NewCostTracker()

	cost := ct.Record("run", "ask", "gpt-4o", Usage{InputTokens: 1_000_000, OutputTokens: 500_000})
	if math.Abs(cost-7.5) > 1e-9 {
		t.Errorf("gpt-4o cost = %v, want 7.5", cost)
	}
	if c := ct.Record("run", "ask", "unknown-model", Usage{InputTokens: 10}); c != 0 {
		t.Errorf("unknown model cost = %v, want 0", c)
	}

	ct.SetPricing("local", Pricing{InputPer1M: 1, OutputPer1M: 1})
	ct.Record("run", "other", "local", Usage{InputTokens: 500_000, OutputTokens: 500_000})

	if math.Abs(ct.TotalCost()-8.5) > 1e-9 {
		t.Errorf("TotalCost() = %v, want 8.5", ct.TotalCost())
	}
	if by := ct.CostByModel(); math.Abs(by["local"]-1) > 1e-9 || len(by) != 3 {
		t.Errorf("CostByModel() = %v", by)
	}
	if u := ct.Usage(); u.InputTokens != 1_500_010 || u.OutputTokens != 1_000_000 {
		t.Errorf("Usage() = %+v", u)
	}
	if calls := ct.Calls(); len(calls) != 3 || calls[2].NodeID != "other" {
		t.Errorf("Calls() = %+v", calls)
	}
	if DefaultPricing["local"] != (Pricing{}) {
		t.Error("SetPricing must not change DefaultPricing")
	}
}

func TestCostTrackerConcurrent(t *testing.T) {
	ct := NewCostTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct.Record("run", "n", "gpt-4o-mini", Usage{InputTokens: 1, OutputTokens: 1})
		}()
	}
	wg.Wait()
	if u := ct.Usage(); u.Total() != 100 {
		t.Errorf("Usage().Total() = %d, want 100", u.Total())
	}
}
