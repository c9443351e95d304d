package jobagent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
)

type fakeExtractor struct {
	result contractx.ExtractResult
	err    error
	calls  int
	gotReq contractx.ExtractRequest
}

func (f *fakeExtractor) Extract(_ context.Context, req contractx.ExtractRequest) (contractx.ExtractResult, error) {
	f.calls++
	f.gotReq = req
	return f.result, f.err
}

func newMem() *statex.Memory {
	return statex.NewMemory("s1", time.Now().UTC())
}

func TestGatherYesNoFastPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		params    map[string]any
		input     string
		wantParam string
		wantVal   bool
	}{
		{"first bool is execute_query", map[string]any{}, "yes", "execute_query", true},
		{"no maps to false", map[string]any{}, "no", "execute_query", false},
		{"drop gated on table_name", map[string]any{"execute_query": true, "table_name": "out"}, "y", "drop_before_create", true},
		{"write_count when drop not reachable", map[string]any{"execute_query": true}, "yes", "write_count", true},
		{"write_count when not executing", map[string]any{"execute_query": false}, "1", "write_count", true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fake := &fakeExtractor{}
			pipe := NewPipeline(fake)
			mem := newMem()
			for k, v := range tc.params {
				mem.SetParam(k, v)
			}

			if _, err := pipe.Gather(context.Background(), mem, contractx.ToolReadSQL, tc.input); err != nil {
				t.Fatalf("Gather() error = %v", err)
			}
			if fake.calls != 0 {
				t.Fatal("yes/no answer must not reach the extractor")
			}
			got, ok := mem.GatheredParams[tc.wantParam]
			if !ok || got != tc.wantVal {
				t.Fatalf("param %s = %v (present=%v), want %v", tc.wantParam, got, ok, tc.wantVal)
			}
		})
	}
}

func TestGatherYesNoWithNothingPending(t *testing.T) {
	t.Parallel()

	fake := &fakeExtractor{}
	pipe := NewPipeline(fake)
	mem := newMem()
	mem.SetParam("execute_query", false)
	mem.SetParam("write_count", false)

	if _, err := pipe.Gather(context.Background(), mem, contractx.ToolReadSQL, "yes"); err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if fake.calls != 0 {
		t.Fatal("bare yes with no pending bool must not reach the extractor")
	}
	if len(mem.GatheredParams) != 2 {
		t.Fatalf("params changed: %v", mem.GatheredParams)
	}
}

func TestGatherWriteDataYesNoOrdering(t *testing.T) {
	t.Parallel()

	seed := map[string]any{
		"name":       "loader",
		"connection": "Warehouse",
		"schemas":    "public",
		"table":      "events",
	}

	t.Run("no answers drop_or_truncate", func(t *testing.T) {
		t.Parallel()
		fake := &fakeExtractor{}
		pipe := NewPipeline(fake)
		mem := newMem()
		for k, v := range seed {
			mem.SetParam(k, v)
		}

		if _, err := pipe.Gather(context.Background(), mem, contractx.ToolWriteData, "no"); err != nil {
			t.Fatalf("Gather() error = %v", err)
		}
		if fake.calls != 0 {
			t.Fatal("bare no must not reach the extractor")
		}
		if got := mem.ParamString("drop_or_truncate"); got != "none" {
			t.Fatalf("drop_or_truncate = %q, want none", got)
		}
		if _, ok := mem.GatheredParams["write_count"]; ok {
			t.Fatal("write_count must not bind before drop_or_truncate is answered")
		}
	})

	t.Run("yes at drop_or_truncate binds nothing", func(t *testing.T) {
		t.Parallel()
		fake := &fakeExtractor{}
		pipe := NewPipeline(fake)
		mem := newMem()
		for k, v := range seed {
			mem.SetParam(k, v)
		}

		if _, err := pipe.Gather(context.Background(), mem, contractx.ToolWriteData, "yes"); err != nil {
			t.Fatalf("Gather() error = %v", err)
		}
		if _, ok := mem.GatheredParams["drop_or_truncate"]; ok {
			t.Fatal("ambiguous yes must leave drop_or_truncate unset")
		}
		if _, ok := mem.GatheredParams["write_count"]; ok {
			t.Fatal("write_count must not bind before drop_or_truncate is answered")
		}
	})

	t.Run("yes binds write_count after drop_or_truncate", func(t *testing.T) {
		t.Parallel()
		fake := &fakeExtractor{}
		pipe := NewPipeline(fake)
		mem := newMem()
		for k, v := range seed {
			mem.SetParam(k, v)
		}
		mem.SetParam("drop_or_truncate", "none")

		if _, err := pipe.Gather(context.Background(), mem, contractx.ToolWriteData, "yes"); err != nil {
			t.Fatalf("Gather() error = %v", err)
		}
		if got, ok := mem.GatheredParams["write_count"]; !ok || got != true {
			t.Fatalf("write_count = %v (present=%v), want true", got, ok)
		}
	})
}

func TestGatherConnectionToken(t *testing.T) {
	t.Parallel()

	pipe := NewPipeline(&fakeExtractor{})
	mem := newMem()

	input := contractx.TokenConnectionSelected + "Warehouse"
	if _, err := pipe.Gather(context.Background(), mem, contractx.ToolWriteData, input); err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if mem.ParamString("connection") != "Warehouse" {
		t.Fatalf("connection = %q", mem.ParamString("connection"))
	}
	if mem.Connection != "Warehouse" {
		t.Fatalf("mem.Connection = %q", mem.Connection)
	}

	// Second selection lands on the tracking-table connection.
	input = contractx.TokenConnectionSelected + "Lake"
	if _, err := pipe.Gather(context.Background(), mem, contractx.ToolWriteData, input); err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if mem.ParamString("write_count_connection") != "Lake" {
		t.Fatalf("write_count_connection = %q", mem.ParamString("write_count_connection"))
	}
}

func TestGatherSchemaTokenReadSQL(t *testing.T) {
	t.Parallel()

	pipe := NewPipeline(&fakeExtractor{})
	mem := newMem()

	input := contractx.TokenSchemaSelected + "public"
	if _, err := pipe.Gather(context.Background(), mem, contractx.ToolReadSQL, input); err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if mem.ParamString("result_schema") != "public" {
		t.Fatalf("result_schema = %q", mem.ParamString("result_schema"))
	}
}

func TestGatherMergesExtractedParams(t *testing.T) {
	t.Parallel()

	fake := &fakeExtractor{result: contractx.ExtractResult{
		Action: "continue",
		Params: map[string]any{
			"name":             "loader",
			"drop_or_truncate": "append",
			"missing":          nil,
		},
	}}
	pipe := NewPipeline(fake)
	mem := newMem()
	mem.LastQuestion = "What should this job be called?"

	notice, err := pipe.Gather(context.Background(), mem, contractx.ToolWriteData, "call it loader, just append")
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if notice != "" {
		t.Fatalf("notice = %q", notice)
	}
	if mem.ParamString("name") != "loader" {
		t.Fatalf("name = %q", mem.ParamString("name"))
	}
	if mem.ParamString("drop_or_truncate") != "none" {
		t.Fatalf("drop_or_truncate = %q, want none", mem.ParamString("drop_or_truncate"))
	}
	if _, ok := mem.GatheredParams["missing"]; ok {
		t.Fatal("nil param must be dropped")
	}
	if fake.gotReq.LastQuestion != "What should this job be called?" {
		t.Fatalf("LastQuestion = %q", fake.gotReq.LastQuestion)
	}
}

func TestGatherRejectsInvalidRecipient(t *testing.T) {
	t.Parallel()

	fake := &fakeExtractor{result: contractx.ExtractResult{
		Params: map[string]any{"to": "not-an-email"},
	}}
	pipe := NewPipeline(fake)
	mem := newMem()

	notice, err := pipe.Gather(context.Background(), mem, contractx.ToolSendEmail, "send it to not-an-email")
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if !strings.Contains(notice, "not-an-email") {
		t.Fatalf("notice = %q", notice)
	}
	if _, ok := mem.GatheredParams["to"]; ok {
		t.Fatal("invalid recipient must not be stored")
	}
}

func TestGatherCCRefusalBecomesEmpty(t *testing.T) {
	t.Parallel()

	fake := &fakeExtractor{result: contractx.ExtractResult{
		Params: map[string]any{"cc": "none"},
	}}
	pipe := NewPipeline(fake)
	mem := newMem()

	if _, err := pipe.Gather(context.Background(), mem, contractx.ToolSendEmail, "no cc"); err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	cc, ok := mem.GatheredParams["cc"]
	if !ok || cc != "" {
		t.Fatalf("cc = %v (present=%v), want empty string", cc, ok)
	}
}

func TestGatherDegradesOnExtractionFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeExtractor{err: errors.New("model down")}
	pipe := NewPipeline(fake)
	mem := newMem()

	notice, err := pipe.Gather(context.Background(), mem, contractx.ToolReadSQL, "name it daily orders")
	if err != nil {
		t.Fatalf("Gather() error = %v, want silent degrade", err)
	}
	if notice != "" {
		t.Fatalf("notice = %q", notice)
	}
	if len(mem.GatheredParams) != 0 {
		t.Fatalf("params = %v, want empty", mem.GatheredParams)
	}
}
