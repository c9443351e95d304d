package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		URL:     server.URL,
		Token:   "token",
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	client.retryCfg.BaseDelay = time.Millisecond
	client.retryCfg.MaxDelay = time.Millisecond
	return client
}

func TestSubmitSendsEnvelope(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotEnv jobEnvelope
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotEnv); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		fmt.Fprint(w, `{"success":true,"job_id":"j-1"}`)
	})

	result, err := client.Submit(context.Background(), contractx.JobRequest{
		Tool:      contractx.ToolReadSQL,
		Name:      "daily_orders",
		Variables: map[string]any{"sql": "SELECT 1"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !result.Success || result.JobID != "j-1" {
		t.Fatalf("result = %+v", result)
	}
	if gotAuth != "Bearer token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotEnv.Type != "read_sql" || gotEnv.Name != "daily_orders" {
		t.Fatalf("envelope = %+v", gotEnv)
	}
	if gotEnv.ID == "" {
		t.Fatal("envelope id missing")
	}
}

func TestSubmitDuplicateNameFault(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"job name already exists"}`)
	})

	_, err := client.Submit(context.Background(), contractx.JobRequest{
		Tool: contractx.ToolReadSQL,
		Name: "daily_orders",
	})
	fault, ok := contractx.AsFault(err)
	if !ok {
		t.Fatalf("Submit() error = %v, want Fault", err)
	}
	if fault.Code != contractx.CodeDuplicateName {
		t.Fatalf("fault code = %q, want %q", fault.Code, contractx.CodeDuplicateName)
	}
	if fault.Retryable {
		t.Fatal("duplicate name must not be retryable")
	}
}

func TestSubmitPostsExactlyOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Submit(context.Background(), contractx.JobRequest{
		Tool: contractx.ToolWriteData,
		Name: "loader",
	})
	fault, ok := contractx.AsFault(err)
	if !ok || fault.Code != contractx.CodeServiceDown {
		t.Fatalf("Submit() error = %v, want service-down fault", err)
	}
	// A re-POST after the server may have accepted the job would duplicate
	// it, so even a retryable fault must not be retried here.
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestConnectionsRetriesServerErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[{"id":"c-1","name":"Warehouse","db_type":"postgres"}]`)
	})

	conns, err := client.Connections(context.Background())
	if err != nil {
		t.Fatalf("Connections() error = %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("conns = %+v", conns)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestSubmitDoesNotRetryAuthFailure(t *testing.T) {
	t.Parallel()

	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Submit(context.Background(), contractx.JobRequest{
		Tool: contractx.ToolReadSQL,
		Name: "jobA",
	})
	fault, ok := contractx.AsFault(err)
	if !ok || fault.Code != contractx.CodeAuthFailed {
		t.Fatalf("Submit() error = %v, want auth fault", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSubmitRequiresName(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := client.Submit(context.Background(), contractx.JobRequest{Tool: contractx.ToolReadSQL})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Submit() error = %v, want ErrValidation", err)
	}
}

func TestConnectionsKeyedByName(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/connections" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `[{"id":"c-1","name":"Warehouse","db_type":"postgres"},{"id":"c-2","name":"Lake","db_type":"mysql"}]`)
	})

	conns, err := client.Connections(context.Background())
	if err != nil {
		t.Fatalf("Connections() error = %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("len = %d, want 2", len(conns))
	}
	if conns["Warehouse"].ID != "c-1" || conns["Lake"].DBType != "mysql" {
		t.Fatalf("conns = %+v", conns)
	}
}

func TestSchemasPath(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/connections/c-1/schemas" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `["public","staging"]`)
	})

	schemas, err := client.Schemas(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("Schemas() error = %v", err)
	}
	if len(schemas) != 2 || schemas[0] != "public" {
		t.Fatalf("schemas = %v", schemas)
	}
}

func TestQueryColumns(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/query/columns" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"success":true,"columns":["id","amount"]}`)
	})

	cols, err := client.QueryColumns(context.Background(), "c-1", "SELECT id, amount FROM t")
	if err != nil {
		t.Fatalf("QueryColumns() error = %v", err)
	}
	if len(cols) != 2 || cols[1] != "amount" {
		t.Fatalf("columns = %v", cols)
	}
}
