package discovery

import (
	"context"
	"testing"
	"time"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
)

type fakeDiscovery struct {
	conns       map[string]contractx.ConnectionInfo
	schemas     map[string][]string
	connCalls   int
	schemaCalls int
}

func (f *fakeDiscovery) Connections(context.Context) (map[string]contractx.ConnectionInfo, error) {
	f.connCalls++
	return f.conns, nil
}

func (f *fakeDiscovery) Schemas(_ context.Context, id string) ([]string, error) {
	f.schemaCalls++
	return f.schemas[id], nil
}

func newFake() *fakeDiscovery {
	return &fakeDiscovery{
		conns: map[string]contractx.ConnectionInfo{
			"Warehouse": {ID: "c-1", DBType: "postgres"},
		},
		schemas: map[string][]string{
			"c-1": {"public", "staging"},
		},
	}
}

func TestLoadConnectionsCachesResult(t *testing.T) {
	t.Parallel()

	fake := newFake()
	fetcher := NewFetcher(fake)
	mem := statex.NewMemory("s1", time.Now().UTC())

	if err := fetcher.LoadConnections(context.Background(), mem); err != nil {
		t.Fatalf("LoadConnections() error = %v", err)
	}
	if err := fetcher.LoadConnections(context.Background(), mem); err != nil {
		t.Fatalf("LoadConnections() error = %v", err)
	}
	if fake.connCalls != 1 {
		t.Fatalf("connCalls = %d, want 1", fake.connCalls)
	}
	if mem.Connections["Warehouse"].ID != "c-1" {
		t.Fatalf("cache = %+v", mem.Connections)
	}
}

func TestLoadSchemasResolvesFuzzyName(t *testing.T) {
	t.Parallel()

	fetcher := NewFetcher(newFake())
	mem := statex.NewMemory("s1", time.Now().UTC())

	if err := fetcher.LoadSchemas(context.Background(), mem, "warehouse"); err != nil {
		t.Fatalf("LoadSchemas() error = %v", err)
	}
	if len(mem.AvailableSchemas) != 2 {
		t.Fatalf("schemas = %v", mem.AvailableSchemas)
	}
}

func TestLoadSchemasUnknownConnection(t *testing.T) {
	t.Parallel()

	fetcher := NewFetcher(newFake())
	mem := statex.NewMemory("s1", time.Now().UTC())

	err := fetcher.LoadSchemas(context.Background(), mem, "nope")
	fault, ok := contractx.AsFault(err)
	if !ok || fault.Code != contractx.CodeUnknownConnection {
		t.Fatalf("LoadSchemas() error = %v, want unknown connection fault", err)
	}
}

func TestConnectionPromptPayload(t *testing.T) {
	t.Parallel()

	mem := statex.NewMemory("s1", time.Now().UTC())
	mem.Connections = map[string]contractx.ConnectionInfo{
		"Warehouse": {ID: "c-1", DBType: "postgres"},
	}

	resp := ConnectionPrompt(mem, "connection", "Pick a connection.")
	if resp.Payload == nil || resp.Payload.Kind != contractx.PayloadConnectionDropdown {
		t.Fatalf("payload = %+v", resp.Payload)
	}
	if resp.Payload.ParamName != "connection" {
		t.Fatalf("param = %q", resp.Payload.ParamName)
	}
	if len(resp.Payload.Connections) != 1 || resp.Payload.Connections[0] != "Warehouse" {
		t.Fatalf("connections = %v", resp.Payload.Connections)
	}
}
