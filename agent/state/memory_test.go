package state

import (
	"testing"
	"time"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
)

func TestMemoryCloneIsIndependent(t *testing.T) {
	t.Parallel()

	mem := NewMemory("s1", time.Now().UTC())
	mem.SetParam("name", "jobA")
	mem.SelectedTables = []string{"orders"}
	mem.Connections = map[string]contractx.ConnectionInfo{
		"Warehouse": {ID: "c-1", DBType: "postgres"},
	}

	cp := mem.Clone()
	cp.SetParam("name", "jobB")
	cp.SelectedTables[0] = "customers"
	cp.Connections["Lake"] = contractx.ConnectionInfo{ID: "c-2"}

	if got := mem.ParamString("name"); got != "jobA" {
		t.Fatalf("original param name = %q, want jobA", got)
	}
	if mem.SelectedTables[0] != "orders" {
		t.Fatalf("original selected table = %q, want orders", mem.SelectedTables[0])
	}
	if _, ok := mem.Connections["Lake"]; ok {
		t.Fatal("clone connection leaked into original")
	}
}

func TestMemoryResetKeepsConnectionContext(t *testing.T) {
	t.Parallel()

	mem := NewMemory("s1", time.Now().UTC())
	mem.Stage = StageDone
	mem.JobType = "read_sql"
	mem.Connection = "Warehouse"
	mem.Schema = "public"
	mem.SelectedTables = []string{"orders"}
	mem.LastSQL = "SELECT 1"
	mem.SetParam("name", "jobA")
	mem.CurrentTool = contractx.ToolReadSQL

	mem.Reset()

	if mem.Stage != StageStart {
		t.Fatalf("Stage = %q, want %q", mem.Stage, StageStart)
	}
	if mem.Connection != "Warehouse" || mem.Schema != "public" {
		t.Fatalf("connection context lost: %q/%q", mem.Connection, mem.Schema)
	}
	if len(mem.SelectedTables) != 1 || mem.SelectedTables[0] != "orders" {
		t.Fatalf("selected tables lost: %v", mem.SelectedTables)
	}
	if mem.JobType != "" || mem.LastSQL != "" || mem.CurrentTool != "" {
		t.Fatal("job state survived reset")
	}
	if len(mem.GatheredParams) != 0 {
		t.Fatalf("gathered params survived reset: %v", mem.GatheredParams)
	}
}

func TestMemoryConnectionIDFuzzyMatch(t *testing.T) {
	t.Parallel()

	mem := NewMemory("s1", time.Now().UTC())
	mem.Connections = map[string]contractx.ConnectionInfo{
		"Sales Warehouse (postgres)": {ID: "c-1"},
		"data_lake":                  {ID: "c-2"},
	}

	cases := []struct {
		in     string
		wantID string
		ok     bool
	}{
		{"Sales Warehouse (postgres)", "c-1", true},
		{"Sales Warehouse", "c-1", true},
		{"sales warehouse", "c-1", true},
		{"sales-warehouse", "c-1", true},
		{"Data Lake", "c-2", true},
		{"DATA_LAKE", "c-2", true},
		{"nope", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		gotID, ok := mem.ConnectionID(tc.in)
		if ok != tc.ok || gotID != tc.wantID {
			t.Errorf("ConnectionID(%q) = (%q, %v), want (%q, %v)", tc.in, gotID, ok, tc.wantID, tc.ok)
		}
	}
}

func TestMemorySetConnectionClearsSchemaCache(t *testing.T) {
	t.Parallel()

	mem := NewMemory("s1", time.Now().UTC())
	mem.Connection = "A"
	mem.Schema = "public"
	mem.AvailableSchemas = []string{"public", "staging"}

	mem.SetConnection("B")

	if mem.Connection != "B" {
		t.Fatalf("Connection = %q, want B", mem.Connection)
	}
	if mem.Schema != "" || mem.AvailableSchemas != nil {
		t.Fatal("schema cache survived connection switch")
	}

	// Re-selecting the same connection keeps the cache.
	mem.Schema = "public"
	mem.AvailableSchemas = []string{"public"}
	mem.SetConnection("B")
	if mem.Schema != "public" || len(mem.AvailableSchemas) != 1 {
		t.Fatal("schema cache dropped on no-op switch")
	}
}

func TestMemoryConnectionListIsSorted(t *testing.T) {
	t.Parallel()

	mem := NewMemory("s1", time.Now().UTC())
	mem.Connections = map[string]contractx.ConnectionInfo{
		"beta":  {ID: "c-2", DBType: "mysql"},
		"alpha": {ID: "c-1", DBType: "postgres"},
	}

	want := "1. alpha (postgres)\n2. beta (mysql)"
	if got := mem.ConnectionList(); got != want {
		t.Fatalf("ConnectionList() = %q, want %q", got, want)
	}
}
