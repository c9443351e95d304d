package state

import (
	"fmt"
	"sort"
	"strings"
	"time"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
)

// Stage names a position in the guided conversation. Stage alone decides
// which handler owns the next turn.
type Stage string

const (
	StageStart      Stage = "start"
	StageAskJobType Stage = "ask_job_type"
	StageDone       Stage = "done"

	// Read-SQL flow.
	StageAskSQLMethod        Stage = "ask_sql_method"
	StageNeedNaturalLanguage Stage = "need_natural_language"
	StageNeedUserSQL         Stage = "need_user_sql"
	StageConfirmGeneratedSQL Stage = "confirm_generated_sql"
	StageConfirmUserSQL      Stage = "confirm_user_sql"
	StageExecuteSQL          Stage = "execute_sql"
	StageNeedWriteOrEmail    Stage = "need_write_or_email"

	// Email continuation.
	StageConfirmEmailQuery Stage = "confirm_email_query"
	StageNeedEmailQuery    Stage = "need_email_query"

	// Compare-SQL flow.
	StageAskFirstSQLMethod         Stage = "ask_first_sql_method"
	StageNeedFirstNaturalLanguage  Stage = "need_first_natural_language"
	StageNeedFirstUserSQL          Stage = "need_first_user_sql"
	StageConfirmFirstGeneratedSQL  Stage = "confirm_first_generated_sql"
	StageConfirmFirstUserSQL       Stage = "confirm_first_user_sql"
	StageAskSecondSQLMethod        Stage = "ask_second_sql_method"
	StageNeedSecondNaturalLanguage Stage = "need_second_natural_language"
	StageNeedSecondUserSQL         Stage = "need_second_user_sql"
	StageConfirmSecondGeneratedSQL Stage = "confirm_second_generated_sql"
	StageConfirmSecondUserSQL      Stage = "confirm_second_user_sql"
	StageAskAutoMatch              Stage = "ask_auto_match"
	StageWaitingMapTable           Stage = "waiting_map_table"
	StageAskReportingType          Stage = "ask_reporting_type"
	StageAskCompareSchema          Stage = "ask_compare_schema"
	StageAskCompareTableName       Stage = "ask_compare_table_name"
	StageAskCompareJobName         Stage = "ask_compare_job_name"
	StageExecuteCompareSQL         Stage = "execute_compare_sql"
	StageShowResults               Stage = "show_results"
)

// TableRef locates the table a finished read job wrote its results to.
type TableRef struct {
	Connection string `json:"connection"`
	Schema     string `json:"schema"`
	Table      string `json:"table"`
}

// Memory is the full per-session conversation state. It is the unit of
// persistence: handlers mutate a draft clone and the router commits it only
// when the turn succeeds.
type Memory struct {
	SessionID string    `json:"session_id"`
	Stage     Stage     `json:"stage"`
	UpdatedAt time.Time `json:"updated_at"`

	// Conversation-scoped selections.
	JobType        string   `json:"job_type,omitempty"`
	Connection     string   `json:"connection,omitempty"`
	Schema         string   `json:"schema,omitempty"`
	SelectedTables []string `json:"selected_tables,omitempty"`

	// Discovery caches, keyed by display name.
	Connections      map[string]contractx.ConnectionInfo `json:"connections,omitempty"`
	AvailableSchemas []string                            `json:"available_schemas,omitempty"`

	// SQL under construction.
	LastSQL   string `json:"last_sql,omitempty"`
	FirstSQL  string `json:"first_sql,omitempty"`
	SecondSQL string `json:"second_sql,omitempty"`

	// Compare column context.
	FirstColumns   []string                  `json:"first_columns,omitempty"`
	SecondColumns  []string                  `json:"second_columns,omitempty"`
	ColumnMappings []contractx.ColumnMapping `json:"column_mappings,omitempty"`
	KeyMappings    []contractx.KeyMapping    `json:"key_mappings,omitempty"`

	// Last finished job.
	LastJobID   string   `json:"last_job_id,omitempty"`
	LastJobName string   `json:"last_job_name,omitempty"`
	LastColumns []string `json:"last_columns,omitempty"`

	// Assembly scratch space.
	GatheredParams      map[string]any     `json:"gathered_params,omitempty"`
	CurrentTool         contractx.ToolName `json:"current_tool,omitempty"`
	ExecuteQueryEnabled bool               `json:"execute_query_enabled,omitempty"`
	OutputTable         *TableRef          `json:"output_table,omitempty"`
	PendingEmailParams  map[string]any     `json:"pending_email_params,omitempty"`
	LastQuestion        string             `json:"last_question,omitempty"`
}

func NewMemory(sessionID string, now time.Time) *Memory {
	return &Memory{
		SessionID:      sessionID,
		Stage:          StageStart,
		GatheredParams: make(map[string]any, 8),
		UpdatedAt:      now.UTC(),
	}
}

func (m *Memory) Touch(now time.Time) {
	m.UpdatedAt = now.UTC()
}

func (m *Memory) EnsureParams() {
	if m.GatheredParams == nil {
		m.GatheredParams = make(map[string]any, 8)
	}
}

// SetParam stores an extracted parameter, dropping nil values.
func (m *Memory) SetParam(key string, val any) {
	if val == nil {
		return
	}
	m.EnsureParams()
	m.GatheredParams[key] = val
}

// ParamString returns a gathered parameter coerced to a trimmed string.
func (m *Memory) ParamString(key string) string {
	if m.GatheredParams == nil {
		return ""
	}
	v, ok := m.GatheredParams[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Reset clears everything a new job should not inherit. Connection, schema
// and table selections survive so a follow-up job can reuse them.
func (m *Memory) Reset() {
	keptConn := m.Connection
	keptSchema := m.Schema
	keptTables := m.SelectedTables
	keptConns := m.Connections
	keptAvail := m.AvailableSchemas

	*m = Memory{
		SessionID:        m.SessionID,
		Stage:            StageStart,
		Connection:       keptConn,
		Schema:           keptSchema,
		SelectedTables:   keptTables,
		Connections:      keptConns,
		AvailableSchemas: keptAvail,
		GatheredParams:   make(map[string]any, 8),
		UpdatedAt:        time.Now().UTC(),
	}
}

// Clone returns a deep copy. Handlers work on the clone so a failed turn
// leaves the committed state untouched.
func (m *Memory) Clone() *Memory {
	cp := *m
	cp.SelectedTables = append([]string(nil), m.SelectedTables...)
	cp.AvailableSchemas = append([]string(nil), m.AvailableSchemas...)
	cp.FirstColumns = append([]string(nil), m.FirstColumns...)
	cp.SecondColumns = append([]string(nil), m.SecondColumns...)
	cp.LastColumns = append([]string(nil), m.LastColumns...)
	cp.ColumnMappings = append([]contractx.ColumnMapping(nil), m.ColumnMappings...)
	cp.KeyMappings = append([]contractx.KeyMapping(nil), m.KeyMappings...)
	if m.Connections != nil {
		cp.Connections = make(map[string]contractx.ConnectionInfo, len(m.Connections))
		for k, v := range m.Connections {
			cp.Connections[k] = v
		}
	}
	if m.GatheredParams != nil {
		cp.GatheredParams = make(map[string]any, len(m.GatheredParams))
		for k, v := range m.GatheredParams {
			cp.GatheredParams[k] = v
		}
	}
	if m.PendingEmailParams != nil {
		cp.PendingEmailParams = make(map[string]any, len(m.PendingEmailParams))
		for k, v := range m.PendingEmailParams {
			cp.PendingEmailParams[k] = v
		}
	}
	if m.OutputTable != nil {
		ref := *m.OutputTable
		cp.OutputTable = &ref
	}
	return &cp
}

// SetConnection records a connection choice and drops the schema cache that
// belonged to the previous connection.
func (m *Memory) SetConnection(name string) {
	if name == m.Connection {
		return
	}
	m.Connection = name
	m.Schema = ""
	m.AvailableSchemas = nil
}

// ConnectionID resolves a user-supplied connection name against the cache.
// Matching is forgiving: exact name first, then the name with any trailing
// parenthetical stripped, then case/underscore/hyphen-insensitive.
func (m *Memory) ConnectionID(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || len(m.Connections) == 0 {
		return "", false
	}
	if info, ok := m.Connections[name]; ok {
		return info.ID, true
	}
	stripped := stripParenthetical(name)
	if info, ok := m.Connections[stripped]; ok {
		return info.ID, true
	}
	want := looseKey(stripped)
	for display, info := range m.Connections {
		if looseKey(stripParenthetical(display)) == want {
			return info.ID, true
		}
	}
	return "", false
}

// CanonicalConnection resolves a loose name to its cached display name,
// using the same matching rules as ConnectionID.
func (m *Memory) CanonicalConnection(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || len(m.Connections) == 0 {
		return "", false
	}
	if _, ok := m.Connections[name]; ok {
		return name, true
	}
	stripped := stripParenthetical(name)
	if _, ok := m.Connections[stripped]; ok {
		return stripped, true
	}
	want := looseKey(stripped)
	for display := range m.Connections {
		if looseKey(stripParenthetical(display)) == want {
			return display, true
		}
	}
	return "", false
}

// ConnectionNames returns cached display names sorted for stable prompts.
func (m *Memory) ConnectionNames() []string {
	names := make([]string, 0, len(m.Connections))
	for name := range m.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectionList renders the cached connections as a numbered prompt block.
func (m *Memory) ConnectionList() string {
	names := m.ConnectionNames()
	var b strings.Builder
	for i, name := range names {
		fmt.Fprintf(&b, "%d. %s", i+1, name)
		if info, ok := m.Connections[name]; ok && info.DBType != "" {
			fmt.Fprintf(&b, " (%s)", info.DBType)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// SchemaList renders the cached schemas as a numbered prompt block.
func (m *Memory) SchemaList() string {
	var b strings.Builder
	for i, schema := range m.AvailableSchemas {
		fmt.Fprintf(&b, "%d. %s\n", i+1, schema)
	}
	return strings.TrimRight(b.String(), "\n")
}

func stripParenthetical(s string) string {
	if i := strings.Index(s, "("); i > 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func looseKey(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}
