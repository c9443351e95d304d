package contract

import "encoding/json"

// ToolName identifies one of the remote job types the router can assemble.
type ToolName string

const (
	ToolReadSQL    ToolName = "read_sql"
	ToolWriteData  ToolName = "write_data"
	ToolSendEmail  ToolName = "send_email"
	ToolCompareSQL ToolName = "compare_sql"
)

// ActionKind tags the Action union.
type ActionKind string

const (
	ActionAsk              ActionKind = "ask"
	ActionTool             ActionKind = "tool"
	ActionFetchConnections ActionKind = "fetch_connections"
	ActionFetchSchemas     ActionKind = "fetch_schemas"
)

// Action is the validator's verdict on a set of gathered parameters:
// ask one question, fetch a cache, or run the tool. Param names the
// parameter an ask or fetch is for, so the presentation layer can attach
// the matching widget.
type Action struct {
	Kind       ActionKind     `json:"kind"`
	Param      string         `json:"param,omitempty"`
	Question   string         `json:"question,omitempty"`
	Tool       ToolName       `json:"tool,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Connection string         `json:"connection,omitempty"`
}

func Ask(param, question string) Action {
	return Action{Kind: ActionAsk, Param: param, Question: question}
}

func Tool(tool ToolName, params map[string]any) Action {
	return Action{Kind: ActionTool, Tool: tool, Params: params}
}

func FetchConnections(param string) Action {
	return Action{Kind: ActionFetchConnections, Param: param}
}

func FetchSchemas(param, connection string) Action {
	return Action{Kind: ActionFetchSchemas, Param: param, Connection: connection}
}

// PayloadKind tags the UI widget a response wants the presentation layer to
// render alongside (or instead of) plain text.
type PayloadKind string

const (
	PayloadConnectionDropdown PayloadKind = "connection_dropdown"
	PayloadSchemaDropdown     PayloadKind = "schema_dropdown"
	PayloadMapTablePopup      PayloadKind = "map_table_popup"
)

// UIPayload carries the data behind a widget request. Exactly the fields for
// the payload's kind are set.
type UIPayload struct {
	Kind PayloadKind `json:"kind"`

	// Dropdowns.
	Connections []string `json:"connections,omitempty"`
	Schemas     []string `json:"schemas,omitempty"`
	ParamName   string   `json:"param_name,omitempty"`
	Question    string   `json:"question,omitempty"`

	// Map-table popup.
	FirstColumns  []string        `json:"first_columns,omitempty"`
	SecondColumns []string        `json:"second_columns,omitempty"`
	AutoMatched   bool            `json:"auto_matched,omitempty"`
	PreMappings   []ColumnMapping `json:"pre_mappings,omitempty"`
}

// ColumnMapping pairs a column of the first compare query with one of the
// second. Field names follow the job API wire format.
type ColumnMapping struct {
	FirstMappedColumn  string `json:"FirstMappedColumn"`
	SecondMappedColumn string `json:"SecondMappedColumn"`
}

// KeyMapping pairs key columns used to match rows between the two compare
// result sets.
type KeyMapping struct {
	FirstKey  string `json:"FirstKey"`
	SecondKey string `json:"SecondKey"`
}

// Response is a single turn's answer to the user. Text is always set; Payload
// is set when the presentation layer should render a widget.
type Response struct {
	Text      string     `json:"text"`
	Payload   *UIPayload `json:"payload,omitempty"`
	IsError   bool       `json:"is_error,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	Retryable bool       `json:"retryable,omitempty"`
}

// Prefixes of the legacy wire rendering consumed by the chat widget.
const (
	prefixConnectionDropdown = "CONNECTION_DROPDOWN:"
	prefixSchemaDropdown     = "SCHEMA_DROPDOWN:"
	prefixMapTablePopup      = "MAP_TABLE_POPUP:"
)

// Encode renders the response in the flat string protocol the chat widget
// consumes: plain text, or a reserved prefix followed by the payload JSON.
func (r Response) Encode() string {
	if r.Payload == nil {
		return r.Text
	}
	body, err := json.Marshal(r.Payload)
	if err != nil {
		return r.Text
	}
	switch r.Payload.Kind {
	case PayloadConnectionDropdown:
		return prefixConnectionDropdown + string(body)
	case PayloadSchemaDropdown:
		return prefixSchemaDropdown + string(body)
	case PayloadMapTablePopup:
		return prefixMapTablePopup + string(body)
	default:
		return r.Text
	}
}

// Inbound bypass tokens: the presentation layer reports a widget selection
// without a round trip through the extraction model.
const (
	TokenConnectionSelected = "__CONNECTION_SELECTED__:"
	TokenSchemaSelected     = "__SCHEMA_SELECTED__:"
)

// ExtractRequest is the input to the parameter-extraction model.
type ExtractRequest struct {
	Tool         ToolName       `json:"tool"`
	UserInput    string         `json:"user_input"`
	Gathered     map[string]any `json:"gathered_params"`
	LastQuestion string         `json:"last_question,omitempty"`
	LastSQL      string         `json:"last_sql,omitempty"`
}

// ExtractResult is the model's structured reply. The suggested question is
// parsed but discarded: the validator is the only question authority.
type ExtractResult struct {
	Action   string         `json:"action"`
	Question string         `json:"question,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// SQLRequest asks the generation model for SQL over the given schema context.
type SQLRequest struct {
	UserInput      string   `json:"user_input"`
	Connection     string   `json:"connection"`
	Schema         string   `json:"schema"`
	SelectedTables []string `json:"selected_tables"`
}

// SQLSpec is the generation model's reply.
type SQLSpec struct {
	SQL       string `json:"sql"`
	Reasoning string `json:"reasoning,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// ConnectionInfo is one entry of the discovery API's connection list, keyed
// in Memory by display name.
type ConnectionInfo struct {
	ID     string `json:"id"`
	DBType string `json:"db_type"`
	URL    string `json:"url,omitempty"`
	User   string `json:"user,omitempty"`
}

// JobRequest is a fully-populated job submission. Name lands in the job
// envelope's props; Variables holds the per-tool parameter block.
type JobRequest struct {
	Tool      ToolName       `json:"tool"`
	Name      string         `json:"name"`
	Owner     string         `json:"owner,omitempty"`
	Variables map[string]any `json:"variables"`
}

// JobResult is the execution API's reply for any job type.
type JobResult struct {
	Success bool     `json:"success"`
	JobID   string   `json:"job_id,omitempty"`
	Columns []string `json:"columns,omitempty"`
	Error   string   `json:"error,omitempty"`
}
