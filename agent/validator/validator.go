// Package validator decides, for a tool and its gathered parameters, what
// happens next: ask the user one question, fetch a discovery cache, or submit
// the job. It is the only component allowed to originate questions, and it is
// pure: no I/O, no mutation of its inputs.
package validator

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
)

/* ------------------------------- entry point ------------------------------ */

// Next returns the single next action for the tool's parameter set. Parameter
// order is fixed per tool; the first missing parameter wins.
func Next(tool contractx.ToolName, params map[string]any, mem *statex.Memory) contractx.Action {
	switch tool {
	case contractx.ToolReadSQL:
		return nextReadSQL(params, mem)
	case contractx.ToolWriteData:
		return nextWriteData(params, mem)
	case contractx.ToolSendEmail:
		return nextSendEmail(params)
	case contractx.ToolCompareSQL:
		return nextCompareSQL(params)
	default:
		return contractx.Ask("job_type", "Which job would you like to run: read SQL or compare SQL?")
	}
}

func nextReadSQL(params map[string]any, mem *statex.Memory) contractx.Action {
	if !has(params, "name") {
		return contractx.Ask("name", "What should this job be called?")
	}
	if !has(params, "execute_query") {
		return contractx.Ask("execute_query", "Should the query run immediately and store its results? (yes/no)")
	}
	if truthy(params["execute_query"]) {
		if !has(params, "result_schema") {
			if len(mem.AvailableSchemas) == 0 {
				return contractx.FetchSchemas("result_schema", mem.Connection)
			}
			return contractx.Ask("result_schema", "Which schema should the results be written to?")
		}
		if !has(params, "table_name") {
			return contractx.Ask("table_name", "What table name should the results be written to?")
		}
		if !has(params, "drop_before_create") {
			return contractx.Ask("drop_before_create", "Should the existing table be dropped before writing? (yes/no)")
		}
	}
	if !has(params, "write_count") {
		return contractx.Ask("write_count", "Should the row count be written to a tracking table? (yes/no)")
	}
	if truthy(params["write_count"]) {
		if act, done := nextWriteCountGroup(params, mem); !done {
			return act
		}
	}
	return contractx.Tool(contractx.ToolReadSQL, params)
}

func nextWriteData(params map[string]any, mem *statex.Memory) contractx.Action {
	if !has(params, "name") {
		return contractx.Ask("name", "What should this job be called?")
	}
	if !has(params, "connection") {
		if len(mem.Connections) == 0 {
			return contractx.FetchConnections("connection")
		}
		return contractx.Ask("connection", "Which connection should the data be written to?")
	}
	if !has(params, "schemas") {
		if len(mem.AvailableSchemas) == 0 {
			return contractx.FetchSchemas("schemas", str(params["connection"]))
		}
		return contractx.Ask("schemas", "Which schema should the data be written to?")
	}
	if !has(params, "table") {
		return contractx.Ask("table", "What table should the data be written to?")
	}
	if !has(params, "drop_or_truncate") {
		return contractx.Ask("drop_or_truncate", "Should the target table be dropped, truncated, or left as is before writing? (drop/truncate/no)")
	}
	if !has(params, "write_count") {
		return contractx.Ask("write_count", "Should the row count be written to a tracking table? (yes/no)")
	}
	if truthy(params["write_count"]) {
		if act, done := nextWriteCountGroup(params, mem); !done {
			return act
		}
	}
	return contractx.Tool(contractx.ToolWriteData, params)
}

func nextSendEmail(params map[string]any) contractx.Action {
	if !has(params, "name") {
		return contractx.Ask("name", "What should this job be called?")
	}
	if !has(params, "to") {
		return contractx.Ask("to", "Who should receive the email? (recipient address)")
	}
	if !has(params, "subject") {
		return contractx.Ask("subject", "What should the email subject be?")
	}
	if !has(params, "text") {
		return contractx.Ask("text", "What should the email body say?")
	}
	if _, ok := params["cc"]; !ok {
		return contractx.Ask("cc", "Anyone to CC? (type 'no' to skip)")
	}
	return contractx.Tool(contractx.ToolSendEmail, params)
}

func nextCompareSQL(params map[string]any) contractx.Action {
	if !has(params, "first_table_keys") {
		return contractx.Ask("first_table_keys", "Which key columns from the first query identify a row?")
	}
	if !has(params, "second_table_keys") {
		return contractx.Ask("second_table_keys", "Which key columns from the second query identify a row?")
	}
	return contractx.Tool(contractx.ToolCompareSQL, params)
}

// nextWriteCountGroup handles the three-parameter tracking-table group shared
// by read_sql and write_data. done is true when the whole group is present.
func nextWriteCountGroup(params map[string]any, mem *statex.Memory) (contractx.Action, bool) {
	if !has(params, "write_count_connection") {
		if len(mem.Connections) == 0 {
			return contractx.FetchConnections("write_count_connection"), false
		}
		return contractx.Ask("write_count_connection", "Which connection holds the row-count tracking table?"), false
	}
	if !has(params, "write_count_schema") {
		return contractx.FetchSchemas("write_count_schema", str(params["write_count_connection"])), false
	}
	if !has(params, "write_count_table") {
		return contractx.Ask("write_count_table", "What is the name of the row-count tracking table?"), false
	}
	return contractx.Action{}, true
}

/* ----------------------------- yes/no fast path ---------------------------- */

// NextBoolParam returns the first boolean parameter the flow still needs,
// honoring each parameter's gate. A bare yes/no turn is bound to this
// parameter without a model call.
func NextBoolParam(tool contractx.ToolName, params map[string]any) (string, bool) {
	switch tool {
	case contractx.ToolReadSQL:
		if !has(params, "execute_query") {
			return "execute_query", true
		}
		if truthy(params["execute_query"]) && has(params, "table_name") && !has(params, "drop_before_create") {
			return "drop_before_create", true
		}
		if !has(params, "write_count") {
			return "write_count", true
		}
	case contractx.ToolWriteData:
		// write_count is the flow's only boolean, and it comes after
		// drop_or_truncate, whose own refusal answer is "no". A bare yes/no
		// binds only when the ordering has actually reached write_count.
		if has(params, "name") && has(params, "connection") && has(params, "schemas") &&
			has(params, "table") && has(params, "drop_or_truncate") && !has(params, "write_count") {
			return "write_count", true
		}
	}
	return "", false
}

/* ------------------------------ value helpers ------------------------------ */

var yesValues = map[string]bool{"yes": true, "y": true, "true": true, "1": true}
var noValues = map[string]bool{"no": true, "n": true, "false": true, "0": true}

// ParseBool maps a bare affirmation or refusal to a bool. ok is false for
// anything that is not a plain yes/no token.
func ParseBool(input string) (val, ok bool) {
	token := strings.ToLower(strings.TrimSpace(input))
	token = strings.TrimRight(token, ".!")
	if yesValues[token] {
		return true, true
	}
	if noValues[token] {
		return false, true
	}
	return false, false
}

// NormalizeDropOrTruncate folds refusal tokens into "none".
func NormalizeDropOrTruncate(v any) string {
	s := strings.ToLower(strings.TrimSpace(str(v)))
	switch s {
	case "drop", "truncate", "none":
		return s
	case "no", "n", "append", "keep", "skip", "":
		return "none"
	default:
		return s
	}
}

// NormalizeCC folds refusal tokens into an empty CC list.
func NormalizeCC(v any) string {
	s := strings.TrimSpace(str(v))
	switch strings.ToLower(s) {
	case "no", "none", "skip", "n/a", "-":
		return ""
	default:
		return s
	}
}

// ValidEmail is a light shape check: one @, non-empty local part, dotted
// domain. Deliverability is the mail service's problem.
func ValidEmail(addr string) bool {
	addr = strings.TrimSpace(addr)
	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return false
	}
	local, domain := parts[0], parts[1]
	if local == "" || domain == "" {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	return !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// Truthy coerces an extracted parameter value to a bool.
func Truthy(v any) bool { return truthy(v) }

func has(params map[string]any, key string) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		val, ok := ParseBool(t)
		return ok && val
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}
