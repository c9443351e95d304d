package contract

import (
	"errors"
	"fmt"
	"strings"
)

// FaultCategory groups faults by the subsystem that raised them.
type FaultCategory string

const (
	CategoryAuthentication FaultCategory = "authentication"
	CategoryConnection     FaultCategory = "connection"
	CategoryValidation     FaultCategory = "validation"
	CategoryJob            FaultCategory = "job"
	CategoryLLM            FaultCategory = "llm"
	CategoryConfiguration  FaultCategory = "configuration"
	CategorySQL            FaultCategory = "sql"
)

// Fault codes surfaced to the user and to retry classification.
const (
	CodeAuthFailed        = "AUTH_FAILED"
	CodeNetworkTimeout    = "NETWORK_TIMEOUT"
	CodeServiceDown       = "SERVICE_DOWN"
	CodeDuplicateName     = "DUPLICATE_JOB_NAME"
	CodeUnknownConnection = "UNKNOWN_CONNECTION"
	CodeMissingDataset    = "MISSING_DATASET"
	CodeInvalidEmail      = "INVALID_EMAIL"
	CodeInvalidJSON       = "INVALID_JSON"
	CodeJobSubmitFailed   = "JOB_SUBMIT_FAILED"
	CodeModelFailed       = "MODEL_FAILED"
	CodeBadConfig         = "BAD_CONFIG"
	CodeInvalidSQL        = "INVALID_SQL"
)

// Fault is a classified failure: a stable code, the subsystem category,
// whether a retry can help, and a message fit for the chat window.
type Fault struct {
	Code      string
	Category  FaultCategory
	Retryable bool
	Message   string
	Err       error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Code, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

// UserMessage is what the chat window shows for this fault.
func (f *Fault) UserMessage() string {
	if f.Retryable {
		return f.Message + " Please try again."
	}
	return f.Message
}

func NewFault(code string, category FaultCategory, retryable bool, message string, err error) *Fault {
	return &Fault{Code: code, Category: category, Retryable: retryable, Message: message, Err: err}
}

func AuthFault(err error) *Fault {
	return NewFault(CodeAuthFailed, CategoryAuthentication, false,
		"Authentication with the job service failed. Check the configured credentials.", err)
}

func TimeoutFault(err error) *Fault {
	return NewFault(CodeNetworkTimeout, CategoryConnection, true,
		"The job service did not respond in time.", err)
}

func ServiceDownFault(err error) *Fault {
	return NewFault(CodeServiceDown, CategoryConnection, true,
		"The job service is unreachable.", err)
}

func DuplicateNameFault(name string) *Fault {
	return NewFault(CodeDuplicateName, CategoryJob, false,
		fmt.Sprintf("A job named %q already exists. Please choose a different name.", name), nil)
}

func UnknownConnectionFault(name string) *Fault {
	return NewFault(CodeUnknownConnection, CategoryValidation, false,
		fmt.Sprintf("No connection matches %q. Pick one from the list.", name), nil)
}

func MissingDatasetFault(which string) *Fault {
	return NewFault(CodeMissingDataset, CategoryValidation, false,
		fmt.Sprintf("The %s dataset is missing. Provide its SQL before comparing.", which), nil)
}

func InvalidEmailFault(addr string) *Fault {
	return NewFault(CodeInvalidEmail, CategoryValidation, false,
		fmt.Sprintf("%q does not look like a valid email address.", addr), nil)
}

func InvalidJSONFault(err error) *Fault {
	return NewFault(CodeInvalidJSON, CategoryValidation, false,
		"The mapping payload is not valid JSON.", err)
}

func JobSubmitFault(err error) *Fault {
	return NewFault(CodeJobSubmitFailed, CategoryJob, true,
		"Submitting the job failed.", err)
}

func ModelFault(err error) *Fault {
	return NewFault(CodeModelFailed, CategoryLLM, true,
		"The language model call failed.", err)
}

func ConfigFault(err error) *Fault {
	return NewFault(CodeBadConfig, CategoryConfiguration, false,
		"The agent is misconfigured.", err)
}

func InvalidSQLFault(detail string) *Fault {
	return NewFault(CodeInvalidSQL, CategorySQL, false,
		"The SQL statement looks invalid: "+detail, nil)
}

// AsFault extracts a Fault from an error chain.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsDuplicateName reports whether an execution API error message indicates a
// job-name collision.
func IsDuplicateName(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "duplicate") ||
		strings.Contains(m, "already exists") ||
		strings.Contains(m, "already in use")
}

// ClassifyTransport maps a raw HTTP-layer failure to a fault by message
// inspection. Used when the execution API gives no structured error.
func ClassifyTransport(err error) *Fault {
	if err == nil {
		return nil
	}
	if f, ok := AsFault(err); ok {
		return f
	}
	m := strings.ToLower(err.Error())
	switch {
	case strings.Contains(m, "401") || strings.Contains(m, "403") || strings.Contains(m, "unauthorized"):
		return AuthFault(err)
	case strings.Contains(m, "timeout") || strings.Contains(m, "deadline exceeded"):
		return TimeoutFault(err)
	case strings.Contains(m, "connection refused") || strings.Contains(m, "no such host") ||
		strings.Contains(m, "502") || strings.Contains(m, "503"):
		return ServiceDownFault(err)
	default:
		return JobSubmitFault(err)
	}
}
