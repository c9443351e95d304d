// Package jobs talks to the job execution service: submitting assembled job
// requests, probing query column lists, and listing connections and schemas.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	retrier "github.com/tanpawarit/dataops-agent/pkg/retry"
)

const maxResponseSizeBytes = 4 << 20

type Config struct {
	URL     string        `split_words:"true" required:"true"`
	Token   string        `split_words:"true" required:"true"`
	Owner   string        `split_words:"true"`
	Timeout time.Duration `split_words:"true" default:"30s"`
}

// Client is an HTTP client for the execution service. It implements both the
// job submission and the discovery contracts; they live on the same service.
type Client struct {
	baseURL    string
	token      string
	owner      string
	httpClient *http.Client
	retryCfg   retrier.Config
}

var (
	_ contractx.JobExecutor = (*Client)(nil)
	_ contractx.Discovery   = (*Client)(nil)
)

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, contractx.ConfigFault(errors.New("job service url is required"))
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, contractx.ConfigFault(err)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, contractx.ConfigFault(errors.New("job service token is required"))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retryCfg := retrier.DefaultConfig()
	retryCfg.IsRetryable = func(err error) bool {
		if f, ok := contractx.AsFault(err); ok {
			return f.Retryable
		}
		return true
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(cfg.Token),
		owner:      strings.TrimSpace(cfg.Owner),
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retryCfg,
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

/* ------------------------------- submission ------------------------------- */

type jobEnvelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Owner     string         `json:"owner,omitempty"`
	Variables map[string]any `json:"variables"`
}

type jobReply struct {
	Success bool     `json:"success"`
	JobID   string   `json:"job_id"`
	Columns []string `json:"columns"`
	Error   string   `json:"error"`
}

// Submit sends one job to the execution service. The POST is made exactly
// once: a retry after a timeout could duplicate a job the server already
// accepted, so failures surface directly and the conversation decides what to
// do. A job-name collision comes back as a non-retryable duplicate-name fault
// so the conversation can re-ask for the name only.
func (c *Client) Submit(ctx context.Context, req contractx.JobRequest) (contractx.JobResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return contractx.JobResult{}, fmt.Errorf("%w: job name is required", contractx.ErrValidation)
	}

	owner := req.Owner
	if owner == "" {
		owner = c.owner
	}
	env := jobEnvelope{
		ID:        uuid.NewString(),
		Type:      string(req.Tool),
		Name:      req.Name,
		Owner:     owner,
		Variables: req.Variables,
	}

	var reply jobReply
	if err := c.post(ctx, "/api/jobs", env, &reply); err != nil {
		return contractx.JobResult{}, err
	}

	if !reply.Success {
		if contractx.IsDuplicateName(reply.Error) {
			return contractx.JobResult{}, contractx.DuplicateNameFault(req.Name)
		}
		return contractx.JobResult{}, contractx.JobSubmitFault(errors.New(reply.Error))
	}

	log.Info().Str("tool", string(req.Tool)).Str("name", req.Name).Str("job_id", reply.JobID).Msg("job submitted")
	return contractx.JobResult{Success: true, JobID: reply.JobID, Columns: reply.Columns}, nil
}

// QueryColumns runs a column probe: the service executes the statement with a
// zero-row limit and returns the output column names.
func (c *Client) QueryColumns(ctx context.Context, connectionID, sql string) ([]string, error) {
	payload := map[string]any{
		"connection_id": connectionID,
		"sql":           sql,
	}
	var reply jobReply
	err := retrier.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		return c.post(ctx, "/api/query/columns", payload, &reply)
	})
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		return nil, contractx.JobSubmitFault(errors.New(reply.Error))
	}
	return reply.Columns, nil
}

/* -------------------------------- discovery ------------------------------- */

type connectionReply struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	DBType string `json:"db_type"`
	URL    string `json:"url"`
	User   string `json:"user"`
}

func (c *Client) Connections(ctx context.Context) (map[string]contractx.ConnectionInfo, error) {
	var rows []connectionReply
	err := retrier.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		return c.get(ctx, "/api/connections", &rows)
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]contractx.ConnectionInfo, len(rows))
	for _, row := range rows {
		name := strings.TrimSpace(row.Name)
		if name == "" {
			continue
		}
		out[name] = contractx.ConnectionInfo{
			ID:     row.ID,
			DBType: row.DBType,
			URL:    row.URL,
			User:   row.User,
		}
	}
	return out, nil
}

func (c *Client) Schemas(ctx context.Context, connectionID string) ([]string, error) {
	if strings.TrimSpace(connectionID) == "" {
		return nil, fmt.Errorf("%w: connection id is required", contractx.ErrValidation)
	}
	var schemas []string
	err := retrier.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		return c.get(ctx, "/api/connections/"+url.PathEscape(connectionID)+"/schemas", &schemas)
	})
	if err != nil {
		return nil, err
	}
	return schemas, nil
}

/* -------------------------------- transport ------------------------------- */

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return contractx.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return contractx.ClassifyTransport(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return contractx.AuthFault(fmt.Errorf("status=%d body=%s", resp.StatusCode, raw))
	case resp.StatusCode >= http.StatusInternalServerError:
		return contractx.ServiceDownFault(fmt.Errorf("status=%d body=%s", resp.StatusCode, raw))
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return contractx.JobSubmitFault(fmt.Errorf("status=%d body=%s", resp.StatusCode, raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
