package contract

import "context"

// Extractor turns a free-form user turn into structured tool parameters.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error)
}

// SQLGenerator produces SQL from a natural-language request and the
// connection's schema context.
type SQLGenerator interface {
	Generate(ctx context.Context, req SQLRequest) (SQLSpec, error)
}

// JobExecutor submits assembled job requests to the execution API.
type JobExecutor interface {
	Submit(ctx context.Context, req JobRequest) (JobResult, error)
	QueryColumns(ctx context.Context, connectionID, sql string) ([]string, error)
}

// Discovery lists the connections and schemas a user can target.
type Discovery interface {
	Connections(ctx context.Context) (map[string]ConnectionInfo, error)
	Schemas(ctx context.Context, connectionID string) ([]string, error)
}
