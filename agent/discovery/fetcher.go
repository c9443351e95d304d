// Package discovery fills the per-session connection and schema caches from
// the job service and renders the pick-one prompts for them.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
)

type Fetcher struct {
	disc contractx.Discovery
}

func NewFetcher(disc contractx.Discovery) *Fetcher {
	return &Fetcher{disc: disc}
}

// LoadConnections fills mem.Connections on first use. The list is cached for
// the rest of the session.
func (f *Fetcher) LoadConnections(ctx context.Context, mem *statex.Memory) error {
	if len(mem.Connections) > 0 {
		return nil
	}
	conns, err := f.disc.Connections(ctx)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		return contractx.ServiceDownFault(errors.New("job service returned no connections"))
	}
	mem.Connections = conns
	log.Debug().Int("count", len(conns)).Msg("connection cache filled")
	return nil
}

// LoadSchemas fills mem.AvailableSchemas for the given connection display
// name, resolving it against the connection cache first.
func (f *Fetcher) LoadSchemas(ctx context.Context, mem *statex.Memory, connectionName string) error {
	if err := f.LoadConnections(ctx, mem); err != nil {
		return err
	}
	id, ok := mem.ConnectionID(connectionName)
	if !ok {
		return contractx.UnknownConnectionFault(connectionName)
	}
	schemas, err := f.disc.Schemas(ctx, id)
	if err != nil {
		return err
	}
	mem.AvailableSchemas = schemas
	log.Debug().Str("connection", connectionName).Int("count", len(schemas)).Msg("schema cache filled")
	return nil
}

// FetchSchemasFor returns the schema list of a connection without touching
// the session cache. Used for the tracking-table group, which may target a
// different connection than the session's.
func (f *Fetcher) FetchSchemasFor(ctx context.Context, mem *statex.Memory, connectionName string) ([]string, error) {
	if err := f.LoadConnections(ctx, mem); err != nil {
		return nil, err
	}
	id, ok := mem.ConnectionID(connectionName)
	if !ok {
		return nil, contractx.UnknownConnectionFault(connectionName)
	}
	return f.disc.Schemas(ctx, id)
}

// ConnectionPrompt renders the pick-a-connection turn as a dropdown.
func ConnectionPrompt(mem *statex.Memory, paramName, question string) contractx.Response {
	return contractx.Response{
		Text: fmt.Sprintf("%s\n%s", question, mem.ConnectionList()),
		Payload: &contractx.UIPayload{
			Kind:        contractx.PayloadConnectionDropdown,
			Connections: mem.ConnectionNames(),
			ParamName:   paramName,
			Question:    question,
		},
	}
}

// SchemaPrompt renders the pick-a-schema turn as a dropdown.
func SchemaPrompt(schemas []string, paramName, question string) contractx.Response {
	var listing string
	for i, schema := range schemas {
		listing += fmt.Sprintf("%d. %s\n", i+1, schema)
	}
	return contractx.Response{
		Text: fmt.Sprintf("%s\n%s", question, listing),
		Payload: &contractx.UIPayload{
			Kind:      contractx.PayloadSchemaDropdown,
			Schemas:   schemas,
			ParamName: paramName,
			Question:  question,
		},
	}
}
