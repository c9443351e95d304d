// Package router owns the session loop: load the saved conversation state,
// hand the turn to the flow that owns the current stage, and commit the new
// state only when the turn succeeded.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	"github.com/tanpawarit/dataops-agent/agent/handlers"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
)

const greeting = "Hi! I can set up a read-SQL job or a compare-SQL job for you. Which would you like? (read/compare)"

// Delegation is a single hop today (read_sql to write_data); the bound guards
// against a future cycle.
const maxDelegations = 3

type Router struct {
	store   statex.Store
	read    *handlers.ReadSQLHandler
	write   *handlers.WriteDataHandler
	email   *handlers.SendEmailHandler
	compare *handlers.CompareSQLHandler

	stages map[statex.Stage]handlers.Handler
}

func New(store statex.Store, deps *handlers.Deps) *Router {
	r := &Router{
		store:   store,
		read:    handlers.NewReadSQLHandler(deps),
		write:   handlers.NewWriteDataHandler(deps),
		email:   handlers.NewSendEmailHandler(deps),
		compare: handlers.NewCompareSQLHandler(deps),
		stages:  make(map[statex.Stage]handlers.Handler, 32),
	}
	// Unambiguous stages map straight to their flow. StageExecuteSQL is
	// shared and resolved from the session's current tool instead.
	for _, h := range []handlers.Handler{r.read, r.write, r.email, r.compare} {
		for _, stage := range h.Stages() {
			if stage == statex.StageExecuteSQL {
				continue
			}
			r.stages[stage] = h
		}
	}
	return r
}

// HandleMessage runs one conversation turn. The handler works on a clone of
// the saved memory; the clone is committed only when the turn returns without
// error, so a failed turn never corrupts the session.
func (r *Router) HandleMessage(ctx context.Context, sessionID, input string) (contractx.Response, error) {
	mem, err := r.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, statex.ErrMemoryNotFound):
		mem = statex.NewMemory(sessionID, time.Now())
	case err != nil:
		return contractx.Response{}, fmt.Errorf("%w: %w", contractx.ErrSessionStore, err)
	}

	draft := mem.Clone()
	res, err := r.dispatch(ctx, draft, input)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("stage", string(draft.Stage)).Msg("turn failed")
		return contractx.Response{}, err
	}

	for hops := 0; res.DelegateTo != ""; hops++ {
		if hops >= maxDelegations {
			return contractx.Response{}, fmt.Errorf("%w: delegation loop at stage %s", contractx.ErrUnknownStage, draft.Stage)
		}
		target, err := r.handlerFor(res.DelegateTo)
		if err != nil {
			return contractx.Response{}, err
		}
		res, err = target.Handle(ctx, draft, input)
		if err != nil {
			return contractx.Response{}, err
		}
	}

	draft.Touch(time.Now())
	if err := r.store.Save(ctx, draft); err != nil {
		return contractx.Response{}, fmt.Errorf("%w: %w", contractx.ErrSessionStore, err)
	}
	return res.Response, nil
}

func (r *Router) dispatch(ctx context.Context, mem *statex.Memory, input string) (handlers.Result, error) {
	switch mem.Stage {
	case statex.StageStart:
		return r.handleStart(ctx, mem, input)
	case statex.StageAskJobType:
		return r.handleAskJobType(ctx, mem, input)
	case statex.StageDone:
		return r.handleDone(ctx, mem, input)
	case statex.StageExecuteSQL:
		switch mem.CurrentTool {
		case contractx.ToolWriteData:
			return r.write.Handle(ctx, mem, input)
		case contractx.ToolSendEmail:
			return r.email.Handle(ctx, mem, input)
		default:
			return r.read.Handle(ctx, mem, input)
		}
	default:
		if h, ok := r.stages[mem.Stage]; ok {
			return h.Handle(ctx, mem, input)
		}
		return handlers.Result{}, fmt.Errorf("%w: %s", contractx.ErrUnknownStage, mem.Stage)
	}
}

func (r *Router) handlerFor(tool contractx.ToolName) (handlers.Handler, error) {
	switch tool {
	case contractx.ToolReadSQL:
		return r.read, nil
	case contractx.ToolWriteData:
		return r.write, nil
	case contractx.ToolSendEmail:
		return r.email, nil
	case contractx.ToolCompareSQL:
		return r.compare, nil
	default:
		return nil, fmt.Errorf("%w: no flow for tool %q", contractx.ErrUnknownStage, tool)
	}
}

func (r *Router) handleStart(ctx context.Context, mem *statex.Memory, input string) (handlers.Result, error) {
	if tool, ok := parseJobType(input); ok {
		return r.startFlow(ctx, mem, tool)
	}
	mem.Stage = statex.StageAskJobType
	mem.LastQuestion = greeting
	return handlers.Result{Response: contractx.Response{Text: greeting}}, nil
}

func (r *Router) handleAskJobType(ctx context.Context, mem *statex.Memory, input string) (handlers.Result, error) {
	tool, ok := parseJobType(input)
	if !ok {
		return handlers.Result{Response: contractx.Response{
			Text: "I can run a read-SQL job or a compare-SQL job. Which one? (read/compare)",
		}}, nil
	}
	return r.startFlow(ctx, mem, tool)
}

func (r *Router) handleDone(ctx context.Context, mem *statex.Memory, input string) (handlers.Result, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	for _, token := range []string{"new", "again", "another", "restart", "start"} {
		if strings.Contains(s, token) {
			mem.Reset()
			return r.handleStart(ctx, mem, "")
		}
	}
	return handlers.Result{Response: contractx.Response{
		Text: "This job is finished. Say 'new' to start another one.",
	}}, nil
}

func (r *Router) startFlow(ctx context.Context, mem *statex.Memory, tool contractx.ToolName) (handlers.Result, error) {
	switch tool {
	case contractx.ToolCompareSQL:
		return r.compare.Start(ctx, mem, "")
	default:
		return r.read.Start(ctx, mem, "")
	}
}

// parseJobType reads the job choice from free text. Compare wins when both
// words appear, since "compare sql" mentions sql too.
func parseJobType(input string) (contractx.ToolName, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	switch {
	case s == "":
		return "", false
	case strings.Contains(s, "compare") || s == "2":
		return contractx.ToolCompareSQL, true
	case strings.Contains(s, "read") || strings.Contains(s, "sql") || strings.Contains(s, "query") || s == "1":
		return contractx.ToolReadSQL, true
	default:
		return "", false
	}
}
