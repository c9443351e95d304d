package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/dataops-agent/agent/discovery"
	"github.com/tanpawarit/dataops-agent/agent/handlers"
	"github.com/tanpawarit/dataops-agent/agent/jobagent"
	"github.com/tanpawarit/dataops-agent/agent/jobs"
	"github.com/tanpawarit/dataops-agent/agent/llm"
	"github.com/tanpawarit/dataops-agent/agent/prompt"
	"github.com/tanpawarit/dataops-agent/agent/router"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
	configx "github.com/tanpawarit/dataops-agent/pkg/config"
	_ "github.com/tanpawarit/dataops-agent/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/dataops-agent/pkg/openrouter"
)

type AppConfig struct {
	// memory, redis or postgres.
	SessionStore string `envconfig:"SESSION_STORE" split_words:"true" default:"memory"`
}

func main() {
	ctx := context.Background()

	appCfg := configx.MustNew[AppConfig]("")

	llmCfg := configx.MustNew[llm.Config]("OPENROUTER")
	if err := llmCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid llm config")
	}

	prompts := prompt.LoadPromptSet()

	extractorCfg := llmCfg.OpenRouterFor(llm.RoleExtractor)
	if openrouterx.NewClient(extractorCfg) == nil {
		log.Fatal().Msg("openrouter api key missing")
	}
	extractor, err := llm.NewExtractor(ctx, &extractorCfg, prompts.Extractor)
	if err != nil {
		log.Fatal().Err(err).Msg("build extractor")
	}

	sqlGenCfg := llmCfg.OpenRouterFor(llm.RoleSQLGen)
	generator, err := llm.NewGenerator(ctx, &sqlGenCfg, prompts.SQLGen)
	if err != nil {
		log.Fatal().Err(err).Msg("build sql generator")
	}

	jobsClient := jobs.MustNew(*configx.MustNew[jobs.Config]("JOBS"))

	deps := &handlers.Deps{
		Pipeline: jobagent.NewPipeline(extractor),
		Fetcher:  discovery.NewFetcher(jobsClient),
		SQLGen:   generator,
		Executor: jobsClient,
	}
	agent := router.New(newStore(ctx, appCfg.SessionStore), deps)

	sessionID := uuid.NewString()
	fmt.Printf("Session %s started. Type a message, or 'exit' to quit.\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			break
		}

		resp, err := agent.HandleMessage(ctx, sessionID, input)
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("turn failed")
			fmt.Println("Sorry, something went wrong on my side. Please try again.")
			continue
		}
		fmt.Println(resp.Encode())
	}
}

func newStore(ctx context.Context, kind string) statex.Store {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "redis":
		store, err := statex.NewUpstashRedisStore(*configx.MustNew[statex.UpstashRedisConfig]("REDIS"))
		if err != nil {
			log.Fatal().Err(err).Msg("build redis session store")
		}
		return store
	case "postgres":
		store, err := statex.NewPostgresStore(*configx.MustNew[statex.PostgresConfig]("POSTGRES"))
		if err != nil {
			log.Fatal().Err(err).Msg("build postgres session store")
		}
		if err := store.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate session table")
		}
		return store
	default:
		log.Info().Msg("using in-memory session store, sessions will not survive a restart")
		return statex.NewMemoryStore()
	}
}
