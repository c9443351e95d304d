package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	openrouterx "github.com/tanpawarit/dataops-agent/pkg/openrouter"
)

// Role selects which model settings a component uses.
type Role string

const (
	RoleExtractor Role = "extractor"
	RoleSQLGen    Role = "sqlgen"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	ExtractorModel       string  `envconfig:"EXTRACTOR_MODEL" split_words:"true"`
	SQLGenModel          string  `envconfig:"SQLGEN_MODEL" split_words:"true"`
	ExtractorTemperature float32 `envconfig:"EXTRACTOR_TEMPERATURE" split_words:"true" default:"-1"`
	SQLGenTemperature    float32 `envconfig:"SQLGEN_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return contractx.ConfigFault(fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation))
	}
	if strings.TrimSpace(c.Model) == "" {
		return contractx.ConfigFault(fmt.Errorf("%w: default model is required", contractx.ErrValidation))
	}
	return nil
}

func (c Config) OpenRouterFor(role Role) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch role {
	case RoleExtractor:
		if v := strings.TrimSpace(c.ExtractorModel); v != "" {
			modelName = v
		}
		if c.ExtractorTemperature >= 0 {
			temp = c.ExtractorTemperature
		}
	case RoleSQLGen:
		if v := strings.TrimSpace(c.SQLGenModel); v != "" {
			modelName = v
		}
		if c.SQLGenTemperature >= 0 {
			temp = c.SQLGenTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
