package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/extractor.txt
	extractorRaw string

	//go:embed template/sqlgen.txt
	sqlgenRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Extractor string
	SQLGen    string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// This is safe to call concurrently; the embed is compile-time, and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Extractor: strings.TrimSpace(extractorRaw),
		SQLGen:    strings.TrimSpace(sqlgenRaw),
	}
}
