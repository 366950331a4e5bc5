package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/vibe-pgx/internal/analysis"
	"github.com/inodb/vibe-pgx/internal/duckdb"
	"github.com/inodb/vibe-pgx/internal/explain"
	"github.com/inodb/vibe-pgx/internal/knowledge"
	"github.com/inodb/vibe-pgx/internal/risk"
	"github.com/inodb/vibe-pgx/internal/server"
)

// configKeys lists every recognized configuration key. Each can also be set
// through VIBE_PGX_<KEY> with dots replaced by underscores.
var configKeys = []string{
	"kb.path",
	"analysis.sample",
	"analysis.workers",
	"confidence.partial_penalty",
	"confidence.tiebreak_penalty",
	"explain.provider",
	"explain.model",
	"explain.api_key",
	"explain.base_url",
	"explain.timeout",
	"explain.max_tokens",
	"explain.rate",
	"explain.burst",
	"explain.cache_ttl",
	"explain.attempts",
	"explain.retry_backoff",
	"server.host",
	"server.port",
	"server.max_upload_bytes",
	"server.max_drugs",
	"server.read_timeout",
	"server.write_timeout",
	"server.shutdown_timeout",
	"server.debug",
}

type kbSettings struct {
	Path string `mapstructure:"path"`
}

type analysisSettings struct {
	Sample  string `mapstructure:"sample"`
	Workers int    `mapstructure:"workers"`
}

// settings is the resolved configuration: defaults overlaid with the config
// file, environment and flags.
type settings struct {
	KB         kbSettings       `mapstructure:"kb"`
	Analysis   analysisSettings `mapstructure:"analysis"`
	Confidence risk.Penalties   `mapstructure:"confidence"`
	Explain    explain.Config   `mapstructure:"explain"`
	Server     server.Config    `mapstructure:"server"`
}

func defaultSettings() settings {
	return settings{
		Confidence: risk.DefaultPenalties(),
		Explain:    explain.DefaultConfig(),
		Server:     server.DefaultConfig(),
	}
}

func loadSettings() (settings, error) {
	s := defaultSettings()
	if err := viper.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("decode config: %w", err)
	}
	if s.Confidence.Partial < 0 || s.Confidence.TieBreak < 0 {
		return s, fmt.Errorf("confidence penalties must not be negative")
	}
	return s, nil
}

// loadKnowledgeBase loads the knowledge base at path, detecting YAML or
// DuckDB by extension. An empty path selects the embedded tables.
func loadKnowledgeBase(path string) (*knowledge.KnowledgeBase, error) {
	if path == "" {
		return knowledge.Default()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("knowledge base: %w", err)
	}

	switch detectKBFormat(path) {
	case "duckdb":
		store, err := duckdb.Open(path)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.LoadKnowledgeBase()
	default:
		return knowledge.LoadFile(path)
	}
}

// detectKBFormat returns "duckdb" or "yaml" based on the file extension.
func detectKBFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".duckdb", ".db":
		return "duckdb"
	}
	return "yaml"
}

// newAnalyzer builds an analyzer from resolved settings.
func newAnalyzer(s settings) (*analysis.Analyzer, error) {
	kb, err := loadKnowledgeBase(s.KB.Path)
	if err != nil {
		return nil, err
	}
	logger.Debug("knowledge base loaded",
		zap.String("version", kb.Version()),
		zap.Int("genes", len(kb.Genes())),
		zap.Int("drugs", len(kb.Drugs())))

	a := analysis.NewAnalyzer(kb)
	a.SetLogger(logger)
	a.SetSample(s.Analysis.Sample)
	a.SetWorkers(s.Analysis.Workers)
	a.SetPenalties(s.Confidence)

	exp, err := explain.New(s.Explain, logger)
	if err != nil {
		return nil, err
	}
	if exp != nil {
		a.SetExplainer(exp)
	}
	return a, nil
}
