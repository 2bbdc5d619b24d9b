package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/8007342/ai-way/internal/agents"
	"github.com/8007342/ai-way/internal/ollama"
)

type options struct {
	agentsPath    string
	modelfilesDir string
	baseModel     string
	ollamaURL     string
	prefix        string
	temperature   float64
	force         bool
	generateOnly  bool
	timeout       time.Duration
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "aiway-models: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "aiway-models: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var timeoutMin int

	flag.StringVar(&cfg.agentsPath, "agents", "../agents", "root directory of agent profiles")
	flag.StringVar(&cfg.modelfilesDir, "modelfiles", "./modelfiles", "directory for generated modelfiles")
	flag.StringVar(&cfg.baseModel, "base", "llama3.2", "base model the specialists derive from")
	flag.StringVar(&cfg.ollamaURL, "ollama", ollama.DefaultBaseURL, "ollama base URL")
	flag.StringVar(&cfg.prefix, "prefix", "ai-way-", "name prefix for created models")
	flag.Float64Var(&cfg.temperature, "temperature", 0.8, "sampling temperature baked into the modelfiles")
	flag.BoolVar(&cfg.force, "force", false, "recreate models that already exist")
	flag.BoolVar(&cfg.generateOnly, "generate-only", false, "write modelfiles without talking to ollama")
	flag.IntVar(&timeoutMin, "timeout-min", 30, "overall timeout for model creation in minutes")
	flag.Parse()

	cfg.ollamaURL = strings.TrimRight(strings.TrimSpace(cfg.ollamaURL), "/")
	if strings.TrimSpace(cfg.agentsPath) == "" {
		return options{}, fmt.Errorf("agents is required")
	}
	if strings.TrimSpace(cfg.modelfilesDir) == "" {
		return options{}, fmt.Errorf("modelfiles is required")
	}
	if strings.TrimSpace(cfg.baseModel) == "" {
		return options{}, fmt.Errorf("base is required")
	}
	if cfg.temperature <= 0 || cfg.temperature > 2 {
		return options{}, fmt.Errorf("temperature must be in (0,2]")
	}
	if !cfg.generateOnly && cfg.ollamaURL == "" {
		return options{}, fmt.Errorf("ollama is required unless -generate-only is set")
	}
	if timeoutMin < 1 {
		timeoutMin = 1
	}
	cfg.timeout = time.Duration(timeoutMin) * time.Minute
	return cfg, nil
}

func run(cfg options) error {
	profiles, loadErrs := agents.LoadAll(cfg.agentsPath)
	for _, err := range loadErrs {
		fmt.Fprintf(os.Stderr, "aiway-models: warning: %v\n", err)
	}
	if len(profiles) == 0 {
		return fmt.Errorf("no agent profiles under %s", cfg.agentsPath)
	}
	constitution := agents.LoadConstitution(cfg.agentsPath)
	if constitution == "" {
		fmt.Fprintf(os.Stderr, "aiway-models: warning: no constitution under %s\n", cfg.agentsPath)
	}

	if err := os.MkdirAll(cfg.modelfilesDir, 0o755); err != nil {
		return fmt.Errorf("create modelfiles dir: %w", err)
	}
	for _, p := range profiles {
		content := agents.BuildModelfile(p, cfg.baseModel, constitution, cfg.temperature)
		path := filepath.Join(cfg.modelfilesDir, p.Name+".modelfile")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
	}
	if cfg.generateOnly {
		fmt.Printf("generated %d modelfile(s), skipped model creation\n", len(profiles))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	client := ollama.NewClient(ollama.Config{BaseURL: cfg.ollamaURL})
	result, err := client.SetupModels(ctx, cfg.modelfilesDir, cfg.prefix, cfg.force)
	if err != nil {
		return err
	}
	for _, name := range result.Created {
		fmt.Printf("created %s\n", name)
	}
	for _, name := range result.Existing {
		fmt.Printf("exists  %s (use -force to recreate)\n", name)
	}
	for _, failure := range result.Failed {
		fmt.Fprintf(os.Stderr, "aiway-models: failed %s: %v\n", failure.Model, failure.Err)
	}
	fmt.Printf("done: %d created, %d existing, %d failed\n",
		len(result.Created), len(result.Existing), len(result.Failed))
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d model(s) failed to create", len(result.Failed))
	}
	return nil
}
