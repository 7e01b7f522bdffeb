package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/spanlink/internal/config"
)

type checkReport struct {
	Valid     bool   `json:"valid"`
	Source    string `json:"source,omitempty"`
	Error     string `json:"error,omitempty"`
	Ledger    string `json:"ledger,omitempty"`
	Transport string `json:"transport,omitempty"`
	Cache     string `json:"cache,omitempty"`
	Graph     string `json:"graph,omitempty"`
	API       string `json:"api,omitempty"`
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	report := checkReport{}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		report.Error = err.Error()
	} else {
		report = summarize(cfg)
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else if report.Valid {
		fmt.Printf("OK %s\n", report.Source)
		fmt.Printf("  ledger:    %s\n", report.Ledger)
		fmt.Printf("  transport: %s\n", report.Transport)
		fmt.Printf("  cache:     %s\n", report.Cache)
		fmt.Printf("  graph:     %s\n", report.Graph)
		fmt.Printf("  api:       %s\n", report.API)
	} else {
		fmt.Fprintf(os.Stderr, "INVALID: %s\n", report.Error)
	}

	if !report.Valid {
		return 1
	}
	return 0
}

func summarize(cfg *config.Config) checkReport {
	r := checkReport{Valid: true, Source: cfg.SourceFile, Graph: cfg.Graph.URI}

	switch cfg.Ledger.Driver {
	case "postgres":
		r.Ledger = "postgres"
	default:
		r.Ledger = "sqlite " + cfg.Ledger.Path
	}

	switch cfg.Queue.Transport {
	case "sqs":
		r.Transport = "sqs " + cfg.Queue.InboundURL
	default:
		r.Transport = "local " + cfg.Queue.Path
	}

	r.Cache = cfg.Cache.Backend
	if cfg.Cache.Backend != "none" {
		r.Cache = fmt.Sprintf("%s (ttl %s)", cfg.Cache.Backend, cfg.Cache.TTL)
	}

	r.API = "disabled"
	if cfg.API.Enabled {
		r.API = cfg.API.Listen
	}
	return r
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	masked := maskSecrets(*cfg)

	if *jsonOut {
		data, _ := json.MarshalIndent(masked, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(masked)
		fmt.Print(string(data))
	}
	return 0
}

func maskSecrets(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&cfg.Graph.Password)
	mask(&cfg.Ledger.DSN)
	mask(&cfg.Cache.URL)
	mask(&cfg.API.APIKey)
	return cfg
}
