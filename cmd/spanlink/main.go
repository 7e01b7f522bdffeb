package main

import (
	"fmt"
	"os"

	"github.com/mattjoyce/spanlink/internal/config"
)

const version = "0.3.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "system":
		return runSystemNoun(rest)
	case "job":
		return runJobNoun(rest)
	case "config":
		return runConfigNoun(rest)

	case "start":
		return runStart(rest)
	case "version":
		fmt.Printf("spanlink version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`spanlink - cross-text span alignment resolver

Usage:
  spanlink <noun> <action> [flags]

System Commands:
  system start               Run workers, sweeper, API and metrics in the foreground

Job Commands:
  job submit <text_id>       Resolve every segment of a text as one root job
  job status <job_id>        Show root job progress
  job tasks <job_id>         List segment tasks of a root job
  job relations <text_id>    Show relations of the text's latest completed job
  job watch <job_id>         Follow a root job in the terminal

Config Commands:
  config check               Validate configuration
  config show                Print the resolved configuration

General:
  version                    Show version information
  help                       Show this help message

Use 'spanlink <noun> help' for resource-specific flags.
`)
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: spanlink system start [--config PATH]")
			fmt.Println("Run batch workers, the sweeper, the API and the metrics listener until interrupted.")
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "submit":
		return runJobSubmit(actionArgs)
	case "status":
		return runJobStatus(actionArgs)
	case "tasks":
		return runJobTasks(actionArgs)
	case "relations":
		return runJobRelations(actionArgs)
	case "watch":
		return runJobWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: spanlink config check [--config PATH] [--json]")
			fmt.Println("Load and validate the configuration, then summarise the selected backends.")
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: spanlink config show [--config PATH] [--json]")
			fmt.Println("Print the configuration with defaults applied. Secrets are masked.")
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: spanlink system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: spanlink job <action> <id> [--config PATH] [--api URL] [--key KEY]")
	fmt.Fprintln(w, "Actions: submit, status, tasks, relations, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: spanlink config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

// loadConfig loads configPath, or the discovered config when it is empty.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}
