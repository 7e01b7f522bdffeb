package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/spanlink/internal/tui/watch"
)

// apiTarget is where job commands send their requests.
type apiTarget struct {
	baseURL string
	key     string
}

// parseJobArgs accepts the id before or after the flags, as in
// 'spanlink job status <id> --api http://host:8080'.
func parseJobArgs(name string, args []string) (string, apiTarget, bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api", "", "API base URL (defaults to http://<api.listen>)")
	apiKey := fs.String("key", "", "API key (defaults to api.api_key)")

	var id string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		id, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", apiTarget{}, false
	}
	if id == "" && fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if id == "" {
		fmt.Fprintf(os.Stderr, "Usage: spanlink job %s <id> [--config PATH] [--api URL] [--key KEY]\n", name)
		return "", apiTarget{}, false
	}

	target := apiTarget{baseURL: *apiURL, key: *apiKey}
	if target.baseURL == "" || target.key == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
			return "", apiTarget{}, false
		}
		if target.baseURL == "" {
			target.baseURL = "http://" + cfg.API.Listen
		}
		if target.key == "" {
			target.key = cfg.API.APIKey
		}
	}
	target.baseURL = strings.TrimRight(target.baseURL, "/")
	return id, target, true
}

func (t apiTarget) do(method, path string) (int, []byte, error) {
	req, err := http.NewRequest(method, t.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.key)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

// request performs one call and prints the indented JSON response.
func (t apiTarget) request(method, path string, okStatus int) int {
	status, body, err := t.do(method, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") != nil {
		pretty.Reset()
		pretty.Write(body)
	}

	if status != okStatus {
		fmt.Fprintf(os.Stderr, "%d %s\n%s", status, http.StatusText(status), pretty.String())
		return 1
	}
	fmt.Print(pretty.String())
	return 0
}

func runJobSubmit(args []string) int {
	textID, target, ok := parseJobArgs("submit", args)
	if !ok {
		return 1
	}
	return target.request(http.MethodPost, "/texts/"+url.PathEscape(textID)+"/jobs", http.StatusAccepted)
}

func runJobStatus(args []string) int {
	jobID, target, ok := parseJobArgs("status", args)
	if !ok {
		return 1
	}
	return target.request(http.MethodGet, "/jobs/"+url.PathEscape(jobID), http.StatusOK)
}

func runJobTasks(args []string) int {
	jobID, target, ok := parseJobArgs("tasks", args)
	if !ok {
		return 1
	}
	return target.request(http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/tasks", http.StatusOK)
}

func runJobRelations(args []string) int {
	textID, target, ok := parseJobArgs("relations", args)
	if !ok {
		return 1
	}
	return target.request(http.MethodGet, "/texts/"+url.PathEscape(textID)+"/relations", http.StatusOK)
}

func runJobWatch(args []string) int {
	jobID, target, ok := parseJobArgs("watch", args)
	if !ok {
		return 1
	}

	final, err := tea.NewProgram(*watch.New(target.baseURL, target.key, jobID)).Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	if m, ok := final.(watch.Model); ok {
		if job := m.Job(); job != nil && job.Status == "FAILED" {
			return 2
		}
	}
	return 0
}

