package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/spanlink/internal/api"
	"github.com/mattjoyce/spanlink/internal/events"
)

type eventMsg events.Event

type jobMsg api.JobResponse

type healthMsg api.HealthzResponse

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents streams /events for one root job into ch. Returns
// sseDisconnectedMsg when the connection drops.
func subscribeToEvents(apiURL, apiKey, rootJobID string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events?root_job_id="+url.QueryEscape(rootJobID), nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("events: %s", resp.Status))
		}

		scanner := bufio.NewScanner(resp.Body)
		var current events.Event
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if len(current.Data) > 0 {
					current.RootJobID = rootJobID
					current.At = time.Now()
					ch <- current
				}
				current = events.Event{}
			case strings.HasPrefix(line, "id: "):
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					current.ID = id
				}
			case strings.HasPrefix(line, "event: "):
				current.Type = line[7:]
			case strings.HasPrefix(line, "data: "):
				current.Data = json.RawMessage(line[6:])
			}
		}
		return sseDisconnectedMsg{}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchJob reads the root job's progress from GET /jobs/{id}.
func fetchJob(apiURL, apiKey, jobID string) tea.Msg {
	var job api.JobResponse
	if err := getJSON(apiURL+"/jobs/"+url.PathEscape(jobID), apiKey, &job); err != nil {
		return errMsg(err)
	}
	return jobMsg(job)
}

func fetchHealth(apiURL, apiKey string) tea.Msg {
	var h api.HealthzResponse
	if err := getJSON(apiURL+"/healthz", apiKey, &h); err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

func getJSON(target, apiKey string, out any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
