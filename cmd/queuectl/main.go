package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultAPIURL = "http://localhost:8080"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	apiURL := os.Getenv("MARKETPULSE_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	client := &httpClient{baseURL: apiURL, hc: &http.Client{Timeout: 15 * time.Second}}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "stats":
		err = client.stats()
	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		status := fs.String("status", "", "filter by job status")
		jobType := fs.String("type", "", "filter by job type")
		limit := fs.Int("limit", 50, "page size")
		offset := fs.Int("offset", 0, "page offset")
		fs.Parse(args)
		err = client.list(*status, *jobType, *limit, *offset)
	case "get":
		fs := flag.NewFlagSet("get", flag.ExitOnError)
		fs.Parse(args)
		err = client.idCommand(fs.Arg(0), "GET", "")
	case "retry":
		fs := flag.NewFlagSet("retry", flag.ExitOnError)
		fs.Parse(args)
		err = client.idCommand(fs.Arg(0), "POST", "retry")
	case "cancel":
		fs := flag.NewFlagSet("cancel", flag.ExitOnError)
		fs.Parse(args)
		err = client.idCommand(fs.Arg(0), "POST", "cancel")
	case "reset":
		fs := flag.NewFlagSet("reset", flag.ExitOnError)
		fs.Parse(args)
		err = client.idCommand(fs.Arg(0), "POST", "reset")
	case "delete":
		fs := flag.NewFlagSet("delete", flag.ExitOnError)
		fs.Parse(args)
		err = client.idCommand(fs.Arg(0), "DELETE", "")
	case "pause":
		err = client.post("/api/v1/queue/pause", nil)
	case "resume":
		err = client.post("/api/v1/queue/resume", nil)
	case "clear":
		fs := flag.NewFlagSet("clear", flag.ExitOnError)
		status := fs.String("status", "", "status to clear (required)")
		fs.Parse(args)
		if *status == "" {
			fmt.Fprintln(os.Stderr, "clear requires -status")
			os.Exit(2)
		}
		err = client.post(fmt.Sprintf("/api/v1/queue/clear?status=%s", *status), nil)
	case "enqueue":
		fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
		jobType := fs.String("type", "", "job type (required)")
		payload := fs.String("payload", "{}", "JSON payload")
		priority := fs.Int("priority", 0, "priority")
		delay := fs.Int("delay", 0, "delay in seconds")
		dedupKey := fs.String("dedup-key", "", "dedup key")
		maxAttempts := fs.Int("max-attempts", 0, "max attempts override")
		fs.Parse(args)
		if *jobType == "" {
			fmt.Fprintln(os.Stderr, "enqueue requires -type")
			os.Exit(2)
		}
		err = client.enqueue(*jobType, *payload, *priority, *delay, *dedupKey, *maxAttempts)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "queuectl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `queuectl: marketpulse queue control

Usage:
  queuectl stats
  queuectl list [-status=s] [-type=t] [-limit=n] [-offset=n]
  queuectl get <id>
  queuectl retry <id>
  queuectl cancel <id>
  queuectl reset <id>
  queuectl delete <id>
  queuectl pause
  queuectl resume
  queuectl clear -status=<status>
  queuectl enqueue -type=<job_type> [-payload='{}'] [-priority=n] [-delay=secs] [-dedup-key=k] [-max-attempts=n]

The API base URL is read from MARKETPULSE_API_URL (default http://localhost:8080).`)
}

type httpClient struct {
	baseURL string
	hc      *http.Client
}

func (c *httpClient) idCommand(id, method, action string) error {
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	path := fmt.Sprintf("/api/v1/queue/jobs/%s", id)
	if action != "" {
		path += "/" + action
	}
	return c.do(method, path, nil)
}

func (c *httpClient) stats() error {
	return c.do(http.MethodGet, "/api/v1/queue/stats", nil)
}

func (c *httpClient) list(status, jobType string, limit, offset int) error {
	q := fmt.Sprintf("?limit=%d&offset=%d", limit, offset)
	if status != "" {
		q += "&status=" + status
	}
	if jobType != "" {
		q += "&type=" + jobType
	}
	return c.do(http.MethodGet, "/api/v1/queue/jobs"+q, nil)
}

func (c *httpClient) post(path string, body io.Reader) error {
	return c.do(http.MethodPost, path, body)
}

func (c *httpClient) enqueue(jobType, payloadJSON string, priority, delay int, dedupKey string, maxAttempts int) error {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return fmt.Errorf("invalid -payload JSON: %w", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"job_type":      jobType,
		"payload":       payload,
		"priority":      priority,
		"delay_seconds": delay,
		"dedup_key":     dedupKey,
		"max_attempts":  maxAttempts,
	})
	if err != nil {
		return err
	}

	return c.do(http.MethodPost, "/api/v1/queue/jobs", bytes.NewReader(body))
}

func (c *httpClient) do(method, path string, body io.Reader) error {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
