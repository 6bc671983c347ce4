package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/courier/internal/api"
)

// apiClient is the CLI's view of a running service.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(baseURL, apiKey string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// do sends body as JSON and decodes a 2xx or 409 response into out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		var e api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return resp.StatusCode, fmt.Errorf("%s", resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func apiFlags(fs *flag.FlagSet) (apiURL, apiKey *string) {
	apiURL = fs.String("api-url", defaultAPIURL, "Service API URL")
	apiKey = fs.String("api-key", os.Getenv(apiKeyEnv), "API bearer token (or "+apiKeyEnv+")")
	return apiURL, apiKey
}

func runCommandSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	var req api.CommandRequest
	fs.StringVar(&req.Type, "type", "", "Command type, e.g. fetch-timeline or get-note")
	fs.StringVar(&req.Account, "account", "", "Account the command runs against")
	fs.StringVar(&req.Timeline, "timeline", "", "Timeline for timeline commands")
	fs.StringVar(&req.EntityID, "id", "", "Target entity id")
	ids := fs.String("ids", "", "Comma-separated entity ids for batch commands")
	fs.StringVar(&req.Query, "query", "", "Search query")
	fs.StringVar(&req.Body, "body", "", "Note body for post-note")
	fs.BoolVar(&req.Manual, "manual", true, "Mark the command as manually launched")
	fs.BoolVar(&req.InForeground, "foreground", false, "Mark the command as a foreground request")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if req.Type == "" || req.Account == "" {
		fmt.Fprintln(os.Stderr, "Usage: courier command submit --type TYPE --account NAME [flags]")
		return 1
	}
	if *ids != "" {
		for _, id := range strings.Split(*ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.EntityIDs = append(req.EntityIDs, id)
			}
		}
	}

	var resp api.CommandResponse
	status, err := newAPIClient(*apiURL, *apiKey).do(context.Background(), http.MethodPost, "/commands", req, &resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Submit failed: %v\n", err)
		return 1
	}
	fmt.Printf("%s: command %d (%s)\n", resp.Outcome, resp.ID, resp.Key)
	if status == http.StatusConflict {
		return 2
	}
	return 0
}

func runCommandCancel(args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	account := fs.String("account", "", "Cancel commands for this account")
	typ := fs.String("type", "", "Cancel commands of this type")
	all := fs.Bool("all", false, "Cancel every queued command")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *account == "" && *typ == "" && !*all {
		fmt.Fprintln(os.Stderr, "Usage: courier command cancel (--account NAME | --type TYPE | --all)")
		return 1
	}

	q := url.Values{}
	if *account != "" {
		q.Set("account", *account)
	}
	if *typ != "" {
		q.Set("type", *typ)
	}
	if *all {
		q.Set("all", "true")
	}

	var resp api.CancelResponse
	if _, err := newAPIClient(*apiURL, *apiKey).do(context.Background(), http.MethodDelete, "/commands?"+q.Encode(), nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Cancel failed: %v\n", err)
		return 1
	}
	fmt.Printf("canceled %d command(s)\n", resp.Canceled)
	return 0
}
