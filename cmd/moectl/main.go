// Command moectl is a small CLI for operating a moebandit server: computing
// allocations, reporting outcomes, and managing experiments and API keys.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: moectl <command> [flags]

commands:
  allocate     compute an allocation for an experiment
  sample       compute an allocation and draw one arm
  outcome      report a trial outcome
  experiments  list, create, delete experiments or show stats
  stats        show service-wide outcome stats
  apikeys      list, create, rotate, revoke API keys
  history      query allocation and win-rate history
  admin-token  print the persisted admin token
  events       tail the server event stream

environment:
  MOEBANDIT_URL          server base URL (default http://localhost:8080)
  MOEBANDIT_ADMIN_TOKEN  token for admin commands
  MOEBANDIT_API_KEY      key for allocate/sample/outcome when auth is enabled
  MOEBANDIT_DB_DSN       used by admin-token to locate the data directory
`)
	os.Exit(2)
}

type client struct {
	baseURL    string
	adminToken string
	apiKey     string
	http       *http.Client
}

func newClient() *client {
	base := os.Getenv("MOEBANDIT_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &client{
		baseURL:    strings.TrimRight(base, "/"),
		adminToken: os.Getenv("MOEBANDIT_ADMIN_TOKEN"),
		apiKey:     os.Getenv("MOEBANDIT_API_KEY"),
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends a JSON request and pretty-prints the JSON response. admin selects
// which credential goes in the Authorization header.
func (c *client) do(method, path string, body any, admin bool) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case admin && c.adminToken != "":
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	case !admin && c.apiKey != "":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	c := newClient()

	var err error
	switch os.Args[1] {
	case "allocate":
		err = cmdAllocate(c, os.Args[2:], false)
	case "sample":
		err = cmdAllocate(c, os.Args[2:], true)
	case "outcome":
		err = cmdOutcome(c, os.Args[2:])
	case "experiments":
		err = cmdExperiments(c, os.Args[2:])
	case "stats":
		err = c.do(http.MethodGet, "/admin/v1/stats", nil, true)
	case "apikeys":
		err = cmdAPIKeys(c, os.Args[2:])
	case "history":
		err = cmdHistory(c, os.Args[2:])
	case "admin-token":
		err = cmdAdminToken()
	case "events":
		err = cmdEvents(c)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "moectl: %v\n", err)
		os.Exit(1)
	}
}

func cmdAllocate(c *client, args []string, sample bool) error {
	fs := flag.NewFlagSet("allocate", flag.ExitOnError)
	experiment := fs.String("experiment", "", "experiment ID")
	epsilon := fs.Float64("epsilon", -1, "epsilon override (omit to use server/experiment default)")
	_ = fs.Parse(args)

	if *experiment == "" {
		return fmt.Errorf("-experiment is required")
	}
	body := map[string]any{"experiment_id": *experiment}
	if *epsilon >= 0 {
		body["epsilon"] = *epsilon
	}
	path := "/v1/allocate"
	if sample {
		path = "/v1/sample"
	}
	return c.do(http.MethodPost, path, body, false)
}

func cmdOutcome(c *client, args []string) error {
	fs := flag.NewFlagSet("outcome", flag.ExitOnError)
	experiment := fs.String("experiment", "", "experiment ID")
	arm := fs.String("arm", "", "arm name")
	win := fs.Bool("win", false, "whether the trial succeeded")
	_ = fs.Parse(args)

	if *experiment == "" || *arm == "" {
		return fmt.Errorf("-experiment and -arm are required")
	}
	return c.do(http.MethodPost, "/v1/outcomes", map[string]any{
		"experiment_id": *experiment,
		"arm":           *arm,
		"win":           *win,
	}, false)
}

func cmdExperiments(c *client, args []string) error {
	if len(args) == 0 {
		return c.do(http.MethodGet, "/admin/v1/experiments", nil, true)
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return c.do(http.MethodGet, "/admin/v1/experiments", nil, true)
	case "create":
		fs := flag.NewFlagSet("experiments create", flag.ExitOnError)
		id := fs.String("id", "", "experiment ID")
		arms := fs.String("arms", "", "comma-separated arm names")
		epsilon := fs.Float64("epsilon", 0.1, "exploration fraction in [0, 1)")
		subtype := fs.String("subtype", "epsilon_greedy", "allocation policy subtype")
		_ = fs.Parse(rest)

		if *id == "" || *arms == "" {
			return fmt.Errorf("-id and -arms are required")
		}
		var armList []string
		for _, a := range strings.Split(*arms, ",") {
			if a = strings.TrimSpace(a); a != "" {
				armList = append(armList, a)
			}
		}
		return c.do(http.MethodPost, "/admin/v1/experiments", map[string]any{
			"id":      *id,
			"arms":    armList,
			"epsilon": *epsilon,
			"subtype": *subtype,
		}, true)
	case "delete":
		if len(rest) != 1 {
			return fmt.Errorf("usage: moectl experiments delete <id>")
		}
		return c.do(http.MethodDelete, "/admin/v1/experiments/"+rest[0], nil, true)
	case "stats":
		if len(rest) != 1 {
			return fmt.Errorf("usage: moectl experiments stats <id>")
		}
		return c.do(http.MethodGet, "/admin/v1/experiments/"+rest[0]+"/stats", nil, true)
	default:
		return fmt.Errorf("unknown experiments subcommand %q", sub)
	}
}

func cmdAPIKeys(c *client, args []string) error {
	if len(args) == 0 {
		return c.do(http.MethodGet, "/admin/v1/apikeys", nil, true)
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return c.do(http.MethodGet, "/admin/v1/apikeys", nil, true)
	case "create":
		fs := flag.NewFlagSet("apikeys create", flag.ExitOnError)
		name := fs.String("name", "", "key name")
		scopes := fs.String("scopes", "", `JSON scope array, e.g. ["allocate","outcomes"]`)
		expiresIn := fs.String("expires-in", "", "expiry duration, e.g. 720h")
		_ = fs.Parse(rest)

		if *name == "" {
			return fmt.Errorf("-name is required")
		}
		body := map[string]any{"name": *name}
		if *scopes != "" {
			body["scopes"] = *scopes
		}
		if *expiresIn != "" {
			body["expires_in"] = *expiresIn
		}
		return c.do(http.MethodPost, "/admin/v1/apikeys", body, true)
	case "rotate":
		if len(rest) != 1 {
			return fmt.Errorf("usage: moectl apikeys rotate <id>")
		}
		return c.do(http.MethodPost, "/admin/v1/apikeys/"+rest[0]+"/rotate", nil, true)
	case "revoke":
		if len(rest) != 1 {
			return fmt.Errorf("usage: moectl apikeys revoke <id>")
		}
		return c.do(http.MethodDelete, "/admin/v1/apikeys/"+rest[0], nil, true)
	default:
		return fmt.Errorf("unknown apikeys subcommand %q", sub)
	}
}

func cmdHistory(c *client, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	metric := fs.String("metric", "win_rate", "metric name (win_rate or allocation_prob)")
	experiment := fs.String("experiment", "", "filter by experiment ID")
	arm := fs.String("arm", "", "filter by arm")
	since := fs.Duration("since", 0, "window looking back from now, e.g. 24h")
	step := fs.Duration("step", 0, "downsample bucket size, e.g. 5m")
	_ = fs.Parse(args)

	q := url.Values{}
	q.Set("metric", *metric)
	if *experiment != "" {
		q.Set("experiment", *experiment)
	}
	if *arm != "" {
		q.Set("arm", *arm)
	}
	if *since > 0 {
		q.Set("start", time.Now().Add(-*since).UTC().Format(time.RFC3339))
	}
	if *step > 0 {
		q.Set("step_ms", fmt.Sprintf("%d", step.Milliseconds()))
	}
	return c.do(http.MethodGet, "/admin/v1/history/query?"+q.Encode(), nil, true)
}

// cmdAdminToken prints the token the server persisted next to its database.
func cmdAdminToken() error {
	dsn := os.Getenv("MOEBANDIT_DB_DSN")
	if dsn == "" {
		dsn = "file:/data/moebandit.sqlite"
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(path), ".admin-token"))
	if err != nil {
		return fmt.Errorf("read admin token: %w", err)
	}
	fmt.Println(strings.TrimSpace(string(data)))
	return nil
}

// cmdEvents tails the SSE stream until interrupted.
func cmdEvents(c *client) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/admin/v1/events", nil)
	if err != nil {
		return err
	}
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	// No client timeout: the stream is long-lived.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			fmt.Println(line)
		}
	}
	return scanner.Err()
}
