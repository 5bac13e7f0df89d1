package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// apiClient talks to a running control plane's admin API.
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient(cmd *cobra.Command) *apiClient {
	addr, _ := cmd.Flags().GetString("addr")
	return &apiClient{
		base:   "http://" + addr,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) get(path string, params url.Values) (json.RawMessage, error) {
	u := c.base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	resp, err := c.client.Get(u)
	if err != nil {
		return nil, fmt.Errorf("control plane unreachable: %v", err)
	}
	return c.decode(resp)
}

func (c *apiClient) post(path string, body interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("control plane unreachable: %v", err)
	}
	return c.decode(resp)
}

func (c *apiClient) decode(resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s", e.Error)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return json.RawMessage(data), nil
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

func addAddrFlag(cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.Flags().String("addr", "127.0.0.1:8440", "Admin API address of the running control plane")
	}
}

var resolveCmd = &cobra.Command{
	Use:   "resolve DOMAIN KEY",
	Short: "Show the active candidate for a plug point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newAPIClient(cmd).get("/v1/resolve", url.Values{
			"domain": {args[0]},
			"key":    {args[1]},
		})
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
}

var explainCmd = &cobra.Command{
	Use:   "explain DOMAIN KEY",
	Short: "Explain why the active candidate won",
	Long: `Explain reports every candidate considered for a plug point, the
winner, and the precedence rule that decided it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newAPIClient(cmd).get("/v1/explain", url.Values{
			"domain": {args[0]},
			"key":    {args[1]},
		})
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
	Args: cobra.ExactArgs(2),
}

var candidatesCmd = &cobra.Command{
	Use:     "candidates DOMAIN [KEY]",
	Aliases: []string{"list"},
	Short:   "List candidates for a plug point, or a whole domain",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := url.Values{"domain": {args[0]}}
		if len(args) == 2 {
			params.Set("key", args[1])
		}
		raw, err := newAPIClient(cmd).get("/v1/candidates", params)
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the health of every live instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		probe, _ := cmd.Flags().GetBool("probe")
		params := url.Values{}
		if probe {
			params.Set("probe", "true")
		}
		raw, err := newAPIClient(cmd).get("/healthz", params)
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
}

var swapCmd = &cobra.Command{
	Use:   "swap DOMAIN KEY",
	Short: "Hot-swap the live instance for a plug point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		force, _ := cmd.Flags().GetBool("force")

		raw, err := newAPIClient(cmd).post("/v1/swap", map[string]interface{}{
			"domain":   args[0],
			"key":      args[1],
			"provider": provider,
			"force":    force,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Swapped %s/%s\n", args[0], args[1])
		printJSON(raw)
		return nil
	},
}

func activityCommand(verb, short string, withNote bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " DOMAIN KEY",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"domain": args[0],
				"key":    args[1],
			}
			if withNote {
				note, _ := cmd.Flags().GetString("note")
				body["note"] = note
			}
			raw, err := newAPIClient(cmd).post("/v1/"+verb, body)
			if err != nil {
				return err
			}
			fmt.Printf("✓ %s %s/%s\n", verb, args[0], args[1])
			printJSON(raw)
			return nil
		},
	}
	if withNote {
		cmd.Flags().String("note", "", "Operator note recorded with the state change")
	}
	return cmd
}

var (
	pauseCmd   = activityCommand("pause", "Pause a plug point (swaps defer until resumed)", true)
	resumeCmd  = activityCommand("resume", "Resume a paused plug point", false)
	drainCmd   = activityCommand("drain", "Drain a plug point before maintenance", true)
	undrainCmd = activityCommand("undrain", "Clear a plug point's draining state", false)
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup DOMAIN KEY",
	Short: "Clean up and destroy the live instance for a plug point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := newAPIClient(cmd).post("/v1/cleanup", map[string]interface{}{
			"domain": args[0],
			"key":    args[1],
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Cleaned up %s/%s\n", args[0], args[1])
		return nil
	},
}

func init() {
	addAddrFlag(resolveCmd, explainCmd, candidatesCmd, healthCmd,
		swapCmd, pauseCmd, resumeCmd, drainCmd, undrainCmd, cleanupCmd)

	healthCmd.Flags().Bool("probe", false, "Probe every instance instead of reporting cached verdicts")
	swapCmd.Flags().String("provider", "", "Pin the swap to a specific provider")
	swapCmd.Flags().Bool("force", false, "Swap even if unchanged or failing health checks")
}
