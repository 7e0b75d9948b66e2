// Command agentrtctl is the operator CLI for an agentrtd server: login,
// list/create/delete tools, clear a quarantined tool's bug state, and
// force a registry reload — all over the internal/httpapi REST surface.
// Grounded on the teacher's _teacher_ref/cobra_cli.go subcommand-tree
// shape (NewRootCommand + one newXCommand per resource), stripped of its
// interactive chat/TUI commands since this binary only drives the admin
// surface of a already-running server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentrtctl:", err)
		os.Exit(1)
	}
}

type cli struct {
	serverURL string
	token     string
	client    *http.Client
}

func newRootCommand() *cobra.Command {
	c := &cli{client: &http.Client{Timeout: 30 * time.Second}}
	v := viper.New()
	v.SetEnvPrefix("AGENTRTCTL")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "agentrtctl",
		Short:         "Operator CLI for an agentrtd server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			serverURL, _ := cmd.Flags().GetString("server")
			if serverURL == "" {
				serverURL = v.GetString("server")
			}
			if serverURL == "" {
				serverURL = "http://localhost:8080"
			}
			c.serverURL = serverURL
			c.token = v.GetString("token")
			return nil
		},
	}
	root.PersistentFlags().String("server", "", "agentrtd base URL (default http://localhost:8080, env AGENTRTCTL_SERVER)")

	root.AddCommand(newLoginCommand(c))
	root.AddCommand(newToolsCommand(c))
	root.AddCommand(newReloadCommand(c))
	return root
}

func newLoginCommand(c *cli) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and print a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Token     string    `json:"token"`
				ExpiresAt time.Time `json:"expires_at"`
			}
			if err := c.do("POST", "/api/auth/login", map[string]string{
				"username": username, "password": password,
			}, &out); err != nil {
				return err
			}
			fmt.Printf("token: %s\nexpires_at: %s\n", out.Token, out.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "admin username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "admin password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newToolsCommand(c *cli) *cobra.Command {
	tools := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and manage the tool catalog",
	}

	tools.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every registered tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := c.do("GET", "/api/tools", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	tools.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show available/unavailable tool counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := c.do("GET", "/api/registry/status", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	var deleteName string
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do("DELETE", "/api/tools/"+deleteName, nil, nil)
		},
	}
	deleteCmd.Flags().StringVarP(&deleteName, "name", "n", "", "tool name")
	_ = deleteCmd.MarkFlagRequired("name")
	tools.AddCommand(deleteCmd)

	var clearBugName string
	clearBugCmd := &cobra.Command{
		Use:   "clear-bug",
		Short: "Clear a tool's quarantine state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do("POST", "/api/tools/"+clearBugName+"/clear-bug", nil, nil)
		},
	}
	clearBugCmd.Flags().StringVarP(&clearBugName, "name", "n", "", "tool name")
	_ = clearBugCmd.MarkFlagRequired("name")
	tools.AddCommand(clearBugCmd)

	return tools
}

func newReloadCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Force the registry to reload from the tool store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do("POST", "/api/registry/reload", nil, nil)
		},
	}
}

func (c *cli) do(method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.serverURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func printJSON(raw json.RawMessage) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
