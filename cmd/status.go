package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := serverAddr(cmd, statusServer)
		if err != nil {
			return err
		}
		var status struct {
			Operational bool     `json:"operational"`
			MaxRetries  int      `json:"max_retries"`
			TopK        int      `json:"top_k"`
			CorpusSize  int      `json:"corpus_size"`
			Allowed     []string `json:"allowed_component_types"`
			ActiveRuns  []struct {
				ID        string `json:"id"`
				ProjectID string `json:"project_id"`
				Stage     string `json:"stage"`
				Attempt   int    `json:"attempt"`
			} `json:"active_runs"`
		}
		if err := callAPI(cmd.Context(), http.MethodGet, server, "/api/status", nil, &status); err != nil {
			return err
		}

		fmt.Printf("Operational:      %t\n", status.Operational)
		fmt.Printf("Max retries:      %d\n", status.MaxRetries)
		fmt.Printf("Top k:            %d\n", status.TopK)
		fmt.Printf("Corpus documents: %d\n", status.CorpusSize)
		fmt.Printf("Component types:  %s\n", strings.Join(status.Allowed, ", "))
		if len(status.ActiveRuns) == 0 {
			fmt.Println("No active runs")
			return nil
		}
		fmt.Println("Active runs:")
		for _, r := range status.ActiveRuns {
			fmt.Printf("  %s  %s  %s (attempt %d)\n", r.ProjectID, r.ID, r.Stage, r.Attempt+1)
		}
		return nil
	},
}

// serverAddr returns flagValue, or server.addr from the config when unset.
func serverAddr(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Server.Addr, nil
}

// callAPI sends body as JSON and decodes the JSON response into out.
func callAPI(ctx context.Context, method, server, path string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	base := server
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(base, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "", "server address (default server.addr from config)")
	rootCmd.AddCommand(statusCmd)
}
