package cmd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/monitor"
)

var (
	buildServer  string
	buildProject string
	buildStatus  string
	buildErrors  []string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Report build results or restart a project's circuit breaker",
}

var buildReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report the result of building a project's generated output",
	Long: `Sends a build result to the monitor. Consecutive failures emit healing
pulses until the circuit breaker threshold is reached.

  ryze build report -p shop --status FAIL --error "TS2304: Cannot find name 'Foo'"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := monitor.ParseStatus(buildStatus)
		if err != nil {
			return err
		}
		server, err := serverAddr(cmd, buildServer)
		if err != nil {
			return err
		}
		var snap monitor.Snapshot
		body := map[string]any{"status": status, "errors": buildErrors}
		if err := callAPI(cmd.Context(), http.MethodPost, server, projectPath(buildProject, "build"), body, &snap); err != nil {
			return err
		}
		printSnapshot(snap)
		return nil
	},
}

var buildRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Reset a project's failure counter and circuit breaker",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := serverAddr(cmd, buildServer)
		if err != nil {
			return err
		}
		var snap monitor.Snapshot
		if err := callAPI(cmd.Context(), http.MethodPost, server, projectPath(buildProject, "restart"), nil, &snap); err != nil {
			return err
		}
		printSnapshot(snap)
		return nil
	},
}

func projectPath(projectID, action string) string {
	return "/api/projects/" + url.PathEscape(projectID) + "/" + action
}

func printSnapshot(s monitor.Snapshot) {
	fmt.Printf("Project:              %s\n", s.ProjectID)
	fmt.Printf("Build:                %s\n", s.Build.Status)
	fmt.Printf("Consecutive failures: %d\n", s.ConsecutiveFailures)
	fmt.Printf("Circuit open:         %t\n", s.CircuitOpen)
}

func init() {
	buildCmd.PersistentFlags().StringVar(&buildServer, "server", "", "server address (default server.addr from config)")
	buildCmd.PersistentFlags().StringVarP(&buildProject, "project", "p", "default", "project id")
	buildReportCmd.Flags().StringVar(&buildStatus, "status", "", "build status: running, PASS or FAIL")
	buildReportCmd.Flags().StringArrayVar(&buildErrors, "error", nil, "build error message (repeatable)")
	_ = buildReportCmd.MarkFlagRequired("status")

	buildCmd.AddCommand(buildReportCmd)
	buildCmd.AddCommand(buildRestartCmd)
	rootCmd.AddCommand(buildCmd)
}
