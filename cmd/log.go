package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/store"
)

var (
	rawLog     bool // show the raw service log instead of run history
	logProject string
	logLimit   int
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show run history or the raw service log",
	Long: `Lists a project's recent runs from the local store, newest first.
Use the --raw-log flag to page through the service log file instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if rawLog {
			return displayServiceLog(cfg.Logging.File)
		}

		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.Runs(context.Background(), logProject, logLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Printf("No runs recorded for project %s.\n", logProject)
			return nil
		}
		for _, r := range runs {
			outcome := r.Outcome
			if r.Reason != "" {
				outcome += " (" + r.Reason + ")"
			}
			fmt.Printf("%s  %s  %-8s %s  attempts=%d\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.ID, r.Mode, outcome, r.Attempts)
			fmt.Printf("    %s\n", firstLine(r.Prompt))
			for _, e := range r.Errors {
				fmt.Printf("    - %s\n", e)
			}
		}
		return nil
	},
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func init() {
	logCmd.Flags().BoolVar(&rawLog, "raw-log", false, "Display the raw service log file (logging.file)")
	logCmd.Flags().StringVarP(&logProject, "project", "p", "default", "project id")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(logCmd)
}

// displayServiceLog pages through the last lines of the service log.
func displayServiceLog(logFilePath string) error {
	file, err := os.Open(logFilePath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Log file not found at %s. No log entries yet.\n", logFilePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}

	if len(lines) == 0 {
		fmt.Println("Log file is empty.")
		return nil
	}

	const maxLinesToDisplay = 20000
	startIndex := 0
	if len(lines) > maxLinesToDisplay {
		startIndex = len(lines) - maxLinesToDisplay
	}
	displayLines := lines[startIndex:]

	// Paging only makes sense when someone can press Enter.
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	const linesPerChunk = 100
	currentLineIndex := 0
	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("Displaying last %d lines of %s (total %d lines available):\n", len(displayLines), logFilePath, len(lines))
	fmt.Println(strings.Repeat("=", 80))

	for currentLineIndex < len(displayLines) {
		endIndex := currentLineIndex + linesPerChunk
		if !interactive || endIndex > len(displayLines) {
			endIndex = len(displayLines)
		}

		for i := currentLineIndex; i < endIndex; i++ {
			fmt.Println(displayLines[i])
		}
		currentLineIndex = endIndex

		if currentLineIndex < len(displayLines) {
			fmt.Print("\nPress Enter to show more, or 'x' to exit: ")
			input, _ := reader.ReadString('\n')
			input = strings.TrimSpace(strings.ToLower(input))
			if input == "x" || input == "exit" {
				break
			}
		}
	}
	fmt.Println(strings.Repeat("=", 80))
	return nil
}
