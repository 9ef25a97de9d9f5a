package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

var (
	generateProject string
	generateMode    string
	generateOutDir  string
	generateJSON    bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Run one generation in-process",
	Long: `Runs the full pipeline for a single prompt without starting the server and
prints the validated result. With --out, committed files are also written
under the given directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, cleanup, err := newLogger(cfg, false)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		sub := rt.bus.Subscribe(generateProject)
		defer sub.Close()
		go func() {
			for ev := range sub.Events() {
				if !generateJSON {
					fmt.Fprintln(os.Stderr, describeEvent(ev))
				}
			}
		}()

		res, err := rt.controller.Execute(ctx, orchestration.StartRequest{
			ProjectID: generateProject,
			Prompt:    strings.Join(args, " "),
			Mode:      types.Mode(generateMode),
		})
		if err != nil {
			var runErr *orchestration.RunError
			if errors.As(err, &runErr) && generateJSON {
				_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
					"success": false,
					"reason":  runErr.Reason,
					"errors":  runErr.Messages(),
				})
			}
			return err
		}

		if generateOutDir != "" {
			if err := writeFiles(generateOutDir, res.Files); err != nil {
				return err
			}
		}
		if generateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Println(res.Message)
		for _, f := range res.Files {
			fmt.Printf("  %s (%d bytes)\n", f.FileName, len(f.Code))
		}
		return nil
	},
}

// writeFiles materializes files under dir, refusing paths that escape it.
func writeFiles(dir string, files []types.CodeFile) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f.FileName))
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			return fmt.Errorf("refusing to write %s outside %s", f.FileName, dir)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(f.Code), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.FileName, err)
		}
	}
	return nil
}

func init() {
	generateCmd.Flags().StringVarP(&generateProject, "project", "p", "default", "project id")
	generateCmd.Flags().StringVarP(&generateMode, "mode", "m", string(types.ModeUIPlan), "generation mode: ui_plan or code")
	generateCmd.Flags().StringVarP(&generateOutDir, "out", "o", "", "directory to write generated files into")
	generateCmd.Flags().BoolVar(&generateJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(generateCmd)
}
