package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/monitor"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/session"
)

var (
	watchServer  string
	watchProject string
	watchPrompt  string
	watchMode    string
	watchFollow  bool
)

var (
	stageStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	fileStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 1)
)

var titleCaser = cases.Title(language.English)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a project's live event stream",
	Long: `Subscribes to a project on a running server and prints its events as they
arrive. With --prompt, a run is started over the same connection first.
Without --follow the command exits when the current run finishes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := serverAddr(cmd, watchServer)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := session.Dial(ctx, server, watchProject)
		if err != nil {
			return err
		}
		defer client.Close()

		if watchPrompt != "" {
			if err := client.Start(watchPrompt, watchMode); err != nil {
				return err
			}
		}

		styled := term.IsTerminal(int(os.Stdout.Fd()))
		state := session.NewState(watchProject)
		err = client.Follow(ctx, state, func(s *session.State, ev events.Event) bool {
			fmt.Println(renderEvent(ev, styled))
			if watchFollow {
				return true
			}
			// The failure log follows node_change FAILED.
			return !(s.Terminal() && (ev.Type == events.KindLog || s.Stage == string(types.StageSuccess)))
		})
		if err != nil && ctx.Err() == nil {
			return err
		}
		fmt.Println(renderSummary(state, styled))
		return nil
	},
}

// describeEvent renders ev as one unstyled line.
func describeEvent(ev events.Event) string {
	return renderEvent(ev, false)
}

func renderEvent(ev events.Event, styled bool) string {
	paint := func(st lipgloss.Style, s string) string {
		if !styled {
			return s
		}
		return st.Render(s)
	}

	switch ev.Type {
	case events.KindNodeChange:
		label := titleCaser.String(strings.ToLower(ev.Node))
		if ev.Node == string(types.StageFailed) {
			return paint(errStyle, "● "+label)
		}
		return paint(stageStyle, "● "+label)
	case events.KindFileCommit:
		return paint(fileStyle, fmt.Sprintf("  + %s (%d bytes)", ev.FileName, len(ev.Code)))
	case events.KindBuildStatus:
		line := "  build " + ev.Status
		if len(ev.Errors) > 0 {
			line += ": " + strings.Join(ev.Errors, "; ")
		}
		if ev.Status == string(monitor.StatusFail) {
			return paint(errStyle, line)
		}
		return paint(dimStyle, line)
	case events.KindPulseStatus:
		return paint(warnStyle, "  "+titleCaser.String(ev.Status)+" in progress")
	case events.KindAlert:
		return paint(errStyle, "  ! "+strings.ReplaceAll(ev.Status, "_", " ")+" tripped; automated repair halted")
	default:
		return paint(dimStyle, "  "+ev.Message)
	}
}

func renderSummary(s *session.State, styled bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "project %s", s.ProjectID)
	if s.Stage != "" {
		fmt.Fprintf(&b, "  stage %s", titleCaser.String(strings.ToLower(s.Stage)))
	}
	if s.Build != "" {
		fmt.Fprintf(&b, "  build %s", s.Build)
	}
	if s.CircuitOpen {
		b.WriteString("  circuit open")
	}
	for _, name := range s.FileNames() {
		fmt.Fprintf(&b, "\n  %s", name)
	}
	if !styled {
		return b.String()
	}
	return boxStyle.Render(b.String())
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "", "server address (default server.addr from config)")
	watchCmd.Flags().StringVarP(&watchProject, "project", "p", "default", "project id")
	watchCmd.Flags().StringVar(&watchPrompt, "prompt", "", "start a run with this prompt before watching")
	watchCmd.Flags().StringVarP(&watchMode, "mode", "m", "", "generation mode for --prompt: ui_plan or code")
	watchCmd.Flags().BoolVar(&watchFollow, "follow", false, "keep watching after the run finishes")
	rootCmd.AddCommand(watchCmd)
}
