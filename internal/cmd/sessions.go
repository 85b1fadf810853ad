package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/session"
	"github.com/quorumhq/quorum/internal/util"
)

// maxCellWidth keeps one runaway value from blowing up a whole table.
const maxCellWidth = 48

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage checkpointed sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions known to the checkpoint store",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and all its checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Remove sessions older than the configured checkpoint TTL",
	RunE:  runSessionsExpire,
}

var sessionsKillCmd = &cobra.Command{
	Use:   "kill <session-id>",
	Short: "Kill a session running in this process",
	Long: `Kill a running session, recording the actor and reason on its final
checkpoint. Sessions run inside the process that started them, so this
acts on the current process only; a deliberation in another terminal is
killed by interrupting it there.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsKill,
}

var sessionsKillAllCmd = &cobra.Command{
	Use:   "killall",
	Short: "Kill every session running in this process (admin)",
	RunE:  runSessionsKillAll,
}

var killReason string

func init() {
	sessionsKillCmd.Flags().StringVar(&killReason, "reason", "killed from terminal", "reason recorded on the session")
	sessionsKillAllCmd.Flags().StringVar(&killReason, "reason", "killed from terminal", "reason recorded on the sessions")
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsExpireCmd)
	sessionsCmd.AddCommand(sessionsKillCmd)
	sessionsCmd.AddCommand(sessionsKillAllCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	statuses, err := a.manager.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Println(dimStyle.Render("no sessions"))
		return nil
	}

	rows := [][]string{{"SESSION", "OWNER", "PHASE", "PROGRESS", "COST", "UPDATED"}}
	for _, s := range statuses {
		rows = append(rows, []string{
			s.SessionID,
			s.OwnerID,
			phaseLabel(s.Phase),
			fmt.Sprintf("%d/%d", s.SubProblemIndex, s.SubProblems),
			fmt.Sprintf("$%.4f", s.TotalCost),
			s.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	fmt.Println(renderTable(rows))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", okStyle.Render("deleted"), args[0])
	return nil
}

func runSessionsExpire(cmd *cobra.Command, args []string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	expired, err := a.store.Expire(cmd.Context())
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		fmt.Println(dimStyle.Render("nothing to expire"))
		return nil
	}
	for _, id := range expired {
		fmt.Printf("%s %s\n", okStyle.Render("expired"), id)
	}
	return nil
}

func runSessionsKill(cmd *cobra.Command, args []string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	actor := session.Actor{ID: ownerID(), Admin: true}
	if err := a.manager.Kill(args[0], actor, killReason); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", okStyle.Render("killed"), args[0])
	return nil
}

func runSessionsKillAll(cmd *cobra.Command, args []string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	actor := session.Actor{ID: ownerID(), Admin: true}
	killed, err := a.manager.KillAll(actor, killReason)
	if err != nil {
		return err
	}
	if killed == 0 {
		fmt.Println(dimStyle.Render("no running sessions"))
		return nil
	}
	fmt.Printf("%s %d session(s)\n", okStyle.Render("killed"), killed)
	return nil
}

func phaseLabel(p deliberation.Phase) string {
	switch p {
	case deliberation.PhaseComplete:
		return okStyle.Render(string(p))
	case deliberation.PhaseFailed, deliberation.PhaseKilled, deliberation.PhaseTimeout:
		return errStyle.Render(string(p))
	default:
		return warnStyle.Render(string(p))
	}
}

// renderTable lays out rows with padded columns, header styled.
func renderTable(rows [][]string) string {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			row[i] = util.TruncateANSI(cell, maxCellWidth)
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	for r, row := range rows {
		for i, cell := range row {
			pad := widths[i] - lipgloss.Width(cell)
			if r == 0 {
				cell = headerStyle.Render(cell)
			}
			sb.WriteString(cell)
			if i < len(row)-1 {
				sb.WriteString(strings.Repeat(" ", pad+2))
			}
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
