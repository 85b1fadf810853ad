package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect a session's checkpoint history",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List a session's checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsList,
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show <session-id> <seq>",
	Short: "Dump one checkpoint as JSON",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointsShow,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsShowCmd)
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	seqs, err := a.store.List(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(seqs) == 0 {
		fmt.Println(dimStyle.Render("no checkpoints"))
		return nil
	}

	rows := [][]string{{"SEQ", "NODE", "PHASE", "SUB-PROBLEM", "ROUND", "COST", "WRITTEN"}}
	for _, seq := range seqs {
		cp, err := a.store.Get(cmd.Context(), args[0], seq)
		if err != nil {
			rows = append(rows, []string{
				strconv.Itoa(seq), errStyle.Render("unreadable"), "", "", "", "", "",
			})
			continue
		}
		rows = append(rows, []string{
			strconv.Itoa(cp.Seq),
			cp.Node,
			string(cp.State.Phase),
			strconv.Itoa(cp.State.SubProblemIndex),
			strconv.Itoa(cp.State.Round),
			fmt.Sprintf("$%.4f", cp.State.TotalCost),
			cp.CreatedAt.Format("15:04:05"),
		})
	}
	fmt.Println(renderTable(rows))
	return nil
}

func runCheckpointsShow(cmd *cobra.Command, args []string) error {
	seq, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad sequence %q: %w", args[1], err)
	}

	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	cp, err := a.store.Get(cmd.Context(), args[0], seq)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cp)
}
