package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quorumhq/quorum/internal/session"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused or interrupted session",
	Long: `Resume a session from its latest checkpoint and run it to completion
in this process. With --seq, the session is rewound and re-executed
from that historical checkpoint instead; existing checkpoints are never
modified, the re-execution appends new ones.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var (
	resumeSeq     int
	resumeDryRun  bool
	resumeVerbose bool
)

func init() {
	resumeCmd.Flags().IntVar(&resumeSeq, "seq", 0, "rewind to this checkpoint sequence instead of the latest")
	resumeCmd.Flags().BoolVar(&resumeDryRun, "dry-run", false, "use the deterministic stub providers")
	resumeCmd.Flags().BoolVarP(&resumeVerbose, "verbose", "v", false, "print per-round progress")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	a, err := buildApp(resumeDryRun)
	if err != nil {
		return err
	}
	defer a.close()
	a.watchTuning()
	if resumeVerbose {
		subscribeProgress(a.engine.Bus())
	}

	// The local CLI resumes as admin: the process owns its own store.
	actor := session.Actor{ID: ownerID(), Admin: true}
	if resumeSeq > 0 {
		err = a.manager.Rewind(cmd.Context(), id, resumeSeq, actor)
	} else {
		err = a.manager.Resume(cmd.Context(), id, actor)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", labelStyle.Render("resumed"), id)

	return awaitSession(a, id, actor)
}
