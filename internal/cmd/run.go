package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/errors"
	"github.com/quorumhq/quorum/internal/event"
	"github.com/quorumhq/quorum/internal/session"
	"github.com/quorumhq/quorum/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run <problem-file>",
	Short: "Run a deliberation session",
	Long: `Run a deliberation session from a problem file and print the final
synthesis. The problem file is YAML:

  problem:
    id: billing
    description: Migrate the billing system off the monolith
    sub_problems:
      - id: data-model
        goal: Choose the target data model
        complexity: 6
        panel: [maria, ahmed]      # optional; selected from the catalog when omitted
      - id: cutover
        goal: Plan a zero-downtime cutover
        complexity: 7

Interrupting with Ctrl-C kills the session; a final checkpoint is still
written, so 'quorum resume' can pick it back up from the last completed
node.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runDryRun  bool
	runVerbose bool
	runOwner   string
)

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use the deterministic stub providers")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print per-round progress")
	runCmd.Flags().StringVar(&runOwner, "owner", "", "owner ID recorded on the session (default: current user)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	problem, err := loadProblemFile(args[0])
	if err != nil {
		return err
	}

	a, err := buildApp(runDryRun)
	if err != nil {
		return err
	}
	defer a.close()
	a.watchTuning()
	if runVerbose {
		subscribeProgress(a.engine.Bus())
	}

	owner := session.Actor{ID: ownerID()}
	id, err := a.manager.Start(cmd.Context(), owner, problem)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", labelStyle.Render("session"), id)

	return awaitSession(a, id, owner)
}

// awaitSession waits for the session to finish, translating Ctrl-C into
// an owner kill, then prints the outcome.
func awaitSession(a *app, id string, owner session.Actor) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	done := make(chan error, 1)
	go func() { done <- a.manager.Wait(context.Background(), id) }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-interrupts:
		fmt.Println(warnStyle.Render("interrupted, killing session"))
		if err := a.manager.Kill(id, owner, "interrupted from terminal"); err != nil {
			return err
		}
		waitErr = <-done
	}

	if errors.Is(waitErr, errors.ErrSessionPaused) {
		fmt.Println(warnStyle.Render("session paused; resume with: quorum resume " + id))
		return nil
	}

	cp, err := a.store.Latest(context.Background(), id)
	if err != nil {
		return fmt.Errorf("session finished but its checkpoint is unreadable: %w", err)
	}
	printOutcome(cp.State)

	if waitErr != nil {
		return fmt.Errorf("session %s: %w", id, waitErr)
	}
	return nil
}

func printOutcome(state *deliberation.OrchestrationState) {
	fmt.Println()
	switch state.Phase {
	case deliberation.PhaseComplete:
		fmt.Println(okStyle.Render("deliberation complete"))
	default:
		fmt.Printf("%s %s", errStyle.Render("deliberation ended:"), state.Phase)
		if state.FailureReason != "" {
			fmt.Printf(" (%s)", state.FailureReason)
		}
		fmt.Println()
	}

	for i, r := range state.Results {
		fmt.Println()
		fmt.Println(headerStyle.Render(fmt.Sprintf("%d. %s", i+1, util.FirstLine(r.Goal, 100))))
		fmt.Println(r.Synthesis)
		for _, v := range r.Votes {
			line := fmt.Sprintf("  %s: %s (%.2f)", v.PersonaCode, v.Decision, v.Confidence)
			fmt.Println(dimStyle.Render(line))
			for _, cond := range v.Conditions {
				fmt.Println(dimStyle.Render("    condition: " + cond))
			}
		}
	}

	if state.FinalSynthesis != "" && len(state.Results) > 1 {
		fmt.Println()
		fmt.Println(headerStyle.Render("Final synthesis"))
		fmt.Println(state.FinalSynthesis)
	}
	fmt.Println()
	fmt.Println(labelStyle.Render(fmt.Sprintf("cost $%.4f, %d tokens, %d steps",
		state.TotalCost, state.TotalTokens, state.Steps)))
}

// subscribeProgress prints one line per interesting engine event.
func subscribeProgress(bus *event.Bus) {
	bus.Subscribe("round.completed", func(ev event.Event) {
		if e, ok := ev.(event.RoundCompletedEvent); ok {
			fmt.Println(dimStyle.Render(fmt.Sprintf("[round %d] %s (%s)", e.Round, e.Speaker, e.Kind)))
		}
	})
	bus.Subscribe("convergence.evaluated", func(ev event.Event) {
		if e, ok := ev.(event.ConvergenceEvent); ok {
			line := fmt.Sprintf("[round %d] convergence %.2f novelty %.2f drift %.2f",
				e.Round, e.Convergence, e.Novelty, e.Drift)
			if e.EarlyStop {
				line += " -> converged"
			}
			fmt.Println(dimStyle.Render(line))
		}
	})
	bus.Subscribe("subproblem.completed", func(ev event.Event) {
		if e, ok := ev.(event.SubProblemCompletedEvent); ok {
			fmt.Println(okStyle.Render(fmt.Sprintf("sub-problem %s done ($%.4f)", e.SubProblemID, e.Cost)))
		}
	})
	bus.Subscribe("budget.exceeded", func(ev event.Event) {
		if e, ok := ev.(event.BudgetExceededEvent); ok {
			fmt.Println(warnStyle.Render(fmt.Sprintf("budget exhausted at $%.4f, forcing synthesis", e.Cost)))
		}
	})
}

// problemFile is the YAML shape of a problem definition.
type problemFile struct {
	Problem struct {
		ID          string `yaml:"id"`
		Description string `yaml:"description"`
		Context     string `yaml:"context"`
		SubProblems []struct {
			ID         string   `yaml:"id"`
			Goal       string   `yaml:"goal"`
			Context    string   `yaml:"context"`
			Complexity int      `yaml:"complexity"`
			DependsOn  []string `yaml:"depends_on"`
			Panel      []string `yaml:"panel"`
		} `yaml:"sub_problems"`
	} `yaml:"problem"`
}

func loadProblemFile(path string) (deliberation.Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return deliberation.Problem{}, fmt.Errorf("reading problem file: %w", err)
	}
	var pf problemFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return deliberation.Problem{}, fmt.Errorf("parsing problem file: %w", err)
	}

	problem := deliberation.Problem{
		ID:          pf.Problem.ID,
		Description: pf.Problem.Description,
		Context:     pf.Problem.Context,
	}
	for _, sp := range pf.Problem.SubProblems {
		problem.SubProblems = append(problem.SubProblems, deliberation.SubProblem{
			ID:         sp.ID,
			Goal:       sp.Goal,
			Context:    sp.Context,
			Complexity: sp.Complexity,
			DependsOn:  sp.DependsOn,
			Panel:      sp.Panel,
		})
	}
	if err := problem.Validate(); err != nil {
		return deliberation.Problem{}, fmt.Errorf("problem file %s: %w", path, err)
	}
	return problem, nil
}

func ownerID() string {
	if runOwner != "" {
		return runOwner
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}
