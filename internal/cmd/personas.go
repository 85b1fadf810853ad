package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quorumhq/quorum/internal/util"
)

var personasCmd = &cobra.Command{
	Use:   "personas [pattern...]",
	Short: "List the persona catalog",
	Long: `List the persona catalog, optionally filtered by archetype glob
patterns. Patterns are dot-separated, so "engineering.*" matches every
engineering persona while "*" alone matches only archetypes without a
dot.`,
	RunE: runPersonas,
}

func init() {
	rootCmd.AddCommand(personasCmd)
}

func runPersonas(cmd *cobra.Command, args []string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	codes := a.catalog.Codes()
	if len(args) > 0 {
		var err error
		codes, err = a.catalog.Match(args)
		if err != nil {
			return err
		}
	}
	if len(codes) == 0 {
		fmt.Println(dimStyle.Render("no personas match"))
		return nil
	}

	rows := [][]string{{"CODE", "NAME", "ARCHETYPE", "EXPERTISE"}}
	for _, code := range codes {
		p, ok := a.catalog.Get(code)
		if !ok {
			continue
		}
		rows = append(rows, []string{
			p.Code,
			p.Name,
			p.Archetype,
			util.Truncate(strings.Join(p.Expertise, ", "), 40),
		})
	}
	fmt.Println(renderTable(rows))
	return nil
}
