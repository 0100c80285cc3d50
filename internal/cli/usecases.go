package cli

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/agentflow/pkg/usecase"
)

var usecasesCmd = &cobra.Command{
	Use:   "usecases",
	Short: "Work with use case libraries",
}

var usecasesInspectCmd = &cobra.Command{
	Use:   "inspect [dir]",
	Short: "Parse a use case directory and list what it defines",
	Long: `Parse every use case file of a directory (default is flow.use_case_dir
of the config) and list ids, versions, references and tool functions.
References to unknown use cases fail the command.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUsecasesInspect,
}

func init() {
	usecasesCmd.AddCommand(usecasesInspectCmd)
	rootCmd.AddCommand(usecasesCmd)
}

func runUsecasesInspect(cmd *cobra.Command, args []string) error {
	var dir string
	if len(args) == 1 {
		dir = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.Flow.UseCaseDir
	}
	if dir == "" {
		return fmt.Errorf("no use case directory given")
	}

	library, err := usecase.NewLibrary(dir, zerolog.Nop())
	if err != nil {
		return err
	}
	set := library.Set()

	out := cmd.OutOrStdout()
	var missing []string
	for _, u := range set {
		kind := "UseCase"
		if u.SubUseCase {
			kind = "Case"
		}
		fmt.Fprintf(out, "%s %s", kind, u.ID)
		if u.Version != "" {
			fmt.Fprintf(out, " v%s", u.Version)
		}
		fmt.Fprintln(out)

		if u.Description != "" {
			fmt.Fprintf(out, "  description: %s\n", u.Description)
		}
		if len(u.Conditions) > 0 {
			fmt.Fprintf(out, "  conditions: %s\n", strings.Join(u.Conditions, ", "))
		}
		if u.ExecutionLimit > 0 {
			fmt.Fprintf(out, "  execution limit: %d\n", u.ExecutionLimit)
		}
		if refs := u.References(); len(refs) > 0 {
			fmt.Fprintf(out, "  references: %s\n", strings.Join(refs, ", "))
			for _, ref := range refs {
				if _, ok := set.Find(ref); !ok {
					missing = append(missing, u.ID+" -> "+ref)
				}
			}
		}
		if fns := u.Functions(); len(fns) > 0 {
			fmt.Fprintf(out, "  functions: %s\n", strings.Join(fns, ", "))
		}
	}
	fmt.Fprintf(out, "%d use cases\n", len(set))

	if len(missing) > 0 {
		return fmt.Errorf("unknown use case references: %s", strings.Join(missing, "; "))
	}
	return nil
}
