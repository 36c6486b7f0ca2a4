package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/variable"
)

func newVariableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "var",
		Aliases: []string{"variables"},
		Short:   "Inspect and edit published variables",
	}

	cmd.AddCommand(newVariableListCmd())
	cmd.AddCommand(newVariableSetCmd())
	cmd.AddCommand(newVariableImportCmd())
	cmd.AddCommand(newVariableDeleteCmd())
	return cmd
}

func newVariableListCmd() *cobra.Command {
	var (
		configPath string
		changed    bool
	)

	cmd := &cobra.Command{
		Use:   "list <org>",
		Short: "List an organization's published variables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			vars, err := variable.Load(ctx, a.st, args[0])
			if err != nil {
				return err
			}
			names := make([]string, 0, len(vars))
			for name, v := range vars {
				if changed && !v.SourceChanged {
					continue
				}
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No variables found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVALUE\tSOURCE\tUPDATED\tFLAGS")
			for _, name := range names {
				v := vars[name]
				flags := "-"
				if v.SourceChanged {
					flags = "source-changed"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, truncate(v.Value, 40), v.Source, formatTime(&v.UpdatedAt), flags)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&changed, "changed", false, "only variables whose source changed")
	return cmd
}

// parseAssignments turns name=value arguments into an update map.
func parseAssignments(args []string) (map[string]string, error) {
	updates := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", arg)
		}
		updates[name] = value
	}
	return updates, nil
}

func printChanges(out io.Writer, changes []models.VariableChange) {
	if len(changes) == 0 {
		fmt.Fprintln(out, "No changes.")
		return
	}
	fmt.Fprintf(out, "%d change(s):\n", len(changes))
	for _, c := range changes {
		fmt.Fprintf(out, "  %s: %s -> %s\n", c.VariableName, deref(c.OldValue), deref(c.NewValue))
	}
}

func newVariableSetCmd() *cobra.Command {
	var configPath, actor string

	cmd := &cobra.Command{
		Use:   "set <org> <name=value>...",
		Short: "Set published variables by hand",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			changes, err := a.svc.UpdateVariables(ctx, args[0], actor, updates)
			if err != nil {
				return err
			}
			printChanges(cmd.OutOrStdout(), changes)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	addActorFlag(cmd, &actor)
	return cmd
}

func newVariableImportCmd() *cobra.Command {
	var configPath, actor string

	cmd := &cobra.Command{
		Use:   "import <org> <file.csv|->",
		Short: "Import published variables from a CSV file",
		Long: `Imports a CSV file whose header names the columns variable and value, and
optionally source_url. Use "-" to read from standard input.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			changes, err := a.svc.ImportCSV(ctx, args[0], actor, r)
			if err != nil {
				return err
			}
			printChanges(cmd.OutOrStdout(), changes)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	addActorFlag(cmd, &actor)
	return cmd
}

func newVariableDeleteCmd() *cobra.Command {
	var configPath, actor string

	cmd := &cobra.Command{
		Use:   "delete <org> <name>",
		Short: "Delete a published variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.DeleteVariable(ctx, args[0], actor, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[1])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	addActorFlag(cmd, &actor)
	return cmd
}
