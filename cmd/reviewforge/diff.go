package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain/diff"
	"github.com/Strob0t/ReviewForge/internal/service"
)

type diffFlags struct {
	granularity string
	asJSON      bool
	noColor     bool
}

func newDiffCmd(collect func() config.CLIFlags) *cobra.Command {
	var f diffFlags
	cmd := &cobra.Command{
		Use:   "diff <before> <after>",
		Short: "Compute the structured changes between two draft files",
		Long: `Compute the structured changes between two draft files using the
configured diff engine. Pass "-" to read one side from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, closer, err := loadConfig(collect)
			if err != nil {
				return err
			}
			defer closer.Close()

			opts := service.DiffOptionsFrom(cfg.Diff)
			if f.granularity != "" {
				opts.Granularity = diff.Granularity(f.granularity)
			}
			before, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			after, err := readInput(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}

			res, err := diff.NewEngine(opts).Compute(before, after)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if f.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					diff.Result
					Stats diff.Stats `json:"stats"`
				}{res, res.Summarize()})
			}
			color.NoColor = f.noColor || !isTerminal(out)
			printChanges(out, res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.granularity, "granularity", "g", "", "sentence or line (default from config)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the change list as JSON")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "disable colored output")
	return cmd
}

func readInput(stdin io.Reader, name string) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var (
	addColor    = color.New(color.FgGreen)
	deleteColor = color.New(color.FgRed)
	modifyColor = color.New(color.FgYellow)
	moveColor   = color.New(color.FgCyan)
	majorColor  = color.New(color.Bold)
)

func printChanges(w io.Writer, res diff.Result) {
	if res.Empty() {
		fmt.Fprintln(w, "no changes")
		return
	}
	for _, c := range res.Changes {
		sev := string(c.Severity)
		if c.Severity == diff.SeverityMajor {
			sev = majorColor.Sprint(sev)
		}
		switch c.Kind {
		case diff.KindAdd:
			fmt.Fprintf(w, "%s %s [%s]\n", addColor.Sprint("+"), addColor.Sprint(oneLine(c.After)), sev)
		case diff.KindDelete:
			fmt.Fprintf(w, "%s %s [%s]\n", deleteColor.Sprint("-"), deleteColor.Sprint(oneLine(c.Before)), sev)
		case diff.KindModify:
			fmt.Fprintf(w, "%s %s\n  %s %s [%s, similarity %.2f]\n",
				deleteColor.Sprint("-"), deleteColor.Sprint(oneLine(c.Before)),
				modifyColor.Sprint("~"), modifyColor.Sprint(oneLine(c.After)),
				sev, c.Similarity)
		case diff.KindMove:
			fmt.Fprintf(w, "%s %s (%d -> %d) [%s]\n", moveColor.Sprint(">"), moveColor.Sprint(oneLine(c.After)),
				c.Location.Before.Start, c.Location.After.Start, sev)
		}
	}
	s := res.Summarize()
	fmt.Fprintf(w, "\n%d added, %d deleted, %d modified, %d moved (%d major, %d minor)\n",
		s.Adds, s.Deletes, s.Modifies, s.Moves, s.Major, s.Minor)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
