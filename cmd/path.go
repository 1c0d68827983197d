package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/learnpath"
)

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Build and follow ordered learning paths",
}

var pathBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a path for a subject and grade, or advance the active one",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		subject, _ := cmd.Flags().GetString("subject")
		grade, _ := cmd.Flags().GetInt("grade")

		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		p, built, err := a.engine.BuildOrAdvancePath(cmd.Context(), user, subject, grade)
		if err != nil {
			return err
		}
		if built {
			fmt.Fprintf(cmd.OutOrStdout(), "Built path %s\n\n", p.ID)
		}
		printPath(cmd.OutOrStdout(), a.engine.Graph(), p)
		return nil
	},
}

var pathAdvanceCmd = &cobra.Command{
	Use:   "advance <path-id>",
	Short: "Move a path's step pointer past mastered points",
	Args:  cobra.ExactArgs(1),
	RunE: pathAction(func(pl *learnpath.Planner, cmd *cobra.Command, user, id string) (learnpath.Path, error) {
		return pl.Advance(cmd.Context(), user, id)
	}),
}

var pathPauseCmd = &cobra.Command{
	Use:   "pause <path-id>",
	Short: "Pause an active path",
	Args:  cobra.ExactArgs(1),
	RunE: pathAction(func(pl *learnpath.Planner, cmd *cobra.Command, user, id string) (learnpath.Path, error) {
		return pl.Pause(cmd.Context(), user, id)
	}),
}

var pathResumeCmd = &cobra.Command{
	Use:   "resume <path-id>",
	Short: "Resume a paused path",
	Args:  cobra.ExactArgs(1),
	RunE: pathAction(func(pl *learnpath.Planner, cmd *cobra.Command, user, id string) (learnpath.Path, error) {
		return pl.Resume(cmd.Context(), user, id)
	}),
}

var pathShowCmd = &cobra.Command{
	Use:   "show [path-id]",
	Short: "Show one path, or list every path of the learner",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		w := cmd.OutOrStdout()
		if len(args) == 1 {
			p, err := a.engine.Paths().Get(cmd.Context(), user, args[0])
			if err != nil {
				return err
			}
			printPath(w, a.engine.Graph(), p)
			return nil
		}

		paths, err := a.engine.Paths().List(cmd.Context(), user)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Fprintln(w, "No learning paths yet. Run 'learnengine path build'.")
			return nil
		}
		t := newTable(w, "ID", "Subject", "Grade", "Step", "Progress", "Status", "Updated")
		for _, p := range paths {
			t.Append([]string{
				p.ID,
				p.Subject,
				strconv.Itoa(p.Grade),
				fmt.Sprintf("%d/%d", p.CurrentStep, p.TotalSteps),
				strconv.Itoa(p.Progress) + "%",
				string(p.Status),
				formatTime(p.UpdatedAt),
			})
		}
		t.Render()
		return nil
	},
}

type pathFunc func(pl *learnpath.Planner, cmd *cobra.Command, user, id string) (learnpath.Path, error)

// pathAction wraps a single-path transition with app setup and output.
func pathAction(fn pathFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := fn(a.engine.Paths(), cmd, user, args[0])
		if err != nil {
			return err
		}
		printPath(cmd.OutOrStdout(), a.engine.Graph(), p)
		return nil
	}
}

func printPath(w io.Writer, g *knowledge.Graph, p learnpath.Path) {
	fmt.Fprintf(w, "%s grade %d: step %d of %d, %d%% (%s)\n\n",
		p.Subject, p.Grade, p.CurrentStep, p.TotalSteps, p.Progress, p.Status)

	t := newTable(w, "#", "", "Knowledge point", "Name")
	for i, id := range p.KnowledgePoints {
		mark := " "
		switch {
		case i < p.CurrentStep:
			mark = "✓"
		case i == p.CurrentStep:
			mark = "▶"
		}
		name := ""
		if kp, err := g.Get(id); err == nil {
			name = kp.Name
		}
		t.Append([]string{strconv.Itoa(i + 1), mark, id, truncate(name, 40)})
	}
	t.Render()
}

func init() {
	pathCmd.PersistentFlags().String("user", "", "Learner id (required)")
	_ = pathCmd.MarkPersistentFlagRequired("user")

	pathBuildCmd.Flags().String("subject", "math", "Subject")
	pathBuildCmd.Flags().Int("grade", 3, "Grade")

	pathCmd.AddCommand(pathBuildCmd)
	pathCmd.AddCommand(pathAdvanceCmd)
	pathCmd.AddCommand(pathPauseCmd)
	pathCmd.AddCommand(pathResumeCmd)
	pathCmd.AddCommand(pathShowCmd)
}
