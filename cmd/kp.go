package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
)

var kpCmd = &cobra.Command{
	Use:   "kp",
	Short: "Browse the knowledge-point catalog",
}

var kpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge points (optionally filtered by subject and grade)",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		grade, _ := cmd.Flags().GetInt("grade")

		graph, err := catalog(cmd)
		if err != nil {
			return err
		}

		var points []knowledge.KnowledgePoint
		switch {
		case grade != 0 && subject == "":
			return fmt.Errorf("--grade needs --subject")
		case subject != "" && grade != 0:
			points = graph.BySubjectGrade(subject, grade)
		case subject != "":
			for _, p := range graph.Points() {
				if p.Subject == subject {
					points = append(points, p)
				}
			}
		default:
			points = graph.Points()
		}
		if len(points) == 0 {
			return fmt.Errorf("no knowledge points for subject %q grade %d (subjects: %s)",
				subject, grade, strings.Join(graph.Subjects(), ", "))
		}

		printPoints(cmd, points)
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d knowledge points\n", len(points))
		return nil
	},
}

var kpShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a knowledge point with its prerequisite chain and children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		graph, err := catalog(cmd)
		if err != nil {
			return err
		}
		p, err := graph.Get(args[0])
		if err != nil {
			return err
		}
		ancestors, _ := graph.Ancestors(p.ID)
		children, _ := graph.Children(p.ID)

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "ID:          %s\n", p.ID)
		fmt.Fprintf(w, "Name:        %s\n", p.Name)
		fmt.Fprintf(w, "Subject:     %s (grade %d)\n", p.Subject, p.Grade)
		fmt.Fprintf(w, "Difficulty:  %d\n", p.Difficulty)
		if len(p.Tags) > 0 {
			fmt.Fprintf(w, "Tags:        %s\n", strings.Join(p.Tags, ", "))
		}
		if len(p.RelatedIDs) > 0 {
			fmt.Fprintf(w, "Related:     %s\n", strings.Join(p.RelatedIDs, ", "))
		}

		chain := make([]string, 0, len(ancestors))
		for i := len(ancestors) - 1; i >= 0; i-- {
			chain = append(chain, ancestors[i].ID)
		}
		if len(chain) == 0 {
			fmt.Fprintln(w, "Requires:    (root topic)")
		} else {
			fmt.Fprintf(w, "Requires:    %s\n", strings.Join(chain, " → "))
		}
		if len(children) > 0 {
			fmt.Fprintln(w, "\nUnlocks:")
			printPoints(cmd, children)
		}
		return nil
	},
}

var kpOrderCmd = &cobra.Command{
	Use:   "order",
	Short: "Print the study order of a subject and grade",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		grade, _ := cmd.Flags().GetInt("grade")

		graph, err := catalog(cmd)
		if err != nil {
			return err
		}
		order := graph.TopologicalOrder(subject, grade)
		if len(order) == 0 {
			return fmt.Errorf("no knowledge points for subject %q grade %d", subject, grade)
		}

		t := newTable(cmd.OutOrStdout(), "#", "ID", "Name", "Diff", "Requires")
		for i, p := range order {
			parent := p.ParentID
			if parent == "" {
				parent = "-"
			}
			t.Append([]string{strconv.Itoa(i + 1), p.ID, truncate(p.Name, 40), strconv.Itoa(p.Difficulty), parent})
		}
		t.Render()
		return nil
	},
}

func printPoints(cmd *cobra.Command, points []knowledge.KnowledgePoint) {
	t := newTable(cmd.OutOrStdout(), "ID", "Name", "Subject", "Grade", "Diff", "Parent")
	for _, p := range points {
		parent := p.ParentID
		if parent == "" {
			parent = "-"
		}
		t.Append([]string{p.ID, truncate(p.Name, 40), p.Subject, strconv.Itoa(p.Grade), strconv.Itoa(p.Difficulty), parent})
	}
	t.Render()
}

// catalog loads the configured knowledge graph without touching the database.
func catalog(cmd *cobra.Command) (*knowledge.Graph, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return loadGraph(cfg)
}

func init() {
	kpListCmd.Flags().String("subject", "", "Filter by subject (e.g. math)")
	kpListCmd.Flags().Int("grade", 0, "Filter by grade (needs --subject)")

	kpOrderCmd.Flags().String("subject", "", "Subject (required)")
	kpOrderCmd.Flags().Int("grade", 0, "Grade (required)")
	_ = kpOrderCmd.MarkFlagRequired("subject")
	_ = kpOrderCmd.MarkFlagRequired("grade")

	kpCmd.AddCommand(kpListCmd)
	kpCmd.AddCommand(kpShowCmd)
	kpCmd.AddCommand(kpOrderCmd)
}
