package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/recommend"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Refresh and list what a learner should study next",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		subject, _ := cmd.Flags().GetString("subject")
		grade, _ := cmd.Flags().GetInt("grade")
		all, _ := cmd.Flags().GetBool("all")

		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		var rs []recommend.Recommendation
		if all {
			rs, err = a.engine.Recommendations().List(cmd.Context(), user)
		} else {
			rs, err = a.engine.GenerateRecommendations(cmd.Context(), user, subject, grade)
		}
		if err != nil {
			return err
		}
		if len(rs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to recommend: every ready point is mastered.")
			return nil
		}
		printRecommendations(cmd.OutOrStdout(), a.engine.Graph(), rs)
		return nil
	},
}

func printRecommendations(w io.Writer, g *knowledge.Graph, rs []recommend.Recommendation) {
	t := newTable(w, "Pri", "Type", "Knowledge point", "Status", "Progress", "Reason")
	for _, r := range rs {
		name := r.KnowledgePointID
		if p, err := g.Get(r.KnowledgePointID); err == nil {
			name = p.Name
		}
		t.Append([]string{
			strconv.Itoa(r.Priority),
			string(r.Type),
			truncate(name, 36),
			string(r.Status),
			strconv.Itoa(r.Progress) + "%",
			truncate(r.Reason, 60),
		})
	}
	t.Render()
}

func init() {
	recommendCmd.Flags().String("user", "", "Learner id (required)")
	recommendCmd.Flags().String("subject", "math", "Subject")
	recommendCmd.Flags().Int("grade", 3, "Grade")
	recommendCmd.Flags().Bool("all", false, "List every stored recommendation instead of refreshing")
	_ = recommendCmd.MarkFlagRequired("user")
}
