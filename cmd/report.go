package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/learnpath"
	"github.com/wsaxqd/home-work2-sub001/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export learner progress",
}

var reportExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a learner's mastery, recommendations, paths and sessions to an .xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = user + "-progress.xlsx"
		}

		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		wb, err := buildReport(cmd, a.store, a.engine.Paths(), a.engine.Graph(), user)
		if err != nil {
			return err
		}
		defer wb.Close()
		if err := wb.SaveAs(out); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
		return nil
	},
}

// sheet is one worksheet of the report.
type sheet struct {
	name   string
	header []any
	rows   [][]any
	widths []float64
}

func buildReport(cmd *cobra.Command, st *store.Store, pl *learnpath.Planner, g *knowledge.Graph, user string) (*excelize.File, error) {
	ctx := cmd.Context()
	kpName := func(id string) string {
		if p, err := g.Get(id); err == nil {
			return p.Name
		}
		return ""
	}

	records, err := st.Behavior().ListRecords(ctx, user)
	if err != nil {
		return nil, err
	}
	mastery := sheet{
		name:   "Mastery",
		header: []any{"Knowledge point", "Name", "Attempts", "Correct", "Accuracy %", "Avg time (s)", "Mastery", "Practice days", "Last practice"},
		widths: []float64{28, 36, 10, 10, 12, 12, 10, 14, 18},
	}
	for _, r := range records {
		mastery.rows = append(mastery.rows, []any{
			r.KnowledgePointID, kpName(r.KnowledgePointID), r.TotalAttempts, r.CorrectCount,
			r.AccuracyRate, r.AvgAnswerTime, r.MasteryLevel, r.PracticeDays, formatTime(r.LastPracticeAt),
		})
	}

	recs, err := st.Recommendations().ListRecommendations(ctx, user)
	if err != nil {
		return nil, err
	}
	recommendations := sheet{
		name:   "Recommendations",
		header: []any{"Knowledge point", "Type", "Priority", "Status", "Progress %", "Effectiveness", "Reason", "Created", "Completed"},
		widths: []float64{28, 12, 10, 12, 12, 14, 60, 18, 18},
	}
	for _, r := range recs {
		var eff any = ""
		if r.EffectivenessScore != nil {
			eff = *r.EffectivenessScore
		}
		recommendations.rows = append(recommendations.rows, []any{
			r.KnowledgePointID, string(r.Type), r.Priority, string(r.Status), r.Progress, eff,
			r.Reason, formatTime(r.CreatedAt), formatTimePtr(r.CompletedAt),
		})
	}

	paths, err := pl.List(ctx, user)
	if err != nil {
		return nil, err
	}
	pathSheet := sheet{
		name:   "Paths",
		header: []any{"ID", "Subject", "Grade", "Step", "Total", "Progress %", "Status", "Current", "Points"},
		widths: []float64{38, 10, 8, 8, 8, 12, 12, 28, 80},
	}
	for _, p := range paths {
		pathSheet.rows = append(pathSheet.rows, []any{
			p.ID, p.Subject, p.Grade, p.CurrentStep, p.TotalSteps, p.Progress, string(p.Status),
			p.Current(), strings.Join(p.KnowledgePoints, ", "),
		})
	}

	sessions, err := st.Sessions().ListSessions(ctx, user)
	if err != nil {
		return nil, err
	}
	sessionSheet := sheet{
		name:   "Sessions",
		header: []any{"ID", "Knowledge point", "State", "Start diff", "End diff", "Correct", "Total", "Correct %", "Reason", "Started", "Ended"},
		widths: []float64{38, 28, 10, 10, 10, 10, 10, 10, 22, 18, 18},
	}
	for _, s := range sessions {
		sessionSheet.rows = append(sessionSheet.rows, []any{
			s.ID, s.KnowledgePointID, string(s.State), s.StartDifficulty, s.Difficulty,
			s.CorrectCount, s.TotalCount, s.CorrectRate(), string(s.EndReason),
			formatTime(s.StartedAt), formatTimePtr(s.EndedAt),
		})
	}

	return writeWorkbook([]sheet{mastery, recommendations, pathSheet, sessionSheet})
}

func writeWorkbook(sheets []sheet) (_ *excelize.File, err error) {
	f := excelize.NewFile()
	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return nil, err
		}

		if err := f.SetSheetRow(sh.name, "A1", &sh.header); err != nil {
			return nil, err
		}
		last, err := excelize.CoordinatesToCellName(len(sh.header), 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sh.name, "A1", last, bold); err != nil {
			return nil, err
		}
		for j, w := range sh.widths {
			col, err := excelize.ColumnNumberToName(j + 1)
			if err != nil {
				return nil, err
			}
			if err := f.SetColWidth(sh.name, col, col, w); err != nil {
				return nil, err
			}
		}
		for r, row := range sh.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetSheetRow(sh.name, cell, &row); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func init() {
	reportExportCmd.Flags().String("user", "", "Learner id (required)")
	reportExportCmd.Flags().String("out", "", "Output file (default <user>-progress.xlsx)")
	_ = reportExportCmd.MarkFlagRequired("user")

	reportCmd.AddCommand(reportExportCmd)
}
