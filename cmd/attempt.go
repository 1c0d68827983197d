package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wsaxqd/home-work2-sub001/internal/behavior"
)

var attemptCmd = &cobra.Command{
	Use:   "attempt",
	Short: "Record one answer and show the updated behavior record",
	Long: `Record one answer for a learner and knowledge point.

Passing the same --id twice is safe: the second call reports the stored
record without counting the answer again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		kp, _ := cmd.Flags().GetString("kp")
		correct, _ := cmd.Flags().GetBool("correct")
		secs, _ := cmd.Flags().GetFloat64("time")
		id, _ := cmd.Flags().GetString("id")

		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.engine.RecordAttempt(cmd.Context(), behavior.Attempt{
			ID:               id,
			UserID:           user,
			KnowledgePointID: kp,
			Correct:          correct,
			AnswerTime:       secs,
		})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		switch {
		case out.Duplicate:
			fmt.Fprintln(w, "Attempt already recorded; record unchanged.")
		case out.MasteryChanged():
			fmt.Fprintf(w, "Mastery %d → %d\n", out.Previous.MasteryLevel, out.Record.MasteryLevel)
		}
		printRecord(w, out.Record)
		return nil
	},
}

func printRecord(w io.Writer, r behavior.Record) {
	t := newTable(w, "Field", "Value")
	t.AppendBulk([][]string{
		{"Knowledge point", r.KnowledgePointID},
		{"Attempts", fmt.Sprintf("%d (%d correct, %d wrong)", r.TotalAttempts, r.CorrectCount, r.WrongCount)},
		{"Accuracy", strconv.FormatFloat(r.AccuracyRate, 'f', 2, 64) + "%"},
		{"Streak", fmt.Sprintf("%d correct / %d wrong", r.ConsecutiveCorrect, r.ConsecutiveWrong)},
		{"Answer time", fmt.Sprintf("avg %.1fs, fastest %.1fs, slowest %.1fs", r.AvgAnswerTime, r.FastestAnswerTime, r.SlowestAnswerTime)},
		{"Mastery", strconv.Itoa(r.MasteryLevel)},
		{"Practice days", strconv.Itoa(r.PracticeDays)},
		{"Last practice", formatTime(r.LastPracticeAt)},
	})
	t.Render()
}

func init() {
	attemptCmd.Flags().String("user", "", "Learner id (required)")
	attemptCmd.Flags().String("kp", "", "Knowledge point id (required)")
	attemptCmd.Flags().Bool("correct", false, "Whether the answer was correct")
	attemptCmd.Flags().Float64("time", 0, "Answer time in seconds")
	attemptCmd.Flags().String("id", "", "Attempt id for idempotent replays (generated when empty)")
	_ = attemptCmd.MarkFlagRequired("user")
	_ = attemptCmd.MarkFlagRequired("kp")
}
