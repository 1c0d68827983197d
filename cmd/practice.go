package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wsaxqd/home-work2-sub001/internal/content"
	"github.com/wsaxqd/home-work2-sub001/internal/practice"
)

var practiceCmd = &cobra.Command{
	Use:   "practice",
	Short: "Answer questions in an adaptive practice session",
	Long: `Start a practice session and answer questions on stdin.

Difficulty follows your recent accuracy. Every answer is recorded against
the knowledge point, so mastery, recommendations and paths move with it.
An empty line ends the session early.`,
	RunE: runPractice,
}

func init() {
	practiceCmd.Flags().String("user", "", "Learner id (required)")
	practiceCmd.Flags().String("subject", "math", "Subject")
	practiceCmd.Flags().Int("grade", 3, "Grade used to pick a focus point")
	practiceCmd.Flags().String("kp", "", "Focus knowledge point (picked from recommendations when empty)")
	practiceCmd.Flags().Int("questions", 10, "Number of questions")
	practiceCmd.Flags().String("source", sourceBank, "Question source: bank or llm")
	practiceCmd.Flags().String("judge", judgeExact, "Answer judge: exact or llm")
	_ = practiceCmd.MarkFlagRequired("user")
}

func runPractice(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	subject, _ := cmd.Flags().GetString("subject")
	grade, _ := cmd.Flags().GetInt("grade")
	kp, _ := cmd.Flags().GetString("kp")
	count, _ := cmd.Flags().GetInt("questions")
	source, _ := cmd.Flags().GetString("source")
	judge, _ := cmd.Flags().GetString("judge")
	if count <= 0 {
		return fmt.Errorf("--questions must be positive")
	}

	a, err := openApp(cmd, appOptions{source: source, judge: judge})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	w := cmd.OutOrStdout()
	e := a.engine

	s, err := e.StartSession(ctx, practice.StartRequest{
		UserID:           user,
		Subject:          subject,
		Grade:            grade,
		KnowledgePointID: kp,
	})
	if err != nil {
		return err
	}
	name := s.KnowledgePointID
	if p, err := e.Graph().Get(s.KnowledgePointID); err == nil {
		name = p.Name
	}
	fmt.Fprintf(w, "Practising %s (%s), starting at difficulty %d\n\n", name, s.KnowledgePointID, s.Difficulty)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for i := 1; i <= count; i++ {
		q, err := e.NextQuestion(ctx, s.ID)
		if err != nil {
			return finishPractice(w, err)
		}

		fmt.Fprintf(w, "── Question %d/%d (difficulty %d) ──\n", i, count, q.Difficulty)
		fmt.Fprintln(w, q.Text)
		if q.Format == content.FormatMultipleChoice {
			for j, c := range q.Choices {
				fmt.Fprintf(w, "  %d) %s\n", j+1, c)
			}
		}
		if q.Hint != "" {
			fmt.Fprintf(w, "Hint: %s\n", q.Hint)
		}

		fmt.Fprint(w, "\nYour answer: ")
		if !scanner.Scan() {
			fmt.Fprintln(w, "\n(input closed)")
			break
		}
		answer := strings.TrimSpace(scanner.Text())
		if answer == "" {
			break
		}

		fb, err := e.SubmitAnswer(ctx, s.ID, answer)
		if err != nil {
			return finishPractice(w, err)
		}
		printFeedback(w, q, fb)
	}

	sum, err := e.EndSession(ctx, s.ID)
	if err != nil {
		return err
	}
	printSummary(w, sum)
	return nil
}

// finishPractice reports a session the engine ended on its own; any other
// error is returned.
func finishPractice(w io.Writer, err error) error {
	var fe *practice.FinishedError
	if !errors.As(err, &fe) {
		return err
	}
	fmt.Fprintf(w, "\nSession ended: %v\n", fe.Err)
	printSummary(w, fe.Summary)
	return nil
}

func printFeedback(w io.Writer, q content.Question, fb practice.Feedback) {
	if fb.Correct {
		fmt.Fprintln(w, "\033[32m✓ Correct!\033[0m")
	} else {
		fmt.Fprintf(w, "\033[31m✗ Wrong.\033[0m Answer: %s\n", q.Answer)
	}
	if fb.Explanation != "" {
		fmt.Fprintf(w, "Explanation: %s\n", fb.Explanation)
	}
	switch {
	case fb.Difficulty > fb.PreviousDifficulty:
		fmt.Fprintf(w, "Difficulty up: %d → %d\n", fb.PreviousDifficulty, fb.Difficulty)
	case fb.Difficulty < fb.PreviousDifficulty:
		fmt.Fprintf(w, "Difficulty down: %d → %d\n", fb.PreviousDifficulty, fb.Difficulty)
	}
	fmt.Fprintf(w, "Score %d/%d, mastery %d\n\n", fb.CorrectCount, fb.TotalCount, fb.Mastery)
}

func printSummary(w io.Writer, sum practice.Summary) {
	fmt.Fprintf(w, "── Summary: %d/%d correct (%.0f%%), difficulty %d → %d, %s ──\n",
		sum.CorrectCount, sum.TotalCount, sum.CorrectRate, sum.StartDifficulty, sum.Difficulty, sum.Reason)
}
