package content

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// ExactEvaluator grades by normalized comparison.
//
//   - full-width digits and punctuation are folded to ASCII
//   - text compares case-insensitively with collapsed whitespace
//   - integers ignore leading zeros, decimals trailing zeros
//   - fractions compare in lowest terms, so "2/4" matches "1/2"
//   - multiple choice accepts the choice text or its 1-based index
type ExactEvaluator struct{}

func (ExactEvaluator) Evaluate(_ context.Context, q Question, answer string) (Evaluation, error) {
	ok := Check(q, answer)
	ev := Evaluation{Correct: ok, Explanation: q.Explanation}
	if !ok && ev.Explanation == "" {
		ev.Explanation = fmt.Sprintf("The answer is %s.", q.Answer)
	}
	return ev, nil
}

// Check reports whether answer is correct for q.
func Check(q Question, answer string) bool {
	answer = fold(answer)
	if answer == "" {
		return false
	}
	if q.Format == FormatMultipleChoice {
		if idx, err := strconv.Atoi(answer); err == nil && idx >= 1 && idx <= len(q.Choices) {
			answer = fold(q.Choices[idx-1])
		}
		return answer == fold(q.Answer)
	}

	got, err := normalize(answer, q.AnswerType)
	if err != nil {
		return false
	}
	want, err := normalize(q.Answer, q.AnswerType)
	if err != nil {
		return false
	}
	return got == want
}

// fold maps full-width forms to ASCII, case-folds and collapses whitespace.
func fold(s string) string {
	s = width.Fold.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

func normalize(answer string, typ AnswerType) (string, error) {
	answer = strings.ReplaceAll(fold(answer), ",", "")
	switch typ {
	case AnswerInteger:
		n, err := strconv.ParseInt(answer, 10, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case AnswerDecimal:
		f, err := strconv.ParseFloat(answer, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case AnswerFraction:
		return normalizeFraction(answer)
	default:
		return answer, nil
	}
}

func normalizeFraction(s string) (string, error) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		// Whole numbers are fractions over one.
		den = "1"
	}
	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return "", fmt.Errorf("numerator: %w", err)
	}
	d, err := strconv.ParseInt(strings.TrimSpace(den), 10, 64)
	if err != nil {
		return "", fmt.Errorf("denominator: %w", err)
	}
	if d == 0 {
		return "", errors.New("zero denominator")
	}
	if d < 0 {
		n, d = -n, -d
	}
	g := gcd(abs(n), d)
	return fmt.Sprintf("%d/%d", n/g, d/g), nil
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
