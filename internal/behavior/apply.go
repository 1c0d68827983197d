package behavior

import "time"

// Apply folds one attempt into rec and returns the new record. rec may be
// the zero Record for a first attempt. Apply is pure: it never mutates rec.
func (p Policy) Apply(rec Record, a Attempt) Record {
	next := rec
	previousMastery := rec.MasteryLevel

	if !rec.Exists() {
		next = Record{
			UserID:           a.UserID,
			KnowledgePointID: a.KnowledgePointID,
			FirstPracticeAt:  a.At,
			PracticeDays:     1,
			Version:          rec.Version,
		}
	} else if !sameDay(rec.LastPracticeAt, a.At) {
		next.PracticeDays++
	}

	next.TotalAttempts++
	if a.Correct {
		next.CorrectCount++
		next.ConsecutiveCorrect++
		next.ConsecutiveWrong = 0
		next.RunStartMastery = 0
	} else {
		if rec.ConsecutiveWrong == 0 {
			next.RunStartMastery = previousMastery
		}
		next.WrongCount++
		next.ConsecutiveWrong++
		next.ConsecutiveCorrect = 0
	}
	next.AccuracyRate = Accuracy(next.CorrectCount, next.TotalAttempts)

	if next.TotalAttempts == 1 {
		next.AvgAnswerTime = a.AnswerTime
		next.FastestAnswerTime = a.AnswerTime
		next.SlowestAnswerTime = a.AnswerTime
	} else {
		next.AvgAnswerTime += (a.AnswerTime - next.AvgAnswerTime) / float64(next.TotalAttempts)
		next.FastestAnswerTime = min(next.FastestAnswerTime, a.AnswerTime)
		next.SlowestAnswerTime = max(next.SlowestAnswerTime, a.AnswerTime)
	}

	next.LastPracticeAt = a.At
	next.MasteryLevel = p.Evaluate(next, previousMastery)
	next.Version++
	return next
}

// sameDay compares calendar dates in b's location.
func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
