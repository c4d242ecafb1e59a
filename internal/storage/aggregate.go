package storage

import "sort"

func (f AnswerFilter) matches(e AnswerEvent) bool {
	if f.ChatID != 0 && e.ChatID != f.ChatID {
		return false
	}
	if f.ParticipantID != 0 && e.ParticipantID != f.ParticipantID {
		return false
	}
	if !f.Since.IsZero() && e.At.Before(f.Since) {
		return false
	}
	return true
}

// countEvents and groupEvents back the drivers that cannot aggregate
// server-side. events must be in append order.
func countEvents(events []AnswerEvent, f AnswerFilter) int {
	n := 0
	for _, e := range events {
		if f.matches(e) {
			n++
		}
	}
	return n
}

func groupEvents(events []AnswerEvent, f AnswerFilter) []ParticipantScore {
	type acc struct {
		score  int
		name   string
		latest AnswerEvent
	}
	by := map[int64]*acc{}
	for _, e := range events {
		if !f.matches(e) {
			continue
		}
		a := by[e.ParticipantID]
		if a == nil {
			a = &acc{}
			by[e.ParticipantID] = a
		}
		a.score++
		// Later appends win ties on timestamp.
		if a.score == 1 || !e.At.Before(a.latest.At) {
			a.latest = e
			a.name = e.DisplayName
		}
	}

	out := make([]ParticipantScore, 0, len(by))
	for id, a := range by {
		out = append(out, ParticipantScore{ParticipantID: id, DisplayName: a.name, Score: a.score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
