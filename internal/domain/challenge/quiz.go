package challenge

import (
	"fmt"
	"sort"
	"strings"
)

// QuestionsFromAnswerKey returns the answer key as questions sorted by id.
func QuestionsFromAnswerKey(answerKey map[string]string) []QuizQuestion {
	out := make([]QuizQuestion, 0, len(answerKey))
	for id, answer := range answerKey {
		out = append(out, QuizQuestion{ID: id, Answer: answer})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScoreQuiz awards one point per correct answer. Answers compare
// case-insensitively after trimming. Every player present in answers gets a
// score, including zero.
func ScoreQuiz(questions []QuizQuestion, answers map[string]map[string]string) (map[string]float64, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: quiz has no questions", ErrInvalidScore)
	}

	scores := make(map[string]float64, len(answers))
	for playerID, given := range answers {
		if strings.TrimSpace(playerID) == "" {
			return nil, fmt.Errorf("%w: player id is empty", ErrInvalidScore)
		}
		correct := 0
		for _, question := range questions {
			answer, ok := given[question.ID]
			if !ok {
				continue
			}
			if normalizeAnswer(answer) == normalizeAnswer(question.Answer) {
				correct++
			}
		}
		scores[playerID] = float64(correct)
	}
	return scores, nil
}

func normalizeAnswer(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
