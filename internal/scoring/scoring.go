// Package scoring evaluates student answers against an activity
// definition. Everything here is pure: the same (definition, answers)
// always yields the same results, so scores can be recomputed on demand.
package scoring

import (
	"strings"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Score judges every target independently and counts the correct ones
func Score(def *types.ActivityDefinition, answers *types.StudentAnswers) types.ActivityResults {
	if def == nil {
		return types.ActivityResults{}
	}
	results := types.ActivityResults{Total: len(def.Targets)}
	if answers == nil {
		return results
	}

	// Last placement per target wins
	placed := make(map[string]string, len(answers.Placements))
	for _, placement := range answers.Placements {
		placed[placement.TargetID] = placement.ItemID
	}

	contentByID := make(map[string]string, len(def.Items))
	for _, item := range def.Items {
		contentByID[item.ID] = item.Content
	}

	for _, target := range def.Targets {
		if IsTargetCorrect(target, placed, answers.TextInputs, contentByID) {
			results.Score++
		}
	}
	return results
}

// IsTargetCorrect applies the per-target rule: a placement is judged by
// membership in accepts, otherwise a typed answer is compared to the
// content of the accepted items, otherwise the target is simply wrong
func IsTargetCorrect(target types.Target, placed map[string]string, textInputs map[string]string, contentByID map[string]string) bool {
	if len(target.Accepts) == 0 {
		return false
	}

	if itemID, ok := placed[target.ID]; ok {
		for _, accepted := range target.Accepts {
			if accepted == itemID {
				return true
			}
		}
		return false
	}

	if text, ok := textInputs[target.ID]; ok {
		for _, accepted := range target.Accepts {
			expected, exists := contentByID[accepted]
			if !exists {
				continue
			}
			if TextMatches(expected, text, target.EvaluationMode) {
				return true
			}
		}
	}
	return false
}

// TextMatches compares a typed answer to the expected content.
// whitespace-flexible only trims the ends; internal whitespace is kept.
func TextMatches(expected, submitted, mode string) bool {
	switch mode {
	case types.EvaluationWhitespaceFlexible:
		return strings.TrimSpace(expected) == strings.TrimSpace(submitted)
	default:
		return expected == submitted
	}
}

// CorrectAnswers maps each target to the first accepted item that exists.
// Targets with nothing resolvable are left out.
func CorrectAnswers(def *types.ActivityDefinition) map[string]types.CorrectAnswer {
	answers := make(map[string]types.CorrectAnswer)
	if def == nil {
		return answers
	}

	contentByID := make(map[string]string, len(def.Items))
	for _, item := range def.Items {
		contentByID[item.ID] = item.Content
	}

	for _, target := range def.Targets {
		for _, accepted := range target.Accepts {
			if content, ok := contentByID[accepted]; ok {
				answers[target.ID] = types.CorrectAnswer{ItemID: accepted, Content: content}
				break
			}
		}
	}
	return answers
}
