package answerengine

import "strings"

// gateTriggered implements §4.6 step 8: fallback is warranted when the
// selected candidate's score is below the (possibly label-adjusted)
// confidence floor, its text matches a poor-answer regex, it's too short,
// or nothing was retrieved in the first place.
func (e *Engine) gateTriggered(text string, finalScore, confidenceFloor float64, retrievedCount int) bool {
	if finalScore < confidenceFloor {
		return true
	}
	for _, re := range e.poorAnswerRegexes {
		if re.MatchString(text) {
			return true
		}
	}
	if len(strings.TrimSpace(text)) < e.cfg.Gate.MinAnswerLength {
		return true
	}
	return retrievedCount == 0
}
