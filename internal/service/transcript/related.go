package transcript

import (
	"regexp"
	"strings"
)

const relatedMarker = "Related Questions:"

var listItem = regexp.MustCompile(`^(\d+\.|[*-])\s*`)

// RelatedQuestions splits a bot answer into the answer body and the list of
// follow-up questions the model appended under "Related Questions:". Only
// numbered or bulleted lines count as questions; their markers are stripped.
func RelatedQuestions(text string) (string, []string) {
	answer, tail, found := strings.Cut(text, relatedMarker)
	if !found {
		return text, nil
	}

	var questions []string
	for _, line := range strings.Split(tail, "\n") {
		line = strings.TrimSpace(line)
		if !listItem.MatchString(line) {
			continue
		}
		if q := strings.TrimSpace(listItem.ReplaceAllString(line, "")); q != "" {
			questions = append(questions, q)
		}
	}
	return strings.TrimSpace(answer), questions
}
