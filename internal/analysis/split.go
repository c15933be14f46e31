package analysis

import (
	"strings"

	"callscribe/internal/domain"
)

// Markers delimiting ad-hoc operator Q/A exchanges inside accumulated
// quick-answer output.
const (
	questionMarker = "**Question:**"
	answerMarker   = "**Answer:**"
)

// SplitQuickAnswers buckets accumulated quick-answer sections into ad-hoc
// Q/A pairs and unprompted live guidance. A section that cannot be matched
// to a pair falls back to guidance rather than being dropped.
func SplitQuickAnswers(sections []string) domain.QuickAnswerSplit {
	var split domain.QuickAnswerSplit

	for _, section := range sections {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		if !strings.Contains(section, questionMarker) {
			split.Guidance = append(split.Guidance, section)
			continue
		}

		// Leading text before the first question marker is guidance.
		chunks := strings.Split(section, questionMarker)
		if lead := strings.TrimSpace(chunks[0]); lead != "" {
			split.Guidance = append(split.Guidance, lead)
		}
		for _, chunk := range chunks[1:] {
			question, answer, found := strings.Cut(chunk, answerMarker)
			question = strings.TrimSpace(question)
			answer = strings.TrimSpace(answer)
			if !found || question == "" || answer == "" {
				if rest := strings.TrimSpace(chunk); rest != "" {
					split.Guidance = append(split.Guidance, rest)
				}
				continue
			}
			split.Pairs = append(split.Pairs, domain.QuickAnswerPair{
				Question: question,
				Answer:   answer,
			})
		}
	}
	return split
}
