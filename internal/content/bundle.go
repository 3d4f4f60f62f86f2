// Package content caches generated outreach copy and produces it through
// a two-model Gemini fallback chain, each model gated by its own daily
// call cap. One generation call yields subjects and bodies for all three
// sequence stages, so the cache entry's TTL must cover the whole sequence.
package content

import "fmt"

// Bundle holds the generated copy for a full three-stage sequence.
type Bundle struct {
	SubjectInitial   string `json:"subject_initial"`
	SubjectFollowup1 string `json:"subject_followup1"`
	SubjectFollowup2 string `json:"subject_followup2"`
	Intro            string `json:"intro"`
	Followup1        string `json:"followup1"`
	Followup2        string `json:"followup2"`
}

// ForStage returns the subject and body for a sequence stage
// (0 = initial, 1 = followup1, 2 = followup2).
func (b Bundle) ForStage(stage int) (subject, body string, err error) {
	switch stage {
	case 0:
		return b.SubjectInitial, b.Intro, nil
	case 1:
		return b.SubjectFollowup1, b.Followup1, nil
	case 2:
		return b.SubjectFollowup2, b.Followup2, nil
	}
	return "", "", fmt.Errorf("no content for stage %d", stage)
}

// Complete reports whether every stage has both a subject and a body.
func (b Bundle) Complete() bool {
	for stage := 0; stage < 3; stage++ {
		subject, body, _ := b.ForStage(stage)
		if subject == "" || body == "" {
			return false
		}
	}
	return true
}
