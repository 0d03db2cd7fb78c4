package match

// trigramSet builds the character 3-gram shingle set of a normalized string.
// Strings shorter than one shingle become a single-element set so that very
// short keywords still compare meaningfully.
func trigramSet(s string) map[string]struct{} {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) < 3 {
		return map[string]struct{}{s: {}}
	}
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// containment computes |A∩B| / |A| for two shingle sets: how much of the
// keyword's surface is present in the message.
func containment(keyword, message map[string]struct{}) float64 {
	if len(keyword) == 0 || len(message) == 0 {
		return 0
	}
	hits := 0
	for sh := range keyword {
		if _, ok := message[sh]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(keyword))
}

// NgramScore measures character-trigram overlap between the message text and
// the positive-keyword set. Each keyword contributes its containment in the
// message; the score is the mean over all keywords, in [0,1].
func NgramScore(messageText string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	msgSet := trigramSet(NormalizeText(messageText))
	var sum float64
	for _, kw := range keywords {
		sum += containment(trigramSet(NormalizeText(kw)), msgSet)
	}
	return sum / float64(len(keywords))
}
