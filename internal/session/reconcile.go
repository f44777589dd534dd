package session

import "github.com/thebtf/zetacoach/pkg/models"

// durationTiers maps the highest timer value seen to a known game length.
var durationTiers = []struct {
	above   int
	seconds int
}{
	{90, 120},
	{60, 90},
	{30, 60},
	{0, 30},
}

// InferDuration buckets the highest observed time remaining into the
// nearest game-length tier. It reports false when nothing was observed.
func InferDuration(maxTimeRemainingSeen int) (int, bool) {
	for _, tier := range durationTiers {
		if maxTimeRemainingSeen > tier.above {
			return tier.seconds, true
		}
	}
	return 0, false
}

// missedSolves returns how many placeholders a score increase implies.
// One unit of every increase belongs to the problem whose text change is
// (or will be) observed; the rest were solved too fast to see. The result
// never pushes the log past the score.
func missedSolves(lastReconciled, score, logLen int) int {
	if score <= lastReconciled {
		return 0
	}
	missed := score - lastReconciled - 1
	if room := score - logLen; missed > room {
		missed = room
	}
	if missed < 0 {
		return 0
	}
	return missed
}

// fitToScore pads log with placeholders or truncates it, keeping the
// earliest records, so that len(result) == score. It returns the new log
// with the number of records added and removed.
func fitToScore(log []models.ProblemRecord, score int) (fitted []models.ProblemRecord, added, removed int) {
	if score < 0 {
		score = 0
	}
	switch {
	case len(log) < score:
		added = score - len(log)
		for i := 0; i < added; i++ {
			log = append(log, models.NewPlaceholderRecord())
		}
	case len(log) > score:
		removed = len(log) - score
		log = log[:score]
	}
	return log, added, removed
}
