package attendance

import "fmt"

type FeedbackTier string

const (
	TierEncouraging FeedbackTier = "encouraging"
	TierPositive    FeedbackTier = "positive"
	TierStrong      FeedbackTier = "strong"
	TierTop         FeedbackTier = "top"
)

var feedbackTemplates = map[FeedbackTier]string{
	TierEncouraging: "Attendance recorded for %s. Your attendance rate is %.1f%%. Every class counts, keep coming!",
	TierPositive:    "Attendance recorded for %s. Your attendance rate is %.1f%%. Good progress, keep it up.",
	TierStrong:      "Attendance recorded for %s. Your attendance rate is %.1f%%. Strong attendance, well done.",
	TierTop:         "Attendance recorded for %s. Your attendance rate is %.1f%%. Outstanding attendance!",
}

const alreadyMarkedTemplate = "Attendance for %s is already marked as %s today."

// TierFor maps a percentage to its feedback tier.
func TierFor(rate float64) FeedbackTier {
	switch {
	case rate <= 40:
		return TierEncouraging
	case rate <= 70:
		return TierPositive
	case rate <= 90:
		return TierStrong
	default:
		return TierTop
	}
}

func feedbackMessage(tier FeedbackTier, courseCode string, rate float64) string {
	return fmt.Sprintf(feedbackTemplates[tier], courseCode, rate)
}
