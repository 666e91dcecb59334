// Package monitor recognizes alert-style messages posted into channels by
// monitoring tools. Matching is heuristic: the patterns cover the alert
// formats our monitors actually emit, nothing more.
package monitor

import "regexp"

// Kind classifies a detection result.
type Kind int

const (
	// KindNone means the text is not an alert.
	KindNone Kind = iota

	// KindAlert is an immediate failure alert.
	KindAlert

	// KindDelayedAlert is a lateness/delay alert.
	KindDelayedAlert
)

// Detection is the (detected, identifier) signal consumed by the
// workflow controllers. Identifier names the logical target (job name,
// alert name) and drives duplicate suppression.
type Detection struct {
	Kind       Kind
	Identifier string
}

var (
	alertPattern = regexp.MustCompile(`(?m)^\s*(?:\[FIRING(?::\d+)?\]|ALERT:)\s+([\w.\-/]+)`)
	delayPattern = regexp.MustCompile(`(?m)^\s*(?:\[DELAYED\]|DELAY:)\s+([\w.\-/]+)`)
)

// Detect matches text against the known alert formats. Delay patterns are
// checked first since some monitors prefix both markers.
func Detect(text string) Detection {
	if m := delayPattern.FindStringSubmatch(text); m != nil {
		return Detection{Kind: KindDelayedAlert, Identifier: m[1]}
	}
	if m := alertPattern.FindStringSubmatch(text); m != nil {
		return Detection{Kind: KindAlert, Identifier: m[1]}
	}
	return Detection{Kind: KindNone}
}
