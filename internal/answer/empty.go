package answer

import "strings"

// IsEmpty reports whether a submitted result carries no usable annotation
// work. The rules are checked in order and the first match wins:
//
//  1. an interaction log with fewer than two dash-separated events means the
//     worker never got past loading the page
//  2. both annotation fields carrying the sentinel means the UI submitted
//     with nothing started
//  3. any in-progress entry with data or strokes counts as real work
//  4. any final entry with strokes counts as real work
//  5. everything else is empty
//
// Absent fields (nil) are skipped, so a result with no annotation fields at
// all falls through to rule 5.
func IsEmpty(interactionLog, inProgress, final *string) bool {
	if interactionLog != nil && len(strings.Split(*interactionLog, "-")) < 2 {
		return true
	}
	if isSentinel(inProgress) && isSentinel(final) {
		return true
	}
	if hasContent(inProgress) {
		s := *inProgress
		if FilledEntryCount(s, "data") > 0 || FilledEntryCount(s, "strokes") > 0 {
			return false
		}
	}
	if hasContent(final) {
		if FilledEntryCount(*final, "strokes") > 0 {
			return false
		}
	}
	return true
}

func isSentinel(s *string) bool {
	return s != nil && *s == NoneSentinel
}

func hasContent(s *string) bool {
	return s != nil && *s != "" && *s != NoneSentinel
}
