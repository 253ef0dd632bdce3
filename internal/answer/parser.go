package answer

import (
	"encoding/xml"
	"strings"
)

// NoneSentinel is the literal the task UI submits for an annotation field it
// never populated. It travels through the exchange as a real string, so it
// has to be distinguished from a genuinely absent field.
const NoneSentinel = "None"

// Question identifiers in the submitted answer document. The hierarchy below
// them depends on what the worker completed, so each field is optional.
const (
	interactionLogKey = "interaction_log"
	inProgressKey     = "annotation_in_progress"
	resultDataKey     = "result_data"
)

type questionFormAnswers struct {
	XMLName xml.Name `xml:"QuestionFormAnswers"`
	Answers []struct {
		QuestionIdentifier string `xml:"QuestionIdentifier"`
		FreeText           string `xml:"FreeText"`
	} `xml:"Answer"`
}

// Fields holds the three logical results extracted from a worker's answer
// payload. A nil field means the identifier was absent or the payload was
// unparseable; downstream the classifier resolves that to "empty".
type Fields struct {
	InteractionLog       *string
	AnnotationInProgress *string
	AnnotationFinal      *string
}

// ParsePayload decodes the answer XML submitted with an assignment. Malformed
// payloads yield all-nil fields rather than an error: a payload this system
// cannot read is handled the same way as one the worker never filled in.
func ParsePayload(payload *string) Fields {
	var f Fields
	if payload == nil || *payload == "" {
		return f
	}
	var doc questionFormAnswers
	if err := xml.Unmarshal([]byte(*payload), &doc); err != nil {
		return f
	}
	for _, a := range doc.Answers {
		text := a.FreeText
		switch a.QuestionIdentifier {
		case interactionLogKey:
			f.InteractionLog = &text
		case inProgressKey:
			f.AnnotationInProgress = &text
		case resultDataKey:
			f.AnnotationFinal = &text
		}
	}
	return f
}

// NormalizeStored repairs annotation strings that round-tripped through
// storage as escaped text: backslash escapes are stripped and embedded
// double quotes become single quotes. Every read of a stored annotation goes
// through this before the string is inspected again, or downstream parsing
// fails silently.
func NormalizeStored(s *string) *string {
	if s == nil {
		return nil
	}
	out := strings.ReplaceAll(*s, "\\", "")
	out = strings.ReplaceAll(out, "\"", "'")
	return &out
}

// Canonical flattens an annotation string for marker matching: escapes,
// quotes and spaces are removed so `"strokes": []` and 'strokes':[] compare
// equal.
func Canonical(s string) string {
	return strings.NewReplacer("\\", "", "\"", "", "'", "", " ", "").Replace(s)
}

// FilledEntryCount counts entries in an annotation string whose named list
// field is non-empty, e.g. key "strokes" counts objects with at least one
// stroke recorded.
func FilledEntryCount(s, key string) int {
	t := Canonical(s)
	total := strings.Count(t, key+":[")
	empty := strings.Count(t, key+":[]")
	return total - empty
}
