package analyzer

import (
	"regexp"
	"strings"
)

// markerRe matches a line opening with a section name. Groups: heading
// hashes, name, colon, text after the marker on the same line.
var markerRe = regexp.MustCompile(`(?im)^[ \t]*(#{1,6}[ \t]*)?(?:\*\*)?(transcription|transcript|summary)(?:\*\*)?[ \t]*(:)?(?:\*\*)?[ \t\r]*(\S.*)?$`)

type marker struct {
	name      string
	start     int
	bodyStart int
	heading   bool
}

func findMarkers(text string) []marker {
	var out []marker
	for _, loc := range markerRe.FindAllStringSubmatchIndex(text, -1) {
		hasHash := loc[2] >= 0
		hasColon := loc[6] >= 0
		hasRest := loc[8] >= 0 && strings.TrimSpace(text[loc[8]:loc[9]]) != ""
		if hasRest && !hasColon {
			// "Summary of events ..." is prose
			continue
		}
		m := marker{
			name:      strings.ToLower(text[loc[4]:loc[5]]),
			start:     loc[0],
			bodyStart: loc[1],
			heading:   hasHash || !hasRest,
		}
		if hasRest {
			m.bodyStart = loc[8]
		}
		out = append(out, m)
	}
	return out
}

// ParseSections splits a model response into its transcription and summary
// sections. Markers are matched case-insensitively as headings
// ("## Transcription", "**Summary:**" on its own line) or labels
// ("SUMMARY: text"). When any heading is present, labels are ignored so a
// speaker saying "Summary: ..." stays inside the transcription. Text
// without any marker is treated as the transcription.
func ParseSections(text string) (transcription, summary string) {
	markers := findMarkers(text)
	var headings []marker
	for _, m := range markers {
		if m.heading {
			headings = append(headings, m)
		}
	}
	if len(headings) > 0 {
		markers = headings
	}
	if len(markers) == 0 {
		return strings.TrimSpace(text), ""
	}

	for i, m := range markers {
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1].start
		}
		body := strings.TrimSpace(text[m.bodyStart:end])

		if m.name == "summary" {
			if summary == "" {
				summary = body
			}
		} else if transcription == "" {
			transcription = body
		}
	}
	return transcription, summary
}
