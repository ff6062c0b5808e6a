package recollect

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Note is one labeled fact, rendered in a summary as "Label: value".
type Note struct {
	Label string
	Value string
}

func (n Note) String() string {
	return fmt.Sprintf("%s: %s", n.Label, n.Value)
}

// factRule extracts at most one Note from a message. The first submatch of
// pattern is the value.
type factRule struct {
	label   string
	pattern *regexp.Regexp
}

const (
	factLabelName          = "Name"
	factLabelPreferredName = "Preferred name"
	factLabelPronouns      = "Pronouns"
	factLabelLocation      = "Location"
	factLabelOccupation    = "Occupation"
	factLabelBirthday      = "Birthday"
	factLabelLikes         = "Likes"
	factLabelDislikes      = "Dislikes"

	maxNoteValueLength = 80
)

// factRules are applied in order. Each yields at most one note per message.
var factRules = []factRule{
	{
		label:   factLabelName,
		pattern: regexp.MustCompile(`(?i)\bmy name is\s+([\p{L}][\p{L}\p{N}'\-]{0,31})`),
	},
	{
		label:   factLabelPreferredName,
		pattern: regexp.MustCompile(`(?i)\b(?:call me|i go by)\s+([\p{L}][\p{L}\p{N}'\-]{0,31})`),
	},
	{
		label:   factLabelPronouns,
		pattern: regexp.MustCompile(`(?i)\bmy pronouns are\s+([a-z]+(?:\s*/\s*[a-z]+){1,2})`),
	},
	{
		label:   factLabelLocation,
		pattern: regexp.MustCompile(`(?i)\bi(?:'m| am)?\s+(?:live|living|based)\s+in\s+([^.!?,;\n]{2,48})`),
	},
	{
		label:   factLabelOccupation,
		pattern: regexp.MustCompile(`(?i)\bi work as\s+(?:an?\s+)?([^.!?,;\n]{2,48})`),
	},
	{
		label:   factLabelBirthday,
		pattern: regexp.MustCompile(`(?i)\bmy birthday is\s+(?:on\s+)?([^.!?,;\n]{3,32})`),
	},
	{
		label:   factLabelLikes,
		pattern: regexp.MustCompile(`(?i)\bi (?:really |also )?(?:like|love|enjoy)\s+([^.!?;\n]{2,64})`),
	},
	{
		label:   factLabelDislikes,
		pattern: regexp.MustCompile(`(?i)\bi (?:really )?(?:hate|dislike|can't stand|cannot stand)\s+([^.!?;\n]{2,64})`),
	},
}

// ExtractFacts returns the notes found in content, in rule order.
func ExtractFacts(content string) []Note {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	var notes []Note
	for _, rule := range factRules {
		m := rule.pattern.FindStringSubmatch(content)
		if len(m) < 2 {
			continue
		}
		value := cleanNoteValue(m[1])
		if value == "" {
			continue
		}
		notes = append(notes, Note{Label: rule.label, Value: value})
	}
	return notes
}

func cleanNoteValue(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " \"'`*_")
	return truncate(s, maxNoteValueLength)
}

// attributeNotes qualifies note labels with an author, for scopes shared
// by several users. "Likes" from Alex becomes "Likes (Alex)".
func attributeNotes(notes []Note, author string) []Note {
	if author == "" || len(notes) == 0 {
		return notes
	}
	attributed := make([]Note, len(notes))
	for i, n := range notes {
		attributed[i] = Note{
			Label: fmt.Sprintf("%s (%s)", n.Label, author),
			Value: n.Value,
		}
	}
	return attributed
}

// MergeSummary merges notes into a newline-delimited "Label: value"
// summary. A note whose label already has a line replaces that line's
// value in place, keeping the label as first written. New labels are
// appended in note order. Lines that aren't in "Label: value" form are
// kept as they are.
func MergeSummary(summary string, notes []Note) string {
	var lines []string
	labelIndex := map[string]int{}
	labelText := map[string]string{}

	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if label, value, ok := strings.Cut(line, ":"); ok {
			label = strings.TrimSpace(label)
			key := strings.ToLower(label)
			if idx, seen := labelIndex[key]; seen {
				// collapse duplicates left by older summaries
				lines[idx] = labelText[key] + ": " + strings.TrimSpace(value)
				continue
			}
			labelIndex[key] = len(lines)
			labelText[key] = label
		}
		lines = append(lines, line)
	}

	for _, n := range notes {
		label := strings.TrimSpace(n.Label)
		key := strings.ToLower(label)
		if idx, ok := labelIndex[key]; ok {
			lines[idx] = labelText[key] + ": " + n.Value
			continue
		}
		labelIndex[key] = len(lines)
		labelText[key] = label
		lines = append(lines, label+": "+n.Value)
	}
	return strings.Join(lines, "\n")
}

// shouldRefreshSummary reports whether a scope's summary should be
// refreshed after its counter reached count. A refresh happens when notes
// were extracted on a cadence boundary, or when the last refresh is older
// than staleness. A scope that was never refreshed is stale.
func shouldRefreshSummary(
	hasNotes bool,
	count int64,
	cadence int,
	lastSummaryAt int64,
	now time.Time,
	staleness time.Duration,
) bool {
	if cadence < 1 {
		cadence = 1
	}
	if hasNotes && count%int64(cadence) == 0 {
		return true
	}
	if lastSummaryAt == 0 {
		return true
	}
	return now.Sub(unixMilliTime(lastSummaryAt)) > staleness
}
