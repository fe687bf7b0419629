package diary

import (
	"regexp"
	"strings"
)

// Wire-format literals shared between the prompt templates and the parser.
// These must match the generation provider's output byte for byte.
const (
	Sentinel            = "~*~"
	SilenceToken        = "[SILENT]"
	UpdatedScoresHeader = "Updated Opinion Scores:"
)

const (
	DefaultScore = 50
	MinScore     = 1
	MaxScore     = 100
)

var scoreLineRe = regexp.MustCompile(`^- (\w+): (\d+)/100`)

// Split separates a minion reply into visible content and the diary block
// wrapped in sentinel markers. A missing or unterminated block is not an
// error: the whole text is content and the diary is empty.
func Split(text string) (content, diaryText string, found bool) {
	open := strings.Index(text, Sentinel)
	if open < 0 {
		return strings.TrimSpace(text), "", false
	}
	rest := text[open+len(Sentinel):]
	end := strings.Index(rest, Sentinel)
	if end < 0 {
		return strings.TrimSpace(text), "", false
	}

	diaryText = strings.TrimSpace(rest[:end])
	before := strings.TrimSpace(text[:open])
	after := strings.TrimSpace(rest[end+len(Sentinel):])
	return strings.TrimSpace(before + after), diaryText, true
}

// ParseUpdatedScores scans the diary for the "Updated Opinion Scores:" section
// and returns the score table. Lines are read until the section ends: a
// malformed "- " line is skipped, any other non-blank line terminates the
// section, and a blank line terminates it once at least one score was read.
// A missing section yields an empty map; callers leave prior scores untouched.
func ParseUpdatedScores(diaryText string) map[string]int {
	scores := map[string]int{}

	lines := strings.Split(diaryText, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), UpdatedScoresHeader) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return scores
	}

	for _, raw := range lines[start:] {
		line := strings.TrimSpace(raw)
		if line == "" {
			if len(scores) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(line, "- ") {
			match := scoreLineRe.FindStringSubmatch(line)
			if match == nil {
				continue
			}
			scores[match[1]] = atoiClamped(match[2])
			continue
		}
		break
	}
	return scores
}

// Clamp forces a score into the valid [1,100] range. The model occasionally
// emits out-of-range values; they are never stored as-is.
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

type Mode string

const (
	ModeHostile  Mode = "Hostile/Minimal"
	ModeWary     Mode = "Wary/Reluctant"
	ModeNeutral  Mode = "Neutral/Standard"
	ModeFriendly Mode = "Friendly/Proactive"
	ModeObsessed Mode = "Obsessed/Eager"
)

// ModeForScore maps a post-update opinion score to the behavioral band the
// minion adopts toward the sender for this turn.
func ModeForScore(score int) Mode {
	switch {
	case score <= 20:
		return ModeHostile
	case score <= 45:
		return ModeWary
	case score <= 65:
		return ModeNeutral
	case score <= 85:
		return ModeFriendly
	default:
		return ModeObsessed
	}
}

func atoiClamped(digits string) int {
	n := 0
	for _, r := range digits {
		n = n*10 + int(r-'0')
		if n > MaxScore {
			return MaxScore
		}
	}
	return Clamp(n)
}
