package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Classify inbound text packets against the command
 *		grammar (§4.4).
 *
 * Description:	Every recognized tag follows the same shape as the
 *		report tag: "#osm" + optional "-"/"_" + word, case
 *		insensitive, word-bounded so "#osmnotetest" doesn't
 *		match "#osmnote" and "#osmlisting" doesn't match
 *		"#osmlist".
 *
 *------------------------------------------------------------------*/

import (
	"regexp"
	"strconv"
	"strings"
)

// CommandKind tags the variant produced by ParseCommand.
type CommandKind int

const (
	CmdNone CommandKind = iota
	CmdReport
	CmdHelp
	CmdStatus
	CmdCount
	CmdList
	CmdQueue
	CmdNodes
)

// Command is the tagged result of classifying one inbound text packet.
type Command struct {
	Kind       CommandKind
	ReportText string // remainder after stripping the #osmnote tag, for CmdReport
	ListN      int    // clamped [1,20], for CmdList
}

const (
	listDefaultN = 5
	listMinN     = 1
	listMaxN     = 20
)

func tagPattern(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)#osm[-_]?` + word + `\b`)
}

var (
	reportTag = tagPattern("note")
	helpTag   = tagPattern("help")
	statusTag = tagPattern("status")
	countTag  = tagPattern("count")
	queueTag  = tagPattern("queue")
	nodesTag  = tagPattern("nodes")
	listTag   = regexp.MustCompile(`(?i)#osm[-_]?list\b\s*(-?\d+)?`)
)

// ParseCommand classifies raw inbound text into a Command. Any text
// containing no recognized tag maps to CmdNone, per §4.4. REPORT is
// checked first since its remainder may itself contain text that would
// otherwise look like another tag.
func ParseCommand(text string) Command {
	trimmed := strings.TrimSpace(text)

	if loc := reportTag.FindStringIndex(trimmed); loc != nil {
		remainder := strings.TrimSpace(trimmed[loc[1]:])
		return Command{Kind: CmdReport, ReportText: remainder}
	}

	if m := listTag.FindStringSubmatch(trimmed); m != nil {
		n := listDefaultN

		if m[1] != "" {
			if parsed, err := strconv.Atoi(m[1]); err == nil {
				n = parsed
			}
		}

		return Command{Kind: CmdList, ListN: clampListN(n)}
	}

	switch {
	case helpTag.MatchString(trimmed):
		return Command{Kind: CmdHelp}
	case statusTag.MatchString(trimmed):
		return Command{Kind: CmdStatus}
	case countTag.MatchString(trimmed):
		return Command{Kind: CmdCount}
	case queueTag.MatchString(trimmed):
		return Command{Kind: CmdQueue}
	case nodesTag.MatchString(trimmed):
		return Command{Kind: CmdNodes}
	}

	return Command{Kind: CmdNone}
}

func clampListN(n int) int {
	if n < listMinN {
		return listMinN
	}

	if n > listMaxN {
		return listMaxN
	}

	return n
}

// NormalizeText trims leading/trailing whitespace and collapses every
// run of ASCII whitespace to a single 0x20. Unicode case and diacritics
// are not folded, per §4.4.
func NormalizeText(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			return true
		default:
			return false
		}
	})

	return strings.Join(fields, " ")
}
