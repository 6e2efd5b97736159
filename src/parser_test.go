package gateway

import (
	"testing"

	"pgregory.net/rapid"
)

func TestParseCommandReport(t *testing.T) {
	cmd := ParseCommand("#osmnote  pothole   on  main st")
	if cmd.Kind != CmdReport {
		t.Fatalf("kind = %v, want CmdReport", cmd.Kind)
	}

	if cmd.ReportText != "pothole   on  main st" {
		t.Fatalf("report text = %q", cmd.ReportText)
	}
}

func TestParseCommandReportVariants(t *testing.T) {
	for _, text := range []string{"#osm-note fallen tree", "#osm_note fallen tree", "#OSMNOTE fallen tree"} {
		cmd := ParseCommand(text)
		if cmd.Kind != CmdReport {
			t.Errorf("text %q: kind = %v, want CmdReport", text, cmd.Kind)
		}
	}
}

func TestParseCommandDoesNotMatchLongerWord(t *testing.T) {
	cmd := ParseCommand("#osmnotetest something")
	if cmd.Kind != CmdNone {
		t.Fatalf("kind = %v, want CmdNone", cmd.Kind)
	}
}

func TestParseCommandList(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"#osmlist", listDefaultN},
		{"#osmlist 10", 10},
		{"#osmlist 999", listMaxN},
		{"#osmlist 0", listMinN},
		{"#osmlist -3", listMinN},
	}

	for _, c := range cases {
		cmd := ParseCommand(c.text)
		if cmd.Kind != CmdList {
			t.Fatalf("text %q: kind = %v, want CmdList", c.text, cmd.Kind)
		}

		if cmd.ListN != c.want {
			t.Errorf("text %q: listN = %d, want %d", c.text, cmd.ListN, c.want)
		}
	}
}

func TestParseCommandBareTags(t *testing.T) {
	cases := map[string]CommandKind{
		"#osmhelp":   CmdHelp,
		"#osmstatus": CmdStatus,
		"#osmcount":  CmdCount,
		"#osmqueue":  CmdQueue,
		"#osmnodes":  CmdNodes,
	}

	for text, want := range cases {
		if got := ParseCommand(text).Kind; got != want {
			t.Errorf("text %q: kind = %v, want %v", text, got, want)
		}
	}
}

func TestParseCommandNone(t *testing.T) {
	for _, text := range []string{"", "just chatting on the repeater", "no tag here #random"} {
		if got := ParseCommand(text).Kind; got != CmdNone {
			t.Errorf("text %q: kind = %v, want CmdNone", text, got)
		}
	}
}

func TestNormalizeTextCollapsesWhitespace(t *testing.T) {
	got := NormalizeText("  pothole\ton\n\nmain   st  ")
	want := "pothole on main st"

	if got != want {
		t.Fatalf("NormalizeText = %q, want %q", got, want)
	}
}

func TestNormalizeTextIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[ \t\na-zA-Z0-9]{0,64}`).Draw(t, "s")

		once := NormalizeText(s)
		twice := NormalizeText(once)

		if once != twice {
			t.Fatalf("NormalizeText not idempotent for %q: once=%q twice=%q", s, once, twice)
		}
	})
}
