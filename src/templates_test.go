package gateway

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTemplateStoreDefaultsWithoutFile(t *testing.T) {
	ts := LoadTemplateStore("", nil)

	text := ts.Render("en", AckHelp, false)
	if text == "" {
		t.Fatal("expected a non-empty default help template")
	}
}

func TestTemplateStoreMergesLocaleOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")

	content := "locales:\n  es:\n    help: \"Comandos disponibles: #osmnote\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ts := LoadTemplateStore(path, nil)

	got := ts.Render("es", AckHelp, false)
	if got != "Comandos disponibles: #osmnote"+privacySuffix {
		t.Fatalf("got %q", got)
	}

	// Keys not overridden for a locale still fall back to the English default.
	gotStatus := ts.Render("es", AckStatus, false, "up", 0)
	if gotStatus == "" {
		t.Fatal("expected a fallback status template for the partially-overridden locale")
	}
}

func TestTemplateStoreFallsBackOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")

	if err := os.WriteFile(path, []byte("not: valid: yaml: ["), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ts := LoadTemplateStore(path, nil)

	if ts.Render("en", AckHelp, false) == "" {
		t.Fatal("expected built-in default to be used after a bad templates file")
	}
}

func TestTemplateStoreUnknownLocaleFallsBackToEnglish(t *testing.T) {
	ts := LoadTemplateStore("", nil)

	got := ts.Render("zz", AckHelp, false)
	want := ts.Render("en", AckHelp, false)

	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
