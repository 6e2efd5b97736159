package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Localized response templates (C12, §6.2).
 *
 * Description:	Loaded from templates.yaml the same way deviceid.go
 *		loads tocalls.yaml: read once at startup, fall back to
 *		built-in defaults on any error so a missing/bad file
 *		never prevents the gateway from starting or acking.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// AckKind names the outcome templates of §6.2.
type AckKind string

const (
	AckMissingText    AckKind = "missing_text"
	AckSuccess        AckKind = "ack_success"
	AckQueued         AckKind = "ack_queued"
	AckRejectNoGPS    AckKind = "reject_no_gps"
	AckRejectStaleGPS AckKind = "reject_stale_gps"
	AckDuplicate      AckKind = "duplicate"
	AckPromoted       AckKind = "ack_promoted"
	AckHelp           AckKind = "help"
	AckStatus         AckKind = "status"
	AckCount          AckKind = "count"
	AckList           AckKind = "list"
	AckQueueInfo      AckKind = "queue"
	AckNodes          AckKind = "nodes"
	AckDailyBroadcast AckKind = "daily_broadcast"
	AckSummary        AckKind = "summary"
)

// defaultTemplates mirrors spec.md §6.2 verbatim, for locale "en".
var defaultTemplates = map[AckKind]string{
	AckMissingText:    "Missing report text. Use: #osmnote <description>",
	AckSuccess:        "Note created. #%d %s",
	AckQueued:         "Queued. %s",
	AckRejectNoGPS:    "No recent GPS; keep device outdoors 30-60 s.",
	AckRejectStaleGPS: "Last position older than 60 s; wait for GPS.",
	AckDuplicate:      "Already registered.",
	AckPromoted:       "Sent from queue: %s -> #%d %s",
	AckHelp:           "Commands: #osmnote <text> #osmcount #osmlist [n] #osmqueue #osmnodes #osmstatus",
	AckStatus:         "meshgate up, radio %s, %d pending",
	AckCount:          "%d reports today",
	AckList:           "Recent reports:\n%s",
	AckQueueInfo:      "%d pending in queue",
	AckNodes:          "%d known positions",
	AckDailyBroadcast: "meshgate gateway active. Send #osmnote <text> to report.",
	AckSummary:        "%d reports flushed, use #osmlist",
}

// privacySuffix is appended to user-facing acks per the rule in §4.9.
const privacySuffix = " [reports are public on osm.org]"

// TemplateStore resolves (locale, AckKind) to a format string (C12).
type TemplateStore struct {
	byLocale map[string]map[AckKind]string
	logger   *log.Logger
}

// templatesFile is the on-disk shape of templates.yaml.
type templatesFile struct {
	Locales map[string]map[string]string `yaml:"locales"`
}

// LoadTemplateStore reads path (if non-empty and present) and merges it
// over the built-in English defaults. Any error loading or parsing path
// is logged and the defaults are used instead.
func LoadTemplateStore(path string, logger *log.Logger) *TemplateStore {
	ts := &TemplateStore{
		byLocale: map[string]map[AckKind]string{
			"en": cloneTemplateMap(defaultTemplates),
		},
		logger: logger,
	}

	if path == "" {
		return ts
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if logger != nil {
			logger.Warn("templates: could not read file, using built-in defaults", "path", path, "err", err)
		}

		return ts
	}

	var parsed templatesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		if logger != nil {
			logger.Warn("templates: could not parse file, using built-in defaults", "path", path, "err", err)
		}

		return ts
	}

	for locale, kv := range parsed.Locales {
		merged := cloneTemplateMap(defaultTemplates)

		for k, v := range kv {
			merged[AckKind(k)] = v
		}

		ts.byLocale[locale] = merged
	}

	return ts
}

func cloneTemplateMap(m map[AckKind]string) map[AckKind]string {
	out := make(map[AckKind]string, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// Render formats the template for kind in locale (falling back to "en"
// if locale is unknown), appending the privacy suffix per §4.9's rule
// unless suppressSuffix is set by the caller (used for
// AckPromoted/AckDailyBroadcast).
func (t *TemplateStore) Render(locale string, kind AckKind, suppressSuffix bool, args ...any) string {
	byKind, ok := t.byLocale[locale]
	if !ok {
		byKind = t.byLocale["en"]
	}

	format, ok := byKind[kind]
	if !ok {
		format = defaultTemplates[kind]
	}

	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}

	if suppressSuffix {
		return text
	}

	return text + privacySuffix
}
