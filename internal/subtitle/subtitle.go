// Package subtitle decides which subtitle tracks to request for a video.
//
// Precedence:
//  1. the auto-generated caption in the video's original language,
//  2. every manually uploaded track,
//  3. the auto-generated caption in the preferred language (English by default).
package subtitle

import (
	"slices"
	"strings"

	"tunegrab/internal/consts"
	"tunegrab/internal/entity"

	"golang.org/x/text/language"
)

// origSuffix marks YouTube's untranslated auto caption track, e.g. "de-orig".
const origSuffix = "-orig"

// Kind names the branch that produced a Plan.
type Kind string

const (
	KindOriginalAuto Kind = "original-language auto"
	KindManual       Kind = "manual"
	KindFallback     Kind = "auto-generated fallback"
)

// Plan tells the engine which tracks to write.
type Plan struct {
	Kind  Kind
	Langs []string
	// Auto selects auto-generated captions instead of uploaded subtitles.
	Auto bool
}

// SubLangs renders Langs for the engine's --sub-langs flag.
func (p Plan) SubLangs() string {
	return strings.Join(p.Langs, ",")
}

// Label is a short human description, e.g. "manual (de, en)".
func (p Plan) Label() string {
	if len(p.Langs) == 0 {
		return string(p.Kind)
	}

	return string(p.Kind) + " (" + strings.Join(p.Langs, ", ") + ")"
}

// Select picks the tracks to fetch. It never fails: with no tracks at all the
// fallback plan is returned and the caller reports an empty result.
func Select(meta entity.VideoMetadata, req entity.SubtitleRequest) Plan {
	if meta.HasOriginalAutoSubtitles {
		key, ok := OriginalAutoTrack(meta.OriginalLanguage, meta.AutoLanguages)
		if !ok {
			key = Normalize(meta.OriginalLanguage)
		}

		if key != "" {
			return Plan{Kind: KindOriginalAuto, Langs: []string{key}, Auto: true}
		}
	}

	if meta.HasManualSubtitles && len(meta.ManualLanguages) > 0 {
		langs := slices.Clone(meta.ManualLanguages)
		slices.Sort(langs)

		return Plan{Kind: KindManual, Langs: slices.Compact(langs), Auto: false}
	}

	lang := req.PreferredLanguage
	if lang == "" {
		lang = consts.DefaultSubtitleLanguage
	}

	return Plan{Kind: KindFallback, Langs: []string{Normalize(lang)}, Auto: true}
}

// OriginalAutoTrack finds the auto caption key for lang among available keys.
// The untranslated "<lang>-orig" track wins over "<lang>"; region subtags are ignored,
// so "en-US" matches "en-orig".
func OriginalAutoTrack(lang string, available []string) (string, bool) {
	base := Normalize(lang)
	if base == "" {
		return "", false
	}

	var plain string

	for _, key := range available {
		if Normalize(key) != base {
			continue
		}

		if strings.HasSuffix(key, origSuffix) {
			return key, true
		}

		if plain == "" || key == base {
			plain = key
		}
	}

	return plain, plain != ""
}

// Normalize reduces a language tag to its base language, e.g. "en-US" and
// "en-orig" both become "en". Unparseable tags are lowercased as-is.
func Normalize(tag string) string {
	tag = strings.TrimSpace(strings.TrimSuffix(tag, origSuffix))
	if tag == "" {
		return ""
	}

	parsed, err := language.Parse(tag)
	if err != nil {
		return strings.ToLower(tag)
	}

	base, _ := parsed.Base()

	return base.String()
}
