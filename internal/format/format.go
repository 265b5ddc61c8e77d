// Package format maps quality tiers to ordered stream selection ladders understood by yt-dlp.
//
// A ladder is evaluated by the engine left to right; the first rule that matches an
// available stream wins. Every ladder ends with "best" so a selection always exists.
package format

import (
	"fmt"
	"slices"
	"strings"

	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
)

// ProtocolProgressive restricts a rule to plain, non-fragmented HTTPS downloads.
const ProtocolProgressive = "https"

// Rule is one rung of a ladder.
type Rule struct {
	// AudioOnly selects from audio-only streams ("bestaudio") instead of any stream ("best").
	AudioOnly bool
	// MaxABR caps the average audio bitrate in kbps; 0 means no cap.
	MaxABR int
	// Ext requires a container extension, e.g. "m4a".
	Ext string
	// Protocol requires a transport protocol.
	Protocol string
}

// String renders the rule in yt-dlp selector syntax, e.g. "bestaudio[abr<=64][protocol=https]".
func (r Rule) String() string {
	var b strings.Builder

	if r.AudioOnly {
		b.WriteString("bestaudio")
	} else {
		b.WriteString("best")
	}

	if r.MaxABR > 0 {
		fmt.Fprintf(&b, "[abr<=%d]", r.MaxABR)
	}

	if r.Ext != "" {
		fmt.Fprintf(&b, "[ext=%s]", r.Ext)
	}

	if r.Protocol != "" {
		fmt.Fprintf(&b, "[protocol=%s]", r.Protocol)
	}

	return b.String()
}

// Specifier is an ordered fallback ladder.
type Specifier []Rule

// String joins the rules with "/", the engine's fallback operator.
func (s Specifier) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = r.String()
	}

	return strings.Join(parts, "/")
}

// First returns the most preferred rule.
func (s Specifier) First() Rule {
	if len(s) == 0 {
		return Rule{}
	}

	return s[0]
}

// capped builds the bitrate-capped ladder shared by low and medium: progressive
// streams under each cap first, then any transport, then any m4a, then anything.
func capped(primary, secondary int) Specifier {
	return Specifier{
		{AudioOnly: true, MaxABR: primary, Protocol: ProtocolProgressive},
		{AudioOnly: true, MaxABR: secondary, Protocol: ProtocolProgressive},
		{AudioOnly: true, MaxABR: primary},
		{AudioOnly: true, MaxABR: secondary},
		{AudioOnly: true, Ext: "m4a"},
		{AudioOnly: true},
		{},
	}
}

var ladders = map[entity.QualityTier]Specifier{
	entity.QualityLow:    capped(64, 80),
	entity.QualityMedium: capped(128, 160),
	entity.QualityHigh: {
		{AudioOnly: true, Protocol: ProtocolProgressive},
		{AudioOnly: true},
		{},
	},
}

// For returns the ladder for tier. The returned slice is a copy.
func For(tier entity.QualityTier) (Specifier, error) {
	spec, ok := ladders[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownTier, tier)
	}

	return slices.Clone(spec), nil
}

// MustFor is like For but panics on an unknown tier.
// Tiers reaching the orchestrator are already validated, so an unknown one is a programming error.
func MustFor(tier entity.QualityTier) Specifier {
	spec, err := For(tier)
	if err != nil {
		panic(fmt.Sprintf("format: %v", err))
	}

	return spec
}
