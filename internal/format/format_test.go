package format_test

import (
	"errors"
	"strings"
	"testing"

	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
	"tunegrab/internal/format"
)

func TestForRendersLadders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tier entity.QualityTier
		want string
	}{
		{
			tier: entity.QualityLow,
			want: "bestaudio[abr<=64][protocol=https]/bestaudio[abr<=80][protocol=https]/" +
				"bestaudio[abr<=64]/bestaudio[abr<=80]/bestaudio[ext=m4a]/bestaudio/best",
		},
		{
			tier: entity.QualityMedium,
			want: "bestaudio[abr<=128][protocol=https]/bestaudio[abr<=160][protocol=https]/" +
				"bestaudio[abr<=128]/bestaudio[abr<=160]/bestaudio[ext=m4a]/bestaudio/best",
		},
		{
			tier: entity.QualityHigh,
			want: "bestaudio[protocol=https]/bestaudio/best",
		},
	}

	for _, tc := range tests {
		t.Run(string(tc.tier), func(t *testing.T) {
			t.Parallel()

			spec, err := format.For(tc.tier)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := spec.String(); got != tc.want {
				t.Errorf("got  %s\nwant %s", got, tc.want)
			}
		})
	}
}

func TestLadderProperties(t *testing.T) {
	t.Parallel()

	for _, tier := range entity.QualityTiers {
		spec := format.MustFor(tier)

		if len(spec) == 0 {
			t.Fatalf("%s: empty ladder", tier)
		}

		last := spec[len(spec)-1]
		if last.AudioOnly || last.MaxABR != 0 || last.Ext != "" || last.Protocol != "" {
			t.Errorf("%s: last rule %q is not unconstrained best", tier, last)
		}

		if !strings.HasSuffix(spec.String(), "/best") {
			t.Errorf("%s: ladder %q does not end with best", tier, spec)
		}

		for i, rule := range spec[:len(spec)-1] {
			if !rule.AudioOnly {
				t.Errorf("%s: rule %d (%s) is not audio only before the final fallback", tier, i, rule)
			}
		}
	}

	if format.MustFor(entity.QualityHigh).First().MaxABR != 0 {
		t.Error("high tier must not cap bitrate on its first rule")
	}

	if format.MustFor(entity.QualityLow).First().MaxABR == 0 {
		t.Error("low tier must cap bitrate on its first rule")
	}

	if format.MustFor(entity.QualityLow).First().MaxABR >= format.MustFor(entity.QualityMedium).First().MaxABR {
		t.Error("low tier must cap bitrate below medium")
	}
}

func TestForReturnsCopy(t *testing.T) {
	t.Parallel()

	spec := format.MustFor(entity.QualityLow)
	spec[0] = format.Rule{}

	if format.MustFor(entity.QualityLow).First().MaxABR != 64 {
		t.Fatal("mutating a returned ladder leaked into the table")
	}
}

func TestForUnknownTier(t *testing.T) {
	t.Parallel()

	_, err := format.For("ultra")
	if !errors.Is(err, errs.ErrUnknownTier) {
		t.Fatalf("got %v, want ErrUnknownTier", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("MustFor did not panic on unknown tier")
		}
	}()

	format.MustFor("")
}
