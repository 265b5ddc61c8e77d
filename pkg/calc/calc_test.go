package calc

import (
	"testing"
	"testing/synctest"
	"time"
)

func TestProgress(t *testing.T) {
	tests := []struct {
		name              string
		downloaded, total int
		want              int
	}{
		{"total_zero", 10, 0, 0},
		{"zero_downloaded", 0, 100, 0},
		{"half", 50, 100, 50},
		{"one_third", 1, 3, 33},
		{"two_thirds", 2, 3, 67},
		{"exact_100", 100, 100, 100},
		{"over_100", 150, 100, 150}, // not clamped
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := Progress(tc.downloaded, tc.total); got != tc.want {
				t.Fatalf("Progress(%d, %d) = %d; want %d", tc.downloaded, tc.total, got, tc.want)
			}
		})
	}
}

func TestETA(t *testing.T) {
	tests := []struct {
		name              string
		downloaded, total int
		elapsed           time.Duration
		want              time.Duration
	}{
		{"total_zero", 10, 0, time.Second, 0},
		{"nothing_downloaded", 0, 100, time.Second, 0},
		{"half", 50, 100, 2 * time.Second, 2 * time.Second},
		{"quarter", 25, 100, 4 * time.Second, 12 * time.Second},
		{"done", 100, 100, 3 * time.Second, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				started := time.Now()
				time.Sleep(tc.elapsed)

				if got := ETA(tc.downloaded, tc.total, started); got != tc.want {
					t.Fatalf("ETA(%d, %d) after %v = %v; want %v", tc.downloaded, tc.total, tc.elapsed, got, tc.want)
				}
			})
		})
	}
}

func TestMiB(t *testing.T) {
	tests := []struct {
		n    int64
		want float64
	}{
		{0, 0},
		{1024 * 1024, 1},
		{48 * 1024 * 1024, 48},
		{3 * 512 * 1024, 1.5},
	}

	for _, tc := range tests {
		if got := MiB(tc.n); got != tc.want {
			t.Errorf("MiB(%d) = %v; want %v", tc.n, got, tc.want)
		}
	}
}
