package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDeadline(t *testing.T) {
	want := time.Date(2026, 11, 8, 0, 0, 0, 0, time.UTC)
	for _, value := range []string{
		"2026-11-08",
		" 2026-11-08 ",
		"2026-11-08T10:00:00Z",
		"2026/11/08",
		"08/11/2026",
		"November 8, 2026",
		"Nov 8, 2026",
		"8 November 2026",
		"08 Nov 2026",
	} {
		got, ok := ParseDeadline(value, time.UTC)
		if assert.True(t, ok, value) {
			assert.True(t, want.Equal(got), "%s parsed as %s", value, got)
		}
	}

	for _, value := range []string{"", "N/A", "2026-13-40", "next week"} {
		_, ok := ParseDeadline(value, time.UTC)
		assert.False(t, ok, value)
	}
}

func TestInWindowBoundsAreExclusive(t *testing.T) {
	today := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	cases := map[int]bool{
		-1:  false,
		0:   false,
		1:   true,
		10:  true,
		89:  true,
		90:  false,
		200: false,
	}
	for offset, want := range cases {
		assert.Equal(t, want, InWindow(today, today.AddDate(0, 0, offset), 90), "offset %d", offset)
	}
}
