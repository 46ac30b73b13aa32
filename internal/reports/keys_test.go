package reports

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metromont/castlink/internal/oss"
)

func TestBucketKey_Deterministic(t *testing.T) {
	epoch := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	a := BucketKey("metromont", "PRJ-001", epoch)
	b := BucketKey("metromont", "PRJ-001", epoch)

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "metromont-prj001-"), a)
	assert.Len(t, a, len("metromont-prj001-")+digestLen)
	assert.True(t, oss.ValidBucketKey(a), a)
}

func TestBucketKey_VariesByProjectAndEpoch(t *testing.T) {
	epoch := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	base := BucketKey("metromont", "PRJ-001", epoch)
	assert.NotEqual(t, base, BucketKey("metromont", "PRJ-002", epoch))
	assert.NotEqual(t, base, BucketKey("metromont", "PRJ-001", epoch.Add(time.Second)))

	// Same slug, different project: the digest still separates them.
	assert.NotEqual(t, BucketKey("m", "prj.001", epoch), BucketKey("m", "PRJ 001", epoch))
}

func TestBucketKey_NoPrefix(t *testing.T) {
	key := BucketKey("", "abc", time.Unix(0, 0))
	assert.True(t, strings.HasPrefix(key, "abc-"), key)
	assert.True(t, oss.ValidBucketKey(key), key)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PRJ-001", "prj001"},
		{"Béton Précontraint", "betonpreco"},
		{"Ünïcødé", "unicde"},
		{"   ", "p"},
		{"日本", "p"},
		{"abcdefghijklmnop", "abcdefghij"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, slug(tt.in))
		})
	}
}

func TestObjectKey(t *testing.T) {
	// Late evening in New York is already the next day in UTC.
	ny := time.FixedZone("EST", -5*3600)
	saved := time.Date(2025, 3, 1, 22, 0, 0, 0, ny)

	assert.Equal(t, "report_R-17_20250302.json", ObjectKey("R-17", saved))
	assert.Equal(t, "calculation_c1_20250302.json", CalculationKey("c1", saved))
}

func TestParseObjectKey(t *testing.T) {
	id, saved, ok := ParseObjectKey("report_bed_7_A_20250302.json")
	require.True(t, ok)
	assert.Equal(t, "bed_7_A", id)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), saved)

	for _, key := range []string{
		"calculation_c1_20250302.json",
		"report_R-17_20250302.txt",
		"report__20250302.json",
		"report_R-17_2025.json",
		"report_R-17.json",
		"notes.json",
	} {
		_, _, ok := ParseObjectKey(key)
		assert.False(t, ok, key)
	}
}

func TestParseObjectKey_RoundTrip(t *testing.T) {
	now := time.Date(2025, 7, 4, 9, 30, 0, 0, time.UTC)

	id, saved, ok := ParseObjectKey(ObjectKey("QC-2025-0042", now))
	require.True(t, ok)
	assert.Equal(t, "QC-2025-0042", id)
	assert.Equal(t, "2025-07-04", saved.Format(time.DateOnly))
}
