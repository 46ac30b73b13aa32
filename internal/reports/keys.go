package reports

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	reportPrefix      = "report_"
	calculationPrefix = "calculation_"
	objectSuffix      = ".json"
	keyDateLayout     = "20060102"

	slugLen   = 10
	digestLen = 12
)

// BucketKey derives the bucket for a project in the session that started
// at epoch: <prefix>-<slug>-<digest>. The slug keeps the key readable, the
// digest keeps it unique. An empty prefix is omitted.
func BucketKey(prefix, projectID string, epoch time.Time) string {
	sum := blake2b.Sum256([]byte(projectID + "|" + strconv.FormatInt(epoch.Unix(), 10)))
	digest := hex.EncodeToString(sum[:])[:digestLen]

	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}

	return strings.Join(append(parts, slug(projectID), digest), "-")
}

// slug folds s to at most slugLen lowercase ASCII letters and digits.
// Diacritics are stripped ("Béton" becomes "beton"); everything else that
// is not alphanumeric is dropped.
func slug(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))

	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder

	for _, r := range strings.ToLower(folded) {
		if b.Len() == slugLen {
			break
		}

		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "p"
	}

	return b.String()
}

// ObjectKey is the object name for a report saved at t. Saving the same
// report twice on one (UTC) day overwrites the earlier copy.
func ObjectKey(reportID string, t time.Time) string {
	return reportPrefix + reportID + "_" + t.UTC().Format(keyDateLayout) + objectSuffix
}

// CalculationKey is the object name for a calculation saved at t.
func CalculationKey(calculationID string, t time.Time) string {
	return calculationPrefix + calculationID + "_" + t.UTC().Format(keyDateLayout) + objectSuffix
}

// ParseObjectKey extracts the report ID and save date from a report
// object key. ok is false for anything that is not a report object.
func ParseObjectKey(objectKey string) (reportID string, saved time.Time, ok bool) {
	if !strings.HasPrefix(objectKey, reportPrefix) || !strings.HasSuffix(objectKey, objectSuffix) {
		return "", time.Time{}, false
	}

	body := strings.TrimSuffix(strings.TrimPrefix(objectKey, reportPrefix), objectSuffix)

	i := strings.LastIndex(body, "_")
	if i <= 0 {
		return "", time.Time{}, false
	}

	saved, err := time.Parse(keyDateLayout, body[i+1:])
	if err != nil {
		return "", time.Time{}, false
	}

	return body[:i], saved, true
}
