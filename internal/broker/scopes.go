package broker

import (
	"slices"
	"strings"

	"github.com/metromont/castlink/internal/models"
)

// AnalyzeScopes reports which storage capabilities a granted scope list
// carries. Entries may themselves be space-delimited.
func AnalyzeScopes(granted []string) models.ScopeAnalysis {
	var scopes []string
	for _, g := range granted {
		scopes = append(scopes, strings.Fields(g)...)
	}

	has := func(s string) bool { return slices.Contains(scopes, s) }

	a := models.ScopeAnalysis{
		HasDataWrite:    has("data:write"),
		HasDataCreate:   has("data:create"),
		HasBucketCreate: has("bucket:create"),
		HasBucketRead:   has("bucket:read"),
		HasBucketUpdate: has("bucket:update"),
		HasBucketDelete: has("bucket:delete"),
	}

	a.EnhancedPermissions = a.HasDataWrite && a.HasDataCreate
	a.FullBucketPermissions = a.HasBucketCreate && a.HasBucketRead && a.HasBucketUpdate && a.HasBucketDelete

	return a
}
