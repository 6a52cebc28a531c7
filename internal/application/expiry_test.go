package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, IsDue(nil, now), "absent timestamp is always due")
	assert.True(t, IsDue(&past, now))
	assert.False(t, IsDue(&future, now))
	assert.False(t, IsDue(&now, now))
}

func TestStagger_Bounds(t *testing.T) {
	for _, ttl := range []time.Duration{RepositoryMetadataTTL, MembershipTTL, ReleaseTTL, TagReleaseTTL, NilReleaseTTL} {
		for _, r := range []float64{0, 0.1, 0.5, 0.9, 0.999999} {
			got := stagger(ttl, r)
			assert.GreaterOrEqual(t, got, ttl*3/4, "ttl %s r %v", ttl, r)
			assert.LessOrEqual(t, got, ttl*5/4, "ttl %s r %v", ttl, r)
		}
	}

	assert.Equal(t, ReleaseTTL, stagger(ReleaseTTL, 0.5))
	assert.Equal(t, 45*time.Minute, stagger(ReleaseTTL, 0))
}

func TestReleaseTTL(t *testing.T) {
	tests := []struct {
		name  string
		kinds []model.ReleaseKind
		want  time.Duration
	}{
		{"nothing found", nil, NilReleaseTTL},
		{"lightweight tag only", []model.ReleaseKind{model.ReleaseKindLightweightTag}, TagReleaseTTL},
		{"annotated tags", []model.ReleaseKind{model.ReleaseKindTag, model.ReleaseKindTag}, TagReleaseTTL},
		{"prerelease", []model.ReleaseKind{model.ReleaseKindPrerelease}, TagReleaseTTL},
		{"formal release among tags", []model.ReleaseKind{model.ReleaseKindTag, model.ReleaseKindRelease}, ReleaseTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var found []model.DiscoveredRelease
			for _, k := range tt.kinds {
				found = append(found, model.DiscoveredRelease{Version: "v", Kind: k})
			}
			assert.Equal(t, tt.want, releaseTTL(found))
		})
	}
}
