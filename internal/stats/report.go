package stats

import (
	"time"

	"github.com/crabigator/crabigator-stats/internal/cache"
	"github.com/crabigator/crabigator-stats/internal/snapshot"
)

// Duration is a time.Duration that renders in the dashboard's "Xd Yh" form.
type Duration time.Duration

func (d Duration) String() string {
	return FormatDuration(time.Duration(d))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Report is every dashboard figure for one snapshot.
type Report struct {
	Username    string    `json:"username" yaml:"username"`
	Level       int       `json:"level" yaml:"level"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`

	CurrentLevelTime Duration   `json:"current_level_time" yaml:"current_level_time"`
	AverageLevelTime Duration   `json:"average_level_time" yaml:"average_level_time"`
	PredictedLevelUp *time.Time `json:"predicted_level_up,omitempty" yaml:"predicted_level_up,omitempty"`

	AvailableReviews int `json:"available_reviews" yaml:"available_reviews"`
	AvailableLessons int `json:"available_lessons" yaml:"available_lessons"`

	SRS         []StageCount `json:"srs_distribution" yaml:"srs_distribution"`
	Accuracy    []Accuracy   `json:"accuracy" yaml:"accuracy"`
	Progression []LevelPoint `json:"level_progression" yaml:"level_progression"`

	// SyncedAt holds the fetch time of every kind that has been fetched.
	SyncedAt map[cache.Kind]time.Time `json:"synced_at" yaml:"synced_at"`
}

// Build derives the report for snap as of now.
func Build(snap snapshot.Snapshot, now time.Time) Report {
	r := Report{
		GeneratedAt: now,
		SyncedAt:    map[cache.Kind]time.Time{},
	}

	if snap.User != nil {
		r.Username = snap.User.Data.Username
		r.Level = snap.User.Data.Level
	}

	progressions := snap.LevelProgressions.Value
	current := CurrentLevelTime(progressions, r.Level, now)
	average := AverageLevelTime(progressions)

	r.CurrentLevelTime = Duration(current)
	r.AverageLevelTime = Duration(average)
	if at, ok := PredictLevelUp(average, current, now); ok {
		r.PredictedLevelUp = &at
	}

	r.AvailableReviews = AvailableReviews(snap.Summary.Value)
	r.AvailableLessons = AvailableLessons(snap.Summary.Value)

	r.SRS = SRSDistribution(snap.Assignments.Value)
	r.Accuracy = AccuracyByType(snap.ReviewStatistics.Value)
	r.Progression = LevelProgression(progressions)

	synced := map[cache.Kind]time.Time{
		cache.KindLevelProgressions: snap.LevelProgressions.SyncedAt,
		cache.KindAssignments:       snap.Assignments.SyncedAt,
		cache.KindReviewStatistics:  snap.ReviewStatistics.SyncedAt,
		cache.KindSummary:           snap.Summary.SyncedAt,
	}
	for kind, at := range synced {
		if !at.IsZero() {
			r.SyncedAt[kind] = at
		}
	}

	return r
}
