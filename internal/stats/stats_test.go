package stats_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/crabigator/crabigator-stats/internal/cache"
	"github.com/crabigator/crabigator-stats/internal/snapshot"
	"github.com/crabigator/crabigator-stats/internal/stats"
	"github.com/crabigator/crabigator-stats/internal/wanikani"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var now = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func assignments(stages ...int) []wanikani.Resource[wanikani.Assignment] {
	out := make([]wanikani.Resource[wanikani.Assignment], len(stages))
	for i, s := range stages {
		out[i] = wanikani.Resource[wanikani.Assignment]{ID: i + 1, Data: wanikani.Assignment{SRSStage: s}}
	}
	return out
}

func progression(level int, started, passed *time.Time) wanikani.Resource[wanikani.LevelProgression] {
	return wanikani.Resource[wanikani.LevelProgression]{
		ID:   level,
		Data: wanikani.LevelProgression{Level: level, StartedAt: started, PassedAt: passed},
	}
}

func TestSRSDistribution(t *testing.T) {
	got := stats.SRSDistribution(assignments(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 9, 9))

	assert.Equal(t, []stats.StageCount{
		{Name: "Apprentice", Count: 4, Percent: 36},
		{Name: "Guru", Count: 2, Percent: 18},
		{Name: "Master", Count: 1, Percent: 9},
		{Name: "Enlightened", Count: 1, Percent: 9},
		{Name: "Burned", Count: 3, Percent: 27},
	}, got)
}

func TestSRSDistribution_OmitsEmptyGroups(t *testing.T) {
	got := stats.SRSDistribution(assignments(0, 2, 9))

	assert.Equal(t, []stats.StageCount{
		{Name: "Apprentice", Count: 1, Percent: 50},
		{Name: "Burned", Count: 1, Percent: 50},
	}, got)
}

func TestSRSDistribution_Empty(t *testing.T) {
	assert.Empty(t, stats.SRSDistribution(nil))
	assert.Empty(t, stats.SRSDistribution(assignments(0, 0)))
}

func TestAccuracyByType(t *testing.T) {
	statistics := []wanikani.Resource[wanikani.ReviewStatistic]{
		{Data: wanikani.ReviewStatistic{SubjectType: "radical", MeaningCorrect: 9, MeaningIncorrect: 1}},
		{Data: wanikani.ReviewStatistic{SubjectType: "kanji", MeaningCorrect: 2, MeaningIncorrect: 1, ReadingCorrect: 1, ReadingIncorrect: 2}},
		{Data: wanikani.ReviewStatistic{SubjectType: "Kanji", MeaningCorrect: 0, MeaningIncorrect: 0, ReadingCorrect: 0, ReadingIncorrect: 0}},
		{Data: wanikani.ReviewStatistic{SubjectType: "kana_vocabulary", MeaningCorrect: 100}},
	}

	got := stats.AccuracyByType(statistics)

	assert.Equal(t, []stats.Accuracy{
		{Type: "Radical", Meaning: 90, Reading: 0},
		{Type: "Kanji", Meaning: 67, Reading: 33},
		{Type: "Vocabulary", Meaning: 0, Reading: 0},
	}, got)
}

func TestLevelProgression_SortsPassedLevels(t *testing.T) {
	progressions := []wanikani.Resource[wanikani.LevelProgression]{
		progression(3, nil, at(-1*time.Hour)),
		progression(1, nil, at(-3*time.Hour)),
		progression(4, at(-time.Hour), nil),
		progression(2, nil, at(-2*time.Hour)),
	}

	got := stats.LevelProgression(progressions)

	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{got[0].Level, got[1].Level, got[2].Level})
	assert.True(t, got[0].PassedAt.Equal(now.Add(-3*time.Hour)))
}

func TestLevelProgression_Sampling(t *testing.T) {
	cases := []struct {
		passed int
		levels []int
	}{
		{passed: 20, levels: seq(1, 20, 1)},
		// ceil(21/20) = 2: every second point
		{passed: 21, levels: seq(1, 21, 2)},
		{passed: 40, levels: seq(1, 39, 2)},
		// ceil(45/20) = 3
		{passed: 45, levels: seq(1, 43, 3)},
		{passed: 60, levels: seq(1, 58, 3)},
	}

	for _, tc := range cases {
		progressions := make([]wanikani.Resource[wanikani.LevelProgression], tc.passed)
		for i := range progressions {
			progressions[i] = progression(i+1, nil, at(time.Duration(i)*time.Hour))
		}

		got := stats.LevelProgression(progressions)

		levels := make([]int, len(got))
		for i, p := range got {
			levels[i] = p.Level
		}
		assert.Equal(t, tc.levels, levels, "%d passed levels", tc.passed)
		assert.LessOrEqual(t, len(got), stats.MaxProgressionPoints)
	}
}

func seq(from, to, step int) []int {
	var out []int
	for i := from; i <= to; i += step {
		out = append(out, i)
	}
	return out
}

func TestCurrentLevelTime(t *testing.T) {
	progressions := []wanikani.Resource[wanikani.LevelProgression]{
		progression(1, at(-100*time.Hour), at(-50*time.Hour)),
		progression(2, at(-50*time.Hour), nil),
		progression(3, nil, nil),
	}

	assert.Equal(t, 50*time.Hour, stats.CurrentLevelTime(progressions, 2, now))
	assert.Zero(t, stats.CurrentLevelTime(progressions, 3, now), "unstarted level")
	assert.Zero(t, stats.CurrentLevelTime(progressions, 9, now), "unknown level")
}

func TestAverageLevelTime(t *testing.T) {
	progressions := []wanikani.Resource[wanikani.LevelProgression]{
		progression(1, at(-100*time.Hour), at(-90*time.Hour)),
		progression(2, at(-90*time.Hour), at(-70*time.Hour)),
		progression(3, at(-70*time.Hour), nil),
		progression(4, nil, at(-10*time.Hour)),
	}

	assert.Equal(t, 15*time.Hour, stats.AverageLevelTime(progressions))
	assert.Zero(t, stats.AverageLevelTime(nil))
}

func TestPredictLevelUp(t *testing.T) {
	got, ok := stats.PredictLevelUp(10*day, 4*day, now)
	require.True(t, ok)
	assert.True(t, got.Equal(now.Add(6*day)))

	got, ok = stats.PredictLevelUp(2*day, 3*day, now)
	require.True(t, ok)
	assert.True(t, got.Equal(now.Add(-day)), "an overdue level predicts a past date")

	_, ok = stats.PredictLevelUp(0, 3*day, now)
	assert.False(t, ok)
}

const day = 24 * time.Hour

func TestAvailableReviewsAndLessons(t *testing.T) {
	summary := &wanikani.Resource[wanikani.Summary]{
		Data: wanikani.Summary{
			Lessons: []wanikani.SummaryBucket{{SubjectIDs: []int{1, 2}}},
			Reviews: []wanikani.SummaryBucket{
				{SubjectIDs: []int{3, 4, 5}},
				{SubjectIDs: nil},
				{SubjectIDs: []int{6}},
			},
		},
	}

	assert.Equal(t, 4, stats.AvailableReviews(summary))
	assert.Equal(t, 2, stats.AvailableLessons(summary))
	assert.Zero(t, stats.AvailableReviews(nil))
	assert.Zero(t, stats.AvailableLessons(nil))
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{d: 0, want: "0h"},
		{d: 59 * time.Minute, want: "0h"},
		{d: 5*time.Hour + 59*time.Minute, want: "5h"},
		{d: 23 * time.Hour, want: "23h"},
		{d: day, want: "1d 0h"},
		{d: 3*day + 4*time.Hour + 30*time.Minute, want: "3d 4h"},
		{d: 12 * day, want: "12d 0h"},
		{d: -time.Hour, want: "0h"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, stats.FormatDuration(tc.d), "%s", tc.d)
	}
}

func TestBuild(t *testing.T) {
	synced := now.Add(-time.Minute)
	snap := snapshot.Snapshot{
		Token: "token",
		User: &wanikani.Resource[wanikani.User]{
			Data: wanikani.User{Username: "crabigator", Level: 2},
		},
		LevelProgressions: snapshot.Entry[snapshot.LevelProgressions]{
			Value: snapshot.LevelProgressions{
				progression(1, at(-10*day), at(-4*day)),
				progression(2, at(-4*day), nil),
			},
			SyncedAt: synced,
		},
		Assignments: snapshot.Entry[snapshot.Assignments]{
			Value:    assignments(1, 5, 9, 9),
			SyncedAt: synced,
		},
		Summary: snapshot.Entry[snapshot.Summary]{
			Value: &wanikani.Resource[wanikani.Summary]{
				Data: wanikani.Summary{Reviews: []wanikani.SummaryBucket{{SubjectIDs: []int{1, 2, 3}}}},
			},
			SyncedAt: synced,
		},
	}

	r := stats.Build(snap, now)

	assert.Equal(t, "crabigator", r.Username)
	assert.Equal(t, 2, r.Level)
	assert.Equal(t, "4d 0h", r.CurrentLevelTime.String())
	assert.Equal(t, "6d 0h", r.AverageLevelTime.String())
	require.NotNil(t, r.PredictedLevelUp)
	assert.True(t, r.PredictedLevelUp.Equal(now.Add(2*day)))
	assert.Equal(t, 3, r.AvailableReviews)
	assert.Equal(t, 0, r.AvailableLessons)
	require.Len(t, r.SRS, 3)
	assert.Equal(t, "Burned", r.SRS[2].Name)
	assert.Equal(t, 2, r.SRS[2].Count)
	assert.Len(t, r.Accuracy, 3)
	assert.Len(t, r.Progression, 1)
	assert.Len(t, r.SyncedAt, 3)
	assert.NotContains(t, r.SyncedAt, cache.KindReviewStatistics)
}

func TestBuild_EmptySnapshot(t *testing.T) {
	r := stats.Build(snapshot.Snapshot{}, now)

	assert.Empty(t, r.Username)
	assert.Nil(t, r.PredictedLevelUp)
	assert.Equal(t, "0h", r.CurrentLevelTime.String())
	assert.Empty(t, r.Progression)
	assert.Empty(t, r.SyncedAt)
}

func TestReport_Encoding(t *testing.T) {
	r := stats.Report{
		Username:         "crabigator",
		CurrentLevelTime: stats.Duration(3*day + 4*time.Hour),
	}

	j, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(j), `"current_level_time":"3d 4h"`)
	assert.NotContains(t, string(j), "predicted_level_up")

	y, err := yaml.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(y), "current_level_time: 3d 4h")
	assert.Contains(t, string(y), "username: crabigator")
}
