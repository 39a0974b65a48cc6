// Package stats derives the dashboard figures from cached WaniKani data. All
// functions are pure: the current time is always passed in.
package stats

import (
	"fmt"
	"math"
	"slices"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/crabigator/crabigator-stats/internal/wanikani"
)

// MaxProgressionPoints bounds the level progression series.
const MaxProgressionPoints = 20

const day = 24 * time.Hour

// Stage is a named group of SRS stages.
type Stage struct {
	Name   string
	Stages []int
}

// Stages lists the SRS groups in display order.
var Stages = []Stage{
	{Name: "Apprentice", Stages: []int{1, 2, 3, 4}},
	{Name: "Guru", Stages: []int{5, 6}},
	{Name: "Master", Stages: []int{7}},
	{Name: "Enlightened", Stages: []int{8}},
	{Name: "Burned", Stages: []int{9}},
}

// SubjectTypes lists the subject types accuracy is reported for.
var SubjectTypes = []string{"radical", "kanji", "vocabulary"}

// StageCount is the number of assignments in one SRS group.
type StageCount struct {
	Name    string `json:"name" yaml:"name"`
	Count   int    `json:"count" yaml:"count"`
	Percent int    `json:"percent" yaml:"percent"`
}

// SRSDistribution counts assignments per SRS group, in display order.
// Assignments outside every group (locked, or in lessons) are not counted,
// and groups holding no assignments are left out. Percent is the share of
// counted assignments, rounded.
func SRSDistribution(assignments []wanikani.Resource[wanikani.Assignment]) []StageCount {
	counts := make([]StageCount, len(Stages))
	total := 0

	for i, s := range Stages {
		counts[i].Name = s.Name
	}

	for _, a := range assignments {
		for i, s := range Stages {
			if slices.Contains(s.Stages, a.Data.SRSStage) {
				counts[i].Count++
				total++
				break
			}
		}
	}

	counts = slices.DeleteFunc(counts, func(s StageCount) bool { return s.Count == 0 })
	for i := range counts {
		counts[i].Percent = percent(counts[i].Count, total)
	}

	return counts
}

// Accuracy is the share of correct answers for one subject type, as rounded
// percentages. A type with no answers reports zero.
type Accuracy struct {
	Type    string `json:"type" yaml:"type"`
	Meaning int    `json:"meaning" yaml:"meaning"`
	Reading int    `json:"reading" yaml:"reading"`
}

type tally struct {
	meaningCorrect, meaningIncorrect int
	readingCorrect, readingIncorrect int
}

// AccuracyByType sums review statistics per subject type. Statistics for
// other subject types are ignored.
func AccuracyByType(statistics []wanikani.Resource[wanikani.ReviewStatistic]) []Accuracy {
	lower := cases.Lower(language.Und)
	title := cases.Title(language.English)

	tallies := make(map[string]*tally, len(SubjectTypes))
	for _, t := range SubjectTypes {
		tallies[t] = &tally{}
	}

	for _, s := range statistics {
		t, ok := tallies[lower.String(s.Data.SubjectType)]
		if !ok {
			continue
		}
		t.meaningCorrect += s.Data.MeaningCorrect
		t.meaningIncorrect += s.Data.MeaningIncorrect
		t.readingCorrect += s.Data.ReadingCorrect
		t.readingIncorrect += s.Data.ReadingIncorrect
	}

	out := make([]Accuracy, 0, len(SubjectTypes))
	for _, name := range SubjectTypes {
		t := tallies[name]
		out = append(out, Accuracy{
			Type:    title.String(name),
			Meaning: percent(t.meaningCorrect, t.meaningCorrect+t.meaningIncorrect),
			Reading: percent(t.readingCorrect, t.readingCorrect+t.readingIncorrect),
		})
	}

	return out
}

// LevelPoint is one passed level.
type LevelPoint struct {
	Level    int       `json:"level" yaml:"level"`
	PassedAt time.Time `json:"passed_at" yaml:"passed_at"`
}

// LevelProgression returns the passed levels ordered by when they were
// passed. Long histories are sampled down to at most MaxProgressionPoints
// by keeping every ceil(n/MaxProgressionPoints)th point, starting with the
// first.
func LevelProgression(progressions []wanikani.Resource[wanikani.LevelProgression]) []LevelPoint {
	points := make([]LevelPoint, 0, len(progressions))
	for _, p := range progressions {
		if p.Data.PassedAt == nil {
			continue
		}
		points = append(points, LevelPoint{Level: p.Data.Level, PassedAt: *p.Data.PassedAt})
	}

	slices.SortStableFunc(points, func(a, b LevelPoint) int {
		return a.PassedAt.Compare(b.PassedAt)
	})

	if len(points) <= MaxProgressionPoints {
		return points
	}

	step := (len(points) + MaxProgressionPoints - 1) / MaxProgressionPoints
	sampled := make([]LevelPoint, 0, MaxProgressionPoints)
	for i, p := range points {
		if i%step == 0 {
			sampled = append(sampled, p)
		}
	}

	return sampled
}

// CurrentLevelTime is how long the user has spent on level so far: the time
// since the first progression for that level was started. It is zero when
// that level has not been started.
func CurrentLevelTime(progressions []wanikani.Resource[wanikani.LevelProgression], level int, now time.Time) time.Duration {
	for _, p := range progressions {
		if p.Data.Level != level {
			continue
		}
		if p.Data.StartedAt == nil {
			return 0
		}
		return now.Sub(*p.Data.StartedAt)
	}
	return 0
}

// AverageLevelTime is the mean time from start to pass over every
// progression that has both. It is zero when there are none.
func AverageLevelTime(progressions []wanikani.Resource[wanikani.LevelProgression]) time.Duration {
	var sum time.Duration
	n := 0

	for _, p := range progressions {
		if p.Data.StartedAt == nil || p.Data.PassedAt == nil {
			continue
		}
		sum += p.Data.PassedAt.Sub(*p.Data.StartedAt)
		n++
	}

	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// PredictLevelUp estimates when the current level will be passed, assuming
// it takes the average level time. There is no prediction without an
// average.
func PredictLevelUp(average, current time.Duration, now time.Time) (time.Time, bool) {
	if average == 0 {
		return time.Time{}, false
	}
	return now.Add(average - current), true
}

// AvailableReviews counts the subjects in every review bucket of summary.
func AvailableReviews(summary *wanikani.Resource[wanikani.Summary]) int {
	if summary == nil {
		return 0
	}
	return countSubjects(summary.Data.Reviews)
}

// AvailableLessons counts the subjects in every lesson bucket of summary.
func AvailableLessons(summary *wanikani.Resource[wanikani.Summary]) int {
	if summary == nil {
		return 0
	}
	return countSubjects(summary.Data.Lessons)
}

func countSubjects(buckets []wanikani.SummaryBucket) int {
	n := 0
	for _, b := range buckets {
		n += len(b.SubjectIDs)
	}
	return n
}

// FormatDuration renders d as whole days and hours ("3d 4h"), or hours alone
// under a day ("5h"). Partial hours are truncated and negative durations
// render as "0h".
func FormatDuration(d time.Duration) string {
	d = max(d, 0)

	days := int64(d / day)
	hours := int64((d % day) / time.Hour)

	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	return fmt.Sprintf("%dh", hours)
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

