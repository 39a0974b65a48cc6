package wanikani

import "time"

// Resource is a single API object wrapped with its identity and metadata.
// Resources are never mutated after decoding; a refetch produces a new value.
type Resource[T any] struct {
	ID            int       `json:"id,omitempty"`
	Object        string    `json:"object"`
	URL           string    `json:"url"`
	DataUpdatedAt time.Time `json:"data_updated_at"`
	Data          T         `json:"data"`
}

// Pages holds the pagination cursors of a collection response. NextURL is
// nil on the final page.
type Pages struct {
	NextURL     *string `json:"next_url"`
	PreviousURL *string `json:"previous_url"`
	PerPage     int     `json:"per_page"`
}

// Collection is one page of a resource collection.
type Collection[T any] struct {
	Object        string        `json:"object"`
	URL           string        `json:"url"`
	Pages         Pages         `json:"pages"`
	TotalCount    int           `json:"total_count"`
	DataUpdatedAt *time.Time    `json:"data_updated_at"`
	Data          []Resource[T] `json:"data"`
}

// Next returns the continuation locator, or "" on the final page.
func (c Collection[T]) Next() string {
	if c.Pages.NextURL == nil {
		return ""
	}
	return *c.Pages.NextURL
}

type Subscription struct {
	Active          bool       `json:"active"`
	Type            string     `json:"type"`
	MaxLevelGranted int        `json:"max_level_granted"`
	PeriodEndsAt    *time.Time `json:"period_ends_at"`
}

type Preferences struct {
	LessonsAutoplayAudio       bool   `json:"lessons_autoplay_audio"`
	LessonsBatchSize           int    `json:"lessons_batch_size"`
	LessonsPresentationOrder   string `json:"lessons_presentation_order"`
	ReviewsAutoplayAudio       bool   `json:"reviews_autoplay_audio"`
	ReviewsDisplaySRSIndicator bool   `json:"reviews_display_srs_indicator"`
}

type User struct {
	ID                       string       `json:"id"`
	Username                 string       `json:"username"`
	Level                    int          `json:"level"`
	ProfileURL               string       `json:"profile_url"`
	StartedAt                time.Time    `json:"started_at"`
	CurrentVacationStartedAt *time.Time   `json:"current_vacation_started_at"`
	Subscription             Subscription `json:"subscription"`
	Preferences              Preferences  `json:"preferences"`
}

type LevelProgression struct {
	Level       int        `json:"level"`
	CreatedAt   time.Time  `json:"created_at"`
	UnlockedAt  *time.Time `json:"unlocked_at"`
	StartedAt   *time.Time `json:"started_at"`
	PassedAt    *time.Time `json:"passed_at"`
	CompletedAt *time.Time `json:"completed_at"`
	AbandonedAt *time.Time `json:"abandoned_at"`
}

type Assignment struct {
	AvailableAt   *time.Time `json:"available_at"`
	BurnedAt      *time.Time `json:"burned_at"`
	CreatedAt     time.Time  `json:"created_at"`
	Hidden        bool       `json:"hidden"`
	PassedAt      *time.Time `json:"passed_at"`
	ResurrectedAt *time.Time `json:"resurrected_at"`
	SRSStage      int        `json:"srs_stage"`
	StartedAt     *time.Time `json:"started_at"`
	SubjectID     int        `json:"subject_id"`
	SubjectType   string     `json:"subject_type"`
	UnlockedAt    *time.Time `json:"unlocked_at"`
}

type Meaning struct {
	Meaning        string `json:"meaning"`
	Primary        bool   `json:"primary"`
	AcceptedAnswer bool   `json:"accepted_answer"`
}

type AuxiliaryMeaning struct {
	Meaning string `json:"meaning"`
	Type    string `json:"type"`
}

// Subject carries the fields shared by radicals, kanji and vocabulary.
type Subject struct {
	AuxiliaryMeanings        []AuxiliaryMeaning `json:"auxiliary_meanings"`
	Characters               *string            `json:"characters"`
	CreatedAt                time.Time          `json:"created_at"`
	DocumentURL              string             `json:"document_url"`
	HiddenAt                 *time.Time         `json:"hidden_at"`
	LessonPosition           int                `json:"lesson_position"`
	Level                    int                `json:"level"`
	MeaningMnemonic          string             `json:"meaning_mnemonic"`
	Meanings                 []Meaning          `json:"meanings"`
	Slug                     string             `json:"slug"`
	SpacedRepetitionSystemID int                `json:"spaced_repetition_system_id"`
}

type ReviewStatistic struct {
	CreatedAt            time.Time `json:"created_at"`
	Hidden               bool      `json:"hidden"`
	MeaningCorrect       int       `json:"meaning_correct"`
	MeaningCurrentStreak int       `json:"meaning_current_streak"`
	MeaningIncorrect     int       `json:"meaning_incorrect"`
	MeaningMaxStreak     int       `json:"meaning_max_streak"`
	PercentageCorrect    int       `json:"percentage_correct"`
	ReadingCorrect       int       `json:"reading_correct"`
	ReadingCurrentStreak int       `json:"reading_current_streak"`
	ReadingIncorrect     int       `json:"reading_incorrect"`
	ReadingMaxStreak     int       `json:"reading_max_streak"`
	SubjectID            int       `json:"subject_id"`
	SubjectType          string    `json:"subject_type"`
}

// SummaryBucket groups the subjects that become available at one time.
type SummaryBucket struct {
	AvailableAt time.Time `json:"available_at"`
	SubjectIDs  []int     `json:"subject_ids"`
}

type Summary struct {
	Lessons       []SummaryBucket `json:"lessons"`
	NextReviewsAt *time.Time      `json:"next_reviews_at"`
	Reviews       []SummaryBucket `json:"reviews"`
}

type Reset struct {
	ConfirmedAt   *time.Time `json:"confirmed_at"`
	CreatedAt     time.Time  `json:"created_at"`
	OriginalLevel int        `json:"original_level"`
	TargetLevel   int        `json:"target_level"`
}

// errorPayload is the best-effort shape of an API error body.
type errorPayload struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
