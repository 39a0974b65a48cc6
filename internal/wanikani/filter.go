package wanikani

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Filter narrows a collection request. Zero fields are omitted.
type Filter struct {
	IDs          []int
	SubjectIDs   []int
	Levels       []int
	Types        []string
	UpdatedAfter time.Time
	Hidden       *bool
}

// Values encodes the filter as query parameters.
func (f Filter) Values() url.Values {
	v := url.Values{}

	if len(f.IDs) > 0 {
		v.Set("ids", joinInts(f.IDs))
	}
	if len(f.SubjectIDs) > 0 {
		v.Set("subject_ids", joinInts(f.SubjectIDs))
	}
	if len(f.Levels) > 0 {
		v.Set("levels", joinInts(f.Levels))
	}
	if len(f.Types) > 0 {
		v.Set("types", strings.Join(f.Types, ","))
	}
	if !f.UpdatedAfter.IsZero() {
		v.Set("updated_after", f.UpdatedAfter.UTC().Format(time.RFC3339Nano))
	}
	if f.Hidden != nil {
		v.Set("hidden", strconv.FormatBool(*f.Hidden))
	}

	return v
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, n := range vals {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
