package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/crabigator/crabigator-stats/internal/stats"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func parseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q: expected %s, %s or %s", s, formatTable, formatJSON, formatYAML)
	}
}

func renderReport(w io.Writer, r stats.Report, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return renderTable(w, r)
	}
}

func renderTable(w io.Writer, r stats.Report) error {
	p := message.NewPrinter(language.English)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	p.Fprintf(tw, "%s\tlevel %d\n", r.Username, r.Level)
	p.Fprintf(tw, "Reviews available\t%d\n", r.AvailableReviews)
	p.Fprintf(tw, "Lessons available\t%d\n", r.AvailableLessons)
	p.Fprintf(tw, "Time on level\t%s\n", r.CurrentLevelTime)
	p.Fprintf(tw, "Average level time\t%s\n", r.AverageLevelTime)
	if r.PredictedLevelUp != nil {
		p.Fprintf(tw, "Predicted level up\t%s\n", r.PredictedLevelUp.Local().Format(time.DateTime))
	} else {
		p.Fprintf(tw, "Predicted level up\t-\n")
	}

	p.Fprintf(tw, "\nSRS stage\tItems\tShare\n")
	for _, s := range r.SRS {
		p.Fprintf(tw, "%s\t%d\t%d%%\n", s.Name, s.Count, s.Percent)
	}

	p.Fprintf(tw, "\nAccuracy\tMeaning\tReading\n")
	for _, a := range r.Accuracy {
		p.Fprintf(tw, "%s\t%d%%\t%d%%\n", a.Type, a.Meaning, a.Reading)
	}

	if len(r.Progression) > 0 {
		p.Fprintf(tw, "\nLevel\tPassed\n")
		for _, l := range r.Progression {
			p.Fprintf(tw, "%d\t%s\n", l.Level, l.PassedAt.Local().Format(time.DateOnly))
		}
	}

	return tw.Flush()
}
