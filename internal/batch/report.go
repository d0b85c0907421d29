package batch

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// FileResult is the outcome for one input image.
type FileResult struct {
	Path       string       `json:"path"`
	Output     string       `json:"output,omitempty"`
	OK         bool         `json:"ok"`
	Reason     string       `json:"reason,omitempty"`
	Error      string       `json:"error,omitempty"`
	Corners    [][2]float64 `json:"corners,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// Report summarises a batch run.
type Report struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Failures  map[string]int `json:"failures"`
	Files     []FileResult   `json:"files"`
	StartedAt time.Time      `json:"started_at"`
	Duration  string         `json:"duration"`
}

func newReport(total int) *Report {
	return &Report{
		Total:     total,
		Failures:  make(map[string]int),
		Files:     make([]FileResult, 0, total),
		StartedAt: time.Now().UTC(),
	}
}

func (r *Report) add(fr FileResult) {
	r.Files = append(r.Files, fr)
	if fr.OK {
		r.Succeeded++
		return
	}
	r.Failed++
	r.Failures[fr.Reason]++
}

// Rate is the fraction of processed files that produced a cover.
func (r *Report) Rate() float64 {
	done := r.Succeeded + r.Failed
	if done == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(done)
}

// Summary is a one-line human readable digest.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d covers extracted (%.1f%%)", r.Succeeded, r.Succeeded+r.Failed, r.Rate()*100)

	reasons := make([]string, 0, len(r.Failures))
	for reason := range r.Failures {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for i, reason := range reasons {
		if i == 0 {
			b.WriteString("; failures:")
		}
		fmt.Fprintf(&b, " %s=%d", reason, r.Failures[reason])
	}
	return b.String()
}

// WriteJSON stores the report at path.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by WriteJSON.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &r, nil
}
