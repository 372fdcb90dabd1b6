// Package report renders a finished job result as JSON or CSV files.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/iconidentify/twmd/internal/domain"
)

// Summary is the aggregate block of a JSON report.
type Summary struct {
	TotalUsers          int `json:"totalUsers"`
	SucceededUsers      int `json:"succeededUsers"`
	FailedUsers         int `json:"failedUsers"`
	TotalMedia          int `json:"totalMedia"`
	Downloaded          int `json:"downloaded"`
	Failed              int `json:"failed"`
	Skipped             int `json:"skipped"`
	FailureDetailsCount int `json:"failureDetailsCount"`
}

// JSONReport is the on-disk JSON report shape.
type JSONReport struct {
	GeneratedAt string                 `json:"generatedAt"`
	Summary     Summary                `json:"summary"`
	Failures    []domain.FailureDetail `json:"failures"`
}

// BuildJSON assembles the report value for a job result.
func BuildJSON(result *domain.JobResult) *JSONReport {
	failures := result.FailureDetails
	if failures == nil {
		failures = []domain.FailureDetail{}
	}
	return &JSONReport{
		GeneratedAt: domain.Timestamp(),
		Summary: Summary{
			TotalUsers:          result.TotalUsers,
			SucceededUsers:      result.SucceededUsers,
			FailedUsers:         result.FailedUsers,
			TotalMedia:          result.TotalMedia,
			Downloaded:          result.Downloaded,
			Failed:              result.Failed,
			Skipped:             result.Skipped,
			FailureDetailsCount: len(result.FailureDetails),
		},
		Failures: failures,
	}
}

// WriteJSON writes the full JSON report to path.
func WriteJSON(path string, result *domain.JobResult) error {
	data, err := json.MarshalIndent(BuildJSON(result), "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteFailuresJSON writes a report containing only the failure list.
func WriteFailuresJSON(path string, result *domain.JobResult) error {
	rep := BuildJSON(result)
	out := struct {
		GeneratedAt string                 `json:"generatedAt"`
		Failures    []domain.FailureDetail `json:"failures"`
	}{rep.GeneratedAt, rep.Failures}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode failures report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write failures report: %w", err)
	}
	return nil
}

// csvHeader is fixed; consumers key on column position.
var csvHeader = []string{
	"record_type", "generated_at", "total_users", "succeeded_users",
	"failed_users", "total_media", "downloaded", "failed", "skipped",
	"failure_details_count", "scope", "username", "code", "attempts",
	"tweet_id", "media_id", "url", "target_path", "message", "timestamp",
}

// WriteCSV writes one summary row followed by one row per failure
// detail. Quoting follows RFC 4180: values containing a comma, quote,
// CR or LF are wrapped in double quotes with embedded quotes doubled.
func WriteCSV(path string, result *domain.JobResult) error {
	var b strings.Builder
	writeRow(&b, csvHeader)

	generatedAt := domain.Timestamp()
	writeRow(&b, []string{
		"summary", generatedAt,
		strconv.Itoa(result.TotalUsers), strconv.Itoa(result.SucceededUsers),
		strconv.Itoa(result.FailedUsers), strconv.Itoa(result.TotalMedia),
		strconv.Itoa(result.Downloaded), strconv.Itoa(result.Failed),
		strconv.Itoa(result.Skipped), strconv.Itoa(len(result.FailureDetails)),
		"", "", "", "", "", "", "", "", "", "",
	})

	for _, d := range result.FailureDetails {
		row := []string{
			"failure", generatedAt,
			"", "", "", "", "", "", "", "",
			string(d.Scope), d.Username, d.Code, strconv.Itoa(d.Attempts),
			"", "", "", "",
			d.Message, d.Timestamp,
		}
		if d.Media != nil {
			row[14] = d.Media.TweetID
			row[15] = d.Media.MediaID
			row[16] = d.Media.URL
			row[17] = d.Media.TargetPath
		}
		writeRow(&b, row)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write csv report: %w", err)
	}
	return nil
}

func writeRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeCSV(f))
	}
	b.WriteByte('\n')
}

func escapeCSV(s string) string {
	if !strings.ContainsAny(s, ",\"\r\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
