package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/justapithecus/artificer/metrics"
	"github.com/justapithecus/artificer/types"
)

// SessionReport is the structured JSON report written by --report.
type SessionReport struct {
	SessionID  string  `json:"session_id"`
	Outcome    Outcome `json:"outcome"`
	Message    string  `json:"message"`
	ExitCode   int     `json:"exit_code"`
	DurationMs int64   `json:"duration_ms"`
	Chunks     int64   `json:"chunks"`

	Policy  *ReportPolicy     `json:"policy"`
	Actions []ReportAction    `json:"actions"`
	Metrics *metrics.Snapshot `json:"metrics"`

	ParseErrors []types.ParseErrorEvent `json:"parse_errors,omitempty"`
	// Incomplete lists message ids that ended with an open tag.
	Incomplete []string `json:"incomplete,omitempty"`
}

// ReportPolicy holds policy stats in the report.
type ReportPolicy struct {
	Name           string `json:"name"`
	Submitted      int64  `json:"submitted"`
	Files          int64  `json:"files"`
	Shells         int64  `json:"shells"`
	BatchesFlushed int64  `json:"batches_flushed"`
	MaxBatchSize   int64  `json:"max_batch_size"`
}

// ReportAction is one action line in the report. File contents are left
// out.
type ReportAction struct {
	ID         string             `json:"id"`
	ArtifactID string             `json:"artifact_id,omitempty"`
	Type       types.ActionType   `json:"type"`
	Target     string             `json:"target"`
	Status     types.ActionStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	ExitCode   *int               `json:"exit_code,omitempty"`
}

// BuildSessionReport composes a SessionReport from a Result.
// The policyName is the policy name string ("strict" or "batched").
func BuildSessionReport(result *Result, policyName string) *SessionReport {
	report := &SessionReport{
		SessionID:  result.SessionID,
		Outcome:    result.Outcome,
		Message:    result.Message,
		ExitCode:   result.Outcome.ExitCode(),
		DurationMs: result.Duration.Milliseconds(),
		Chunks:     result.Chunks,
		Policy: &ReportPolicy{
			Name:           policyName,
			Submitted:      result.PolicyStats.Submitted,
			Files:          result.PolicyStats.Files,
			Shells:         result.PolicyStats.Shells,
			BatchesFlushed: result.PolicyStats.BatchesFlushed,
			MaxBatchSize:   result.PolicyStats.MaxBatchSize,
		},
		Actions:     make([]ReportAction, 0, len(result.Actions)),
		ParseErrors: result.ParseErrors,
	}
	snap := result.Metrics
	report.Metrics = &snap

	for _, st := range result.Actions {
		report.Actions = append(report.Actions, ReportAction{
			ID:         st.ID,
			ArtifactID: st.ArtifactID,
			Type:       st.Action.Type,
			Target:     actionTarget(st.Action),
			Status:     st.Status,
			Error:      st.Error,
			ExitCode:   st.ExitCode,
		})
	}
	for id := range result.Pending {
		report.Incomplete = append(report.Incomplete, id)
	}
	sort.Strings(report.Incomplete)
	return report
}

// actionTarget is the file path of a file action or the command line of a
// shell action.
func actionTarget(a types.Action) string {
	if a.Type == types.ActionTypeFile {
		return a.FilePath
	}
	return a.Content
}

// WriteSessionReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteSessionReport(report *SessionReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := writeSessionReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	if err := writeSessionReportTo(report, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

// writeSessionReportTo writes report JSON to any writer.
func writeSessionReportTo(report *SessionReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
