package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/justapithecus/artificer/types"
)

func parseRows(t *testing.T, input string, args ...string) []EventRow {
	t.Helper()
	ta := newTestApp(input)
	if err := ta.run(append([]string{"parse", "--format", "json"}, args...)...); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	var rows []EventRow
	if err := json.Unmarshal(ta.stdout.Bytes(), &rows); err != nil {
		t.Fatalf("decode output: %v\n%s", err, ta.stdout)
	}
	return rows
}

func kinds(rows []EventRow) []types.EventKind {
	out := make([]types.EventKind, len(rows))
	for i, r := range rows {
		out[i] = r.Kind
	}
	return out
}

func TestParseCommand_Events(t *testing.T) {
	rows := parseRows(t, counterApp, "--no-text")

	want := []types.EventKind{
		types.EventArtifactOpen,
		types.EventActionOpen, types.EventActionClose,
		types.EventActionOpen, types.EventActionClose,
		types.EventActionOpen, types.EventActionClose,
		types.EventArtifactClose,
	}
	if diff := cmp.Diff(want, kinds(rows)); diff != "" {
		t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
	}
	if rows[0].Detail != "Counter App" || rows[0].Artifact != "app" {
		t.Errorf("artifact row = %+v", rows[0])
	}
	shell := rows[4]
	if shell.Action != "shell" || shell.Target != "npm install" || shell.Artifact != "app" {
		t.Errorf("shell close row = %+v", shell)
	}
	if rows[6].Target != "src/App.tsx" {
		t.Errorf("file close row = %+v", rows[6])
	}
}

func TestParseCommand_IncludesText(t *testing.T) {
	rows := parseRows(t, counterApp)
	var prose []string
	for _, r := range rows {
		if r.Kind == types.EventText {
			prose = append(prose, r.Detail)
		}
	}
	joined := strings.Join(prose, "")
	if !strings.Contains(joined, "Setting up.") || !strings.Contains(joined, "Done.") {
		t.Errorf("prose = %q", joined)
	}
}

func TestParseCommand_Incomplete(t *testing.T) {
	rows := parseRows(t, `<boltArtifact id="x" title="X"><boltAction type="file" filePath="a.txt">partial`, "--message-id", "m7")
	last := rows[len(rows)-1]
	want := EventRow{
		Message:  "m7",
		Kind:     kindIncomplete,
		Artifact: "x",
		Action:   "file",
		Target:   "a.txt",
		Detail:   "action not closed",
	}
	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("incomplete row mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCommand_TrailingAngleBracket(t *testing.T) {
	rows := parseRows(t, "compare a <b")
	var prose strings.Builder
	for _, r := range rows {
		if r.Kind == kindIncomplete {
			t.Fatalf("unexpected incomplete row %+v", r)
		}
		if r.Kind == types.EventText {
			prose.WriteString(r.Detail)
		}
	}
	if prose.String() != "compare a <b" {
		t.Errorf("prose = %q, want %q", prose.String(), "compare a <b")
	}
}

func TestParseCommand_ParseError(t *testing.T) {
	rows := parseRows(t, `<boltArtifact id="a" title="A"><boltAction type="deploy">x</boltAction></boltArtifact>`)
	found := false
	for _, r := range rows {
		if r.Kind == types.EventParseError {
			found = true
			if !strings.HasPrefix(r.Detail, string(types.ParseErrorUnknownType)) {
				t.Errorf("detail = %q", r.Detail)
			}
		}
	}
	if !found {
		t.Errorf("no parse error row in %v", kinds(rows))
	}
}

func TestParseCommand_InvalidInputFormat(t *testing.T) {
	err := newTestApp("").run("parse", "--input-format", "xml")
	if err == nil || !strings.Contains(err.Error(), "invalid input format") {
		t.Errorf("expected invalid input format error, got %v", err)
	}
}

func TestParseCommand_Table(t *testing.T) {
	ta := newTestApp(counterApp)
	if err := ta.run("parse", "--format", "table", "--no-color", "--no-text"); err != nil {
		t.Fatal(err)
	}
	out := ta.stdout.String()
	for _, want := range []string{"KIND", "TARGET", "artifact_open", "npm install"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}
