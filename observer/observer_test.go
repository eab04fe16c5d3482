package observer_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/artificer/log"
	"github.com/justapithecus/artificer/observer"
	"github.com/justapithecus/artificer/types"
)

func TestMulti_FansOutInOrder(t *testing.T) {
	a := observer.NewRecorder()
	b := observer.NewRecorder()
	m := observer.NewMulti(a, nil, b)

	m.AppendTerminalOutput("hello ")
	m.AppendTerminalOutput("world")
	m.SetFileTree([]types.FileNode{{Path: "src", IsDir: true}, {Path: "src/index.js"}})
	m.SetArtifactRunning("app", true)
	m.SetArtifactError("app", "boom")
	m.SetPreviewURL("http://localhost:5173")
	m.SetSandboxReady(true)
	m.ActionChanged(types.ActionState{ID: "file_1_a", Status: types.ActionPending})
	m.ArtifactChanged(types.Artifact{ID: "app", Title: "App"}, true)

	for name, r := range map[string]*observer.Recorder{"a": a, "b": b} {
		if got := r.Terminal(); got != "hello world" {
			t.Errorf("%s: terminal = %q", name, got)
		}
		if got := len(r.LastFileTree()); got != 2 {
			t.Errorf("%s: tree entries = %d", name, got)
		}
		if diff := cmp.Diff([]observer.ArtifactRunning{{ArtifactID: "app", Running: true}}, r.ArtifactRunningCalls()); diff != "" {
			t.Errorf("%s: running (-want +got):\n%s", name, diff)
		}
		if diff := cmp.Diff([]string{"boom"}, r.ArtifactErrors("app")); diff != "" {
			t.Errorf("%s: errors (-want +got):\n%s", name, diff)
		}
		if diff := cmp.Diff([]string{"http://localhost:5173"}, r.PreviewURLs()); diff != "" {
			t.Errorf("%s: preview (-want +got):\n%s", name, diff)
		}
		if diff := cmp.Diff([]bool{true}, r.SandboxReady()); diff != "" {
			t.Errorf("%s: ready (-want +got):\n%s", name, diff)
		}
		if diff := cmp.Diff([]types.ActionStatus{types.ActionPending}, r.Transitions("file_1_a")); diff != "" {
			t.Errorf("%s: transitions (-want +got):\n%s", name, diff)
		}
		want := []observer.ArtifactChange{{Artifact: types.Artifact{ID: "app", Title: "App"}, Open: true}}
		if diff := cmp.Diff(want, r.ArtifactChanges()); diff != "" {
			t.Errorf("%s: artifact changes (-want +got):\n%s", name, diff)
		}
	}
}

func TestRecorder_LastFileTreeIsCopy(t *testing.T) {
	r := observer.NewRecorder()
	nodes := []types.FileNode{{Path: "a.txt"}}
	r.SetFileTree(nodes)
	nodes[0].Path = "mutated"

	if got := r.LastFileTree()[0].Path; got != "a.txt" {
		t.Errorf("recorded tree aliased caller slice: %q", got)
	}
}

func TestRecorder_Empty(t *testing.T) {
	r := observer.NewRecorder()
	if r.LastFileTree() != nil {
		t.Error("expected nil tree")
	}
	if r.Terminal() != "" {
		t.Error("expected empty terminal")
	}
	if r.Transitions("missing") != nil {
		t.Error("expected no transitions")
	}
}

func TestNop_SatisfiesObserver(t *testing.T) {
	var o observer.Observer = observer.Nop{}
	o.AppendTerminalOutput("ignored")
	o.ActionChanged(types.ActionState{})
}

func TestLogging_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewLoggerWithWriter(log.Context{SessionID: "s1"}, &buf, zapcore.DebugLevel)
	o := observer.NewLogging(logger)

	code := 1
	o.ActionChanged(types.ActionState{
		ID:         "shell_1_a",
		ArtifactID: "app",
		Action:     types.Action{Type: types.ActionTypeShell, Content: "npm test"},
		Status:     types.ActionFailed,
		Error:      "process exited with code 1",
		ExitCode:   &code,
	})
	o.ActionChanged(types.ActionState{
		ID:     "file_1_b",
		Action: types.Action{Type: types.ActionTypeFile, FilePath: "a.txt"},
		Status: types.ActionComplete,
	})
	o.AppendTerminalOutput("noise")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d:\n%s", len(lines), buf.String())
	}

	var failed map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &failed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if failed["level"] != "warn" || failed["message"] != "action failed" {
		t.Errorf("unexpected failure entry: %v", failed)
	}
	failedFields, ok := failed["fields"].(map[string]any)
	if !ok {
		t.Fatalf("failure entry has no fields object: %v", failed)
	}
	if failedFields["exit_code"] != float64(1) || failedFields["artifact_id"] != "app" {
		t.Errorf("missing fields in failure entry: %v", failedFields)
	}

	var done map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &done); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if done["level"] != "info" || done["message"] != "action complete" {
		t.Errorf("unexpected complete entry: %v", done)
	}
	doneFields, ok := done["fields"].(map[string]any)
	if !ok {
		t.Fatalf("complete entry has no fields object: %v", done)
	}
	if _, ok := doneFields["artifact_id"]; ok {
		t.Errorf("artifact_id should be omitted when empty: %v", doneFields)
	}
	if _, ok := done["artifact_id"]; ok {
		t.Errorf("fields must not be flattened into the entry: %v", done)
	}

	var term map[string]any
	if err := json.Unmarshal([]byte(lines[2]), &term); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if term["level"] != "debug" {
		t.Errorf("terminal output should log at debug, got %v", term["level"])
	}
}
