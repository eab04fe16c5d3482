package sandbox

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadyScanner(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   []ServerReadyEvent
	}{
		{
			name:   "vite banner",
			writes: []string{"  VITE v5.0.0  ready in 300 ms\n\n  ➜  Local:   http://localhost:5173/\n"},
			want:   []ServerReadyEvent{{Port: 5173, URL: "http://localhost:5173"}},
		},
		{
			name:   "url split across writes",
			writes: []string{"listening on http://127.0.0.1:30", "00\n"},
			want:   []ServerReadyEvent{{Port: 3000, URL: "http://127.0.0.1:3000"}},
		},
		{
			name:   "unterminated last line is flushed",
			writes: []string{"serving at http://0.0.0.0:8080"},
			want:   []ServerReadyEvent{{Port: 8080, URL: "http://0.0.0.0:8080"}},
		},
		{
			name:   "remote hosts ignored",
			writes: []string{"see https://example.com:443/docs\n"},
			want:   nil,
		},
		{
			name:   "port out of range",
			writes: []string{"http://localhost:99999\n"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []ServerReadyEvent
			var out bytes.Buffer
			s := &readyScanner{w: &out, notify: func(ev ServerReadyEvent) { got = append(got, ev) }}
			for _, w := range tt.writes {
				if _, err := s.Write([]byte(w)); err != nil {
					t.Fatalf("Write() error = %v", err)
				}
			}
			s.flush()

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("events mismatch (-want +got):\n%s", diff)
			}
			var joined string
			for _, w := range tt.writes {
				joined += w
			}
			if out.String() != joined {
				t.Errorf("forwarded %q, want %q", out.String(), joined)
			}
		})
	}
}

func TestReadyNotifier_DeduplicatesPorts(t *testing.T) {
	n := newReadyNotifier()
	n.notify(ServerReadyEvent{Port: 3000, URL: "http://localhost:3000"})
	n.notify(ServerReadyEvent{Port: 3000, URL: "http://127.0.0.1:3000"})
	n.notify(ServerReadyEvent{Port: 4000, URL: "http://localhost:4000"})
	n.close()
	n.notify(ServerReadyEvent{Port: 5000, URL: "http://localhost:5000"})

	var got []int
	for ev := range n.ch {
		got = append(got, ev.Port)
	}
	if diff := cmp.Diff([]int{3000, 4000}, got); diff != "" {
		t.Errorf("ports mismatch (-want +got):\n%s", diff)
	}
}
