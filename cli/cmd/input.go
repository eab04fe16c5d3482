package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/artificer/iox"
	"github.com/justapithecus/artificer/runtime"
)

// Input formats accepted by --input-format.
const (
	inputText   = "text"
	inputFrames = "frames"
)

// openInput opens path for reading. "-" and "" read the app reader.
func openInput(c *cli.Context, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(c.App.Reader), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("input file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot open input %q: %w", path, err)
	}
	return f, nil
}

// openOutput opens path for writing. "-" and "" write to the app writer.
func openOutput(c *cli.Context, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return iox.NopWriteCloser(c.App.Writer), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create output %q: %w", path, err)
	}
	return f, nil
}

// newSource wraps r in the source for format.
func newSource(r io.Reader, format, messageID string, readSize int) (runtime.Source, error) {
	switch format {
	case inputText, "":
		return runtime.NewTextSource(r, messageID, readSize), nil
	case inputFrames:
		return runtime.NewFrameSource(r), nil
	default:
		return nil, fmt.Errorf("invalid input format: %q (must be text or frames)", format)
	}
}
