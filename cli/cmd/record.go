package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/artificer/iox"
	"github.com/justapithecus/artificer/ipc"
	"github.com/justapithecus/artificer/runtime"
)

// RecordCommand returns the record command. It converts raw model output
// into a frame stream that run and parse can replay with
// --input-format frames.
func RecordCommand() *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Convert raw model output into a replayable frame stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Text input path, - for stdin",
				Value:   "-",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Frame output path, - for stdout",
				Value:   "-",
			},
			&cli.StringFlag{
				Name:  "message-id",
				Usage: "Message id stamped on every frame",
				Value: runtime.DefaultMessageID,
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Bytes per chunk frame",
				Value: 64,
			},
		},
		Action: recordAction,
	}
}

func recordAction(c *cli.Context) error {
	size := c.Int("chunk-size")
	if size <= 0 {
		return cli.Exit(fmt.Sprintf("--chunk-size must be > 0, got %d", size), 1)
	}
	in, err := openInput(c, c.String("input"))
	if err != nil {
		return err
	}
	defer iox.DiscardClose(in)

	out, err := openOutput(c, c.String("output"))
	if err != nil {
		return err
	}

	n, err := recordFrames(runtime.NewTextSource(in, c.String("message-id"), size), out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("record failed after %d frames: %v", n, err), 1)
	}
	return nil
}

// recordFrames writes one chunk frame per source item and an end frame for
// the message. It returns the number of frames written.
func recordFrames(src runtime.Source, w io.Writer) (int, error) {
	sw := ipc.NewStreamWriter(w)
	n := 0
	for {
		item, err := src.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if item.Text != "" {
			if err := sw.WriteChunk(item.MessageID, item.Text); err != nil {
				return n, err
			}
			n++
		}
		if item.End {
			if err := sw.WriteEnd(item.MessageID); err != nil {
				return n, err
			}
			n++
		}
	}
}
