package cmd

import (
	"errors"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/artificer/cli/render"
	"github.com/justapithecus/artificer/iox"
	"github.com/justapithecus/artificer/ipc"
	"github.com/justapithecus/artificer/parser"
	"github.com/justapithecus/artificer/runtime"
	"github.com/justapithecus/artificer/types"
)

// EventRow is one parser event as printed by the parse command.
type EventRow struct {
	Message  string          `json:"message" yaml:"message"`
	Kind     types.EventKind `json:"kind" yaml:"kind"`
	Artifact string          `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Action   string          `json:"action,omitempty" yaml:"action,omitempty"`
	Target   string          `json:"target,omitempty" yaml:"target,omitempty"`
	Detail   string          `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Row kinds that do not come from the parser.
const (
	kindIncomplete types.EventKind = "incomplete"
	kindFrameError types.EventKind = "frame_error"
)

// ParseCommand returns the parse command. It runs the stream parser over
// an input and prints the events without executing anything.
func ParseCommand() *cli.Command {
	return &cli.Command{
		Name:  "parse",
		Usage: "Print the artifact and action events found in a stream",
		Flags: append(OutputFlags(),
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Input path, - for stdin",
				Value:   "-",
			},
			&cli.StringFlag{
				Name:  "input-format",
				Usage: "Input format: text or frames",
				Value: inputText,
			},
			&cli.StringFlag{
				Name:  "message-id",
				Usage: "Message id for text input",
			},
			&cli.BoolFlag{
				Name:  "no-text",
				Usage: "Leave prose out of the output",
			},
			&cli.BoolFlag{
				Name:  "updates",
				Usage: "Include action_update events",
			},
		),
		Action: parseAction,
	}
}

func parseAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	in, err := openInput(c, c.String("input"))
	if err != nil {
		return err
	}
	defer iox.DiscardClose(in)

	src, err := newSource(in, c.String("input-format"), c.String("message-id"), 0)
	if err != nil {
		return err
	}

	rows, err := collectEvents(src, eventFilter{
		text:    !c.Bool("no-text"),
		updates: c.Bool("updates"),
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(rows)
}

type eventFilter struct {
	text    bool
	updates bool
}

// collectEvents reads src to the end. Recoverable frame errors become
// rows; any other error stops the read.
func collectEvents(src runtime.Source, f eventFilter) ([]EventRow, error) {
	p := parser.New()
	rows := []EventRow{}
	for {
		item, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var frameErr *ipc.FrameError
		if errors.As(err, &frameErr) && !ipc.IsFatalFrameError(err) {
			rows = append(rows, EventRow{Kind: kindFrameError, Detail: frameErr.Error()})
			continue
		}
		if err != nil {
			return rows, err
		}

		rows = appendEvents(rows, p.Parse(item.MessageID, item.Text), f)
		if item.End {
			rows = endMessage(rows, p, item.MessageID, f)
		}
	}
	// Messages that never saw an end.
	for _, id := range p.Messages() {
		rows = endMessage(rows, p, id, f)
	}
	return rows, nil
}

func appendEvents(rows []EventRow, events []types.Event, f eventFilter) []EventRow {
	for _, ev := range events {
		if row, ok := toEventRow(ev, f); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// endMessage flushes trailing prose and reports what the message left open.
func endMessage(rows []EventRow, p *parser.Parser, id string, f eventFilter) []EventRow {
	rows = appendEvents(rows, p.End(id), f)
	rows = appendPending(rows, id, p.Pending(id))
	p.Forget(id)
	return rows
}

func toEventRow(ev types.Event, f eventFilter) (EventRow, bool) {
	row := EventRow{Message: ev.Message(), Kind: ev.Kind()}
	switch e := ev.(type) {
	case types.TextEvent:
		if !f.text {
			return row, false
		}
		row.Detail = e.Text
	case types.ArtifactOpenEvent:
		row.Artifact = e.Artifact.ID
		row.Detail = e.Artifact.Title
	case types.ArtifactCloseEvent:
		row.Artifact = e.Artifact.ID
	case types.ActionOpenEvent:
		fillAction(&row, e.ActionEvent)
	case types.ActionUpdateEvent:
		if !f.updates {
			return row, false
		}
		fillAction(&row, e.ActionEvent)
	case types.ActionCloseEvent:
		fillAction(&row, e.ActionEvent)
	case types.ParseErrorEvent:
		row.Target = e.Tag
		row.Detail = string(e.ErrorKind) + ": " + e.Detail
	}
	return row, true
}

func fillAction(row *EventRow, ev types.ActionEvent) {
	row.Artifact = ev.ArtifactID
	row.Action = string(ev.Action.Type)
	if ev.Action.Type == types.ActionTypeFile {
		row.Target = ev.Action.FilePath
	} else {
		row.Target = ev.Action.Content
	}
}

func appendPending(rows []EventRow, messageID string, p parser.Pending) []EventRow {
	if p.Empty() {
		return rows
	}
	row := EventRow{Message: messageID, Kind: kindIncomplete}
	if p.Action != nil {
		fillAction(&row, types.ActionEvent{Action: *p.Action})
	}
	if p.Artifact != nil {
		row.Artifact = p.Artifact.ID
	}
	switch {
	case p.Action != nil:
		row.Detail = "action not closed"
	case p.PartialTag != "":
		row.Detail = "partial tag " + p.PartialTag
	case p.Skipping:
		row.Detail = "malformed tag body not closed"
	default:
		row.Detail = "artifact not closed"
	}
	return append(rows, row)
}
