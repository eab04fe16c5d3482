// Package render writes CLI results as json, yaml or an aligned table.
//
// Without --format, a terminal gets a table and anything else gets json.
// --no-color only affects table headers.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

const maxCellWidth = 60

var headerStyle = lipgloss.NewStyle().Bold(true)

// ParseFormat parses a --format value. The empty string is returned as-is
// so the caller can pick a default.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer builds a renderer from the --format and --no-color flags that
// writes to the app writer.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	out := c.App.Writer
	if out == nil {
		out = os.Stdout
	}
	tty := isTerminal(out)
	if format == "" {
		format = FormatJSON
		if tty {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color") || !tty, out), nil
}

// NewRendererWithWriter returns a renderer with explicit settings.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render writes data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		if v := reflect.ValueOf(data); v.Kind() == reflect.Slice {
			r.writeRows(tw, v)
		} else {
			r.writeRecord(tw, v)
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown format: %s", r.format)
}

func (r *Renderer) header(s string) string {
	if r.noColor {
		return s
	}
	return headerStyle.Render(s)
}

// writeRows prints one line per element under upper-cased column names.
// Map rows take their columns from the first element.
func (r *Renderer) writeRows(w io.Writer, v reflect.Value) {
	if v.Len() == 0 {
		fmt.Fprintln(w, "(no results)")
		return
	}
	names, _ := cells(v.Index(0), nil)
	heads := make([]string, len(names))
	for i, n := range names {
		heads[i] = r.header(strings.ToUpper(n))
	}
	fmt.Fprintln(w, strings.Join(heads, "\t"))
	for i := range v.Len() {
		_, values := cells(v.Index(i), names)
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
}

// writeRecord prints a struct or map as "name:<tab>value" lines.
func (r *Renderer) writeRecord(w io.Writer, v reflect.Value) {
	names, values := cells(v, nil)
	switch {
	case names != nil:
		for i, n := range names {
			fmt.Fprintf(w, "%s:\t%s\n", r.header(n), values[i])
		}
	case !indirect(v).IsValid():
		fmt.Fprintln(w, "(no results)")
	default:
		fmt.Fprintln(w, formatValue(v))
	}
}

// cells flattens a struct or map into parallel name and value slices. For
// maps, keys selects the columns; nil means every key in sorted order.
func cells(v reflect.Value, keys []string) (names, values []string) {
	v = indirect(v)
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			if name, ok := fieldName(t.Field(i)); ok {
				names = append(names, name)
				values = append(values, formatValue(v.Field(i)))
			}
		}
	case reflect.Map:
		byName := make(map[string]reflect.Value, v.Len())
		for _, k := range v.MapKeys() {
			byName[fmt.Sprint(k.Interface())] = v.MapIndex(k)
		}
		if keys == nil {
			for k := range byName {
				keys = append(keys, k)
			}
			sort.Strings(keys)
		}
		for _, k := range keys {
			names = append(names, k)
			values = append(values, formatValue(byName[k]))
		}
	}
	return names, values
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// fieldName prefers the json tag name. Unexported and "-" fields are
// skipped.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", false
	case "":
		return strings.ToLower(f.Name), true
	}
	return name, true
}

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return "{...}"
	case reflect.String:
		return truncate(strings.ReplaceAll(v.String(), "\n", `\n`), maxCellWidth)
	}
	return fmt.Sprint(v.Interface())
}

// truncate shortens s to n runes with a trailing ellipsis.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
