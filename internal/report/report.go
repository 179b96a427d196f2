// Package report renders nodes, check results and object listings for the
// terminal, or as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/listing"
	"github.com/datadavev/mnstatus/internal/registry"
)

const dateFormat = "2006-01-02T15:04:05Z"

var (
	colorGreen = lipgloss.Color("#10b981")
	colorRed   = lipgloss.Color("#ef4444")
	colorGray  = lipgloss.Color("#6b7280")
)

// Options controls rendering. Color forces ANSI styling on or off
// regardless of the destination.
type Options struct {
	Color bool
}

type styles struct {
	header lipgloss.Style
	label  lipgloss.Style
	ok     lipgloss.Style
	failed lipgloss.Style
	dim    lipgloss.Style
	plain  lipgloss.Style
}

func newStyles(w io.Writer, opts Options) styles {
	r := lipgloss.NewRenderer(w)
	if opts.Color {
		r.SetColorProfile(termenv.ANSI256)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return styles{
		header: r.NewStyle().Bold(true).Foreground(colorGray),
		label:  r.NewStyle().Bold(true),
		ok:     r.NewStyle().Foreground(colorGreen),
		failed: r.NewStyle().Bold(true).Foreground(colorRed),
		dim:    r.NewStyle().Foreground(colorGray),
		plain:  r.NewStyle(),
	}
}

func (s styles) table(headers ...string) *table.Table {
	return table.New().
		Headers(headers...).
		BorderStyle(s.dim).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(true).
		BorderColumn(false)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NodeList writes one row per node with a column per check in tests.
func NodeList(w io.Writer, nodes []registry.Node, tests []checker.Category, opts Options) error {
	st := newStyles(w, opts)
	headers := []string{"IDENTIFIER", "STATE", "TYPE", "BASE URL"}
	for _, c := range tests {
		headers = append(headers, strings.ToUpper(string(c)))
	}
	const fixed = 4

	rows := make([][]string, 0, len(nodes))
	failed := make(map[[2]int]bool)
	for i, n := range nodes {
		row := []string{n.ID, n.State, n.Type, n.BaseURL}
		for j, c := range tests {
			res, ok := n.Status[c]
			if ok && !res.OK() {
				failed[[2]int{i, fixed + j}] = true
			}
			row = append(row, summarize(res, ok))
		}
		rows = append(rows, row)
	}

	t := st.table(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return st.header.PaddingRight(1)
			case col < fixed:
				return st.plain.PaddingRight(1)
			case failed[[2]int{row, col}]:
				return st.failed.PaddingRight(1)
			default:
				return st.ok.PaddingRight(1)
			}
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// summarize condenses a result into one cell.
func summarize(r checker.CheckResult, ok bool) string {
	if !ok {
		return "-"
	}
	if !r.OK() {
		return fmt.Sprintf("%d %s", r.Status, r.Message)
	}
	if r.Count == nil {
		return fmt.Sprintf("%d %s", r.Status, r.Elapsed.Round(time.Millisecond))
	}
	var b strings.Builder
	b.WriteString(strconv.FormatInt(*r.Count, 10))
	if r.Earliest != nil && r.Latest != nil {
		fmt.Fprintf(&b, " %s..%s", r.Earliest.Modified.UTC().Format(dateFormat), r.Latest.Modified.UTC().Format(dateFormat))
	}
	if r.Partial || r.Truncated {
		b.WriteString(" *")
	}
	return b.String()
}

// NodeStatus writes the node's descriptive fields followed by a table of
// its check results in category order.
func NodeStatus(w io.Writer, n registry.Node, opts Options) error {
	st := newStyles(w, opts)
	fields := [][2]string{
		{"Identifier", n.ID},
		{"Name", n.Name},
		{"Base URL", n.BaseURL},
		{"State", n.State},
		{"Type", n.Type},
		{"MNRead", "v" + strconv.Itoa(max(n.ServiceVersion("MNRead"), 1))},
	}
	if n.LastHarvested != nil {
		fields = append(fields, [2]string{"Last harvested", n.LastHarvested.UTC().Format(dateFormat)})
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(w, "%s %s\n", st.label.Render(f[0]+":"), f[1]); err != nil {
			return err
		}
	}
	if len(n.Status) == 0 {
		return nil
	}

	var rows [][]string
	var failed []bool
	for _, c := range checker.Categories {
		r, ok := n.Status[c]
		if !ok {
			continue
		}
		rows = append(rows, []string{
			string(c),
			strconv.Itoa(r.Status),
			r.Elapsed.Round(time.Millisecond).String(),
			count(r.Count),
			boundary(r.Earliest),
			boundary(r.Latest),
			r.Message,
		})
		failed = append(failed, !r.OK())
	}
	t := st.table("CHECK", "STATUS", "ELAPSED", "COUNT", "EARLIEST", "LATEST", "MESSAGE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return st.header.PaddingRight(1)
			case col == 1 && failed[row]:
				return st.failed.PaddingRight(1)
			case col == 1:
				return st.ok.PaddingRight(1)
			default:
				return st.plain.PaddingRight(1)
			}
		})
	_, err := fmt.Fprintf(w, "\n%s\n", t.Render())
	return err
}

func count(c *int64) string {
	if c == nil {
		return "-"
	}
	return strconv.FormatInt(*c, 10)
}

func boundary(b *checker.Boundary) string {
	if b == nil {
		return "-"
	}
	s := b.Modified.UTC().Format(dateFormat) + " " + b.PID
	if b.SID != "" {
		s += " (" + b.SID + ")"
	}
	return s
}

// Objects writes one row per listing record.
func Objects(w io.Writer, objects []listing.ObjectInfo, opts Options) error {
	st := newStyles(w, opts)
	rows := make([][]string, 0, len(objects))
	for _, o := range objects {
		rows = append(rows, []string{
			o.Modified.UTC().Format(dateFormat),
			o.Identifier,
			o.FormatID,
			humanize.Bytes(uint64(max(o.Size, 0))),
		})
	}
	t := st.table("MODIFIED", "IDENTIFIER", "FORMAT", "SIZE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return st.header.PaddingRight(1)
			}
			return st.plain.PaddingRight(1)
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
