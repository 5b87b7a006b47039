package cli

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/custodia-labs/mizan/internal/calculation"
	"github.com/custodia-labs/mizan/internal/core/domain"
)

// Palette used for answers.
var (
	colourPrimary = lipgloss.Color("#7C3AED") // Purple
	colourMuted   = lipgloss.Color("#6C7086") // Medium gray
	colourWarning = lipgloss.Color("#F9E2AF") // Yellow
	colourError   = lipgloss.Color("#F38BA8") // Red
)

// answerStyles are the lipgloss styles for one output writer. Colour is
// only emitted when the writer is a terminal that supports it.
type answerStyles struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

func newAnswerStyles(w io.Writer) answerStyles {
	r := lipgloss.NewRenderer(w)
	return answerStyles{
		Title:   r.NewStyle().Bold(true).Foreground(colourPrimary),
		Muted:   r.NewStyle().Foreground(colourMuted),
		Warning: r.NewStyle().Bold(true).Foreground(colourWarning),
		Error:   r.NewStyle().Bold(true).Foreground(colourError),
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// answerRenderer prints a query's event stream for people. Answer text
// goes to out as it streams; progress goes to status, and only when that
// is a terminal.
type answerRenderer struct {
	out      io.Writer
	status   io.Writer
	styles   answerStyles
	progress bool

	streamed   bool
	compliance *domain.ComplianceResult
}

func newAnswerRenderer(out, status io.Writer) *answerRenderer {
	return &answerRenderer{
		out:      out,
		status:   status,
		styles:   newAnswerStyles(out),
		progress: isTerminal(status),
	}
}

// Render handles one event. It returns the pipeline error carried by an
// error event.
func (r *answerRenderer) Render(ev domain.Event) error {
	switch ev.Type {
	case domain.EventStatus:
		if r.progress {
			fmt.Fprintln(r.status, r.styles.Muted.Render("… "+stageLabel(ev.Stage)))
		}
	case domain.EventRouting:
		if r.progress && ev.Routing != nil {
			fmt.Fprintln(r.status, r.styles.Muted.Render(
				fmt.Sprintf("  category %s (%.0f%%)", ev.Routing.Category, ev.Routing.Confidence*100)))
		}
	case domain.EventContent:
		if !r.streamed && r.progress {
			fmt.Fprintln(r.status)
		}
		r.streamed = true
		fmt.Fprint(r.out, ev.Content)
	case domain.EventCompliance:
		r.compliance = ev.Compliance
	case domain.EventDone:
		r.done(ev.Result)
	case domain.EventError:
		if ev.Err != nil {
			if r.streamed {
				fmt.Fprintln(r.out)
			}
			return ev.Err
		}
	}
	return nil
}

func (r *answerRenderer) done(res *domain.OrchestratorResult) {
	if res == nil {
		return
	}
	if r.streamed {
		fmt.Fprintln(r.out)
	}

	switch {
	case r.compliance != nil && r.compliance.Status == domain.ComplianceFail:
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, r.styles.Error.Render("Answer withheld:"))
		for _, reason := range r.compliance.Reasons {
			fmt.Fprintf(r.out, "  - %s\n", reason)
		}
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, res.Answer)
	case !r.streamed:
		fmt.Fprintln(r.out, res.Answer)
	}
	if r.compliance != nil && r.compliance.Status == domain.ComplianceFlagged {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, r.styles.Warning.Render("Review notes:"))
		for _, reason := range r.compliance.Reasons {
			fmt.Fprintf(r.out, "  - %s\n", reason)
		}
	}

	if res.Calculation != nil {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, r.styles.Title.Render("Calculation ("+res.Calculation.Type+")"))
		keys := make([]string, 0, len(res.Calculation.Outputs))
		for k := range res.Calculation.Outputs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(r.out, "  %s: %s\n", k, calculation.FormatNumber(res.Calculation.Outputs[k]))
		}
	}

	if len(res.Sources) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, r.styles.Title.Render("Sources"))
		for i, src := range res.Sources {
			title := src.Title
			if title == "" {
				title = src.DocumentID
			}
			fmt.Fprintf(r.out, "  [%d] %s %s\n", i+1, title, r.styles.Muted.Render(fmt.Sprintf("(%.2f)", src.Score)))
		}
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.styles.Muted.Render(fmt.Sprintf("%s · %s · session %s",
		res.Category, res.Metadata.ProcessingTime.Round(time.Millisecond), res.Metadata.SessionID)))
}

func stageLabel(s domain.Stage) string {
	return strings.ReplaceAll(s.String(), "_", " ")
}
