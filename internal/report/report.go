package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"trustaudit/internal/types"
)

// Options control rendering.
type Options struct {
	// Width is the word wrap column; zero means 80.
	Width int
	// Style is a glamour standard style name; empty picks one from the terminal.
	Style string
	// Plain skips styling and returns the markdown as is.
	Plain bool
}

// Markdown formats an audit result as a markdown document.
func Markdown(r *types.AuditResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Trust audit: %s\n\n", r.SubjectID)
	fmt.Fprintf(&sb, "**Score:** %d/100  \n", r.TrustScore)
	fmt.Fprintf(&sb, "**Risk:** %s  \n", r.RiskLevel)
	fmt.Fprintf(&sb, "**Recommendation:** %s\n\n", r.Recommendation)

	if r.Forced {
		sb.WriteString("> Forced result: the audit ran out of budget before a valid verdict. Treat as low confidence.\n\n")
	}
	if o := r.ScoreOverride; o != nil {
		fmt.Fprintf(&sb, "> Score override: proposed %d, enforced %d. %s\n\n", o.Original, o.Enforced, o.Reason)
	}

	if r.Reasoning != "" {
		sb.WriteString("## Reasoning\n\n")
		sb.WriteString(r.Reasoning)
		sb.WriteString("\n\n")
	}

	if len(r.RedFlags) > 0 {
		sb.WriteString("## Red Flags\n\n")
		for _, f := range r.RedFlags {
			fmt.Fprintf(&sb, "- **%s** (%s): %s", f.Severity, f.Category, f.Description)
			if f.Evidence != "" {
				fmt.Fprintf(&sb, " _[%s]_", f.Evidence)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	writeList(&sb, "Positive Signals", r.PositiveSignals)
	writeList(&sb, "Gaps", r.Gaps)

	if d := r.Discrepancy; d != nil && d.Detected {
		sb.WriteString("## Rating Discrepancy\n\n")
		for _, p := range d.Pairs {
			fmt.Fprintf(&sb, "- %s rates %.2f higher than %s\n", p.High, p.Gap, p.Low)
		}
		sb.WriteString("\n")
	}

	if len(r.Investigations) > 0 {
		sb.WriteString("## Investigations\n\n")
		for _, inv := range r.Investigations {
			fmt.Fprintf(&sb, "- `%s` (%s): %s\n", inv.Query, inv.Status, inv.Reason)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n\n")
	fmt.Fprintf(&sb, "Sources: %s  \n", strings.Join(r.SourcesUsed, ", "))
	fmt.Fprintf(&sb, "Rules %s, %d reasoning call(s), %d investigation(s), cost $%.4f  \n",
		r.AuditVersion, r.Iterations, r.RoundsUsed, r.Cost)
	if r.Digest != "" {
		fmt.Fprintf(&sb, "Digest: `%s`\n", r.Digest)
	}
	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
	sb.WriteString("\n")
}

// Render returns a terminal rendering of r: a badge line followed by the
// markdown body rendered through glamour.
func Render(r *types.AuditResult, opts Options) (string, error) {
	md := Markdown(r)
	if opts.Plain {
		return md, nil
	}
	width := opts.Width
	if width <= 0 {
		width = 80
	}

	style := glamour.WithAutoStyle()
	if opts.Style != "" {
		style = glamour.WithStandardStyle(opts.Style)
	}
	renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}
	body, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		Badge(r.RiskLevel),
		" ",
		titleStyle.Render(fmt.Sprintf("%d/100 %s", r.TrustScore, r.Recommendation)),
	)
	if r.Forced {
		header += " " + forcedStyle.Render("FORCED")
	}
	return header + "\n" + body, nil
}

// Coverage renders a one-block cache health summary.
func Coverage(c types.Coverage) string {
	rows := []string{
		labelStyle.Render("subject") + c.SubjectID,
		labelStyle.Render("sources") + fmt.Sprintf("%d", c.Total),
		labelStyle.Render("fresh") + fmt.Sprintf("%d", c.Fresh),
		labelStyle.Render("successful") + fmt.Sprintf("%d", c.Successful),
	}
	if c.Total > 0 && c.Fresh < c.Total {
		rows = append(rows, mutedStyle.Render(fmt.Sprintf("%d source(s) need collection", c.Total-c.Fresh)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
