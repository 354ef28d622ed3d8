package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/khanglvm/espresso-dialin/internal/dialin"
	"github.com/khanglvm/espresso-dialin/internal/storage"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func stateStyle(s dialin.State) lipgloss.Style {
	switch s {
	case dialin.StateConverged:
		return goodStyle.Bold(true)
	case dialin.StateRefining:
		return goodStyle
	case dialin.StateExploring:
		return warnStyle
	default:
		return dimStyle
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func title(w io.Writer, s string) {
	fmt.Fprintln(w, titleStyle.Render(s))
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-13s", label+":")), value)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func params(p dialin.Params) string {
	return valueStyle.Render(fmt.Sprintf("grind %s  dose %sg  time %ss", num(p.Grind), num(p.Dose), num(p.TargetTime)))
}

func scoreText(t storage.Trial) string {
	if !t.Scored() {
		return dimStyle.Render("pending")
	}
	return num(t.Score())
}

// writeTrials prints trials as an aligned table.
func writeTrials(w io.Writer, trials []storage.Trial) {
	if len(trials) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  No trials yet."))
		return
	}
	fmt.Fprintln(w, labelStyle.Render(fmt.Sprintf("  %-6s %-7s %-7s %-7s %-8s %s", "TRIAL", "GRIND", "DOSE", "TIME", "SCORE", "SOURCE")))
	for _, t := range trials {
		fmt.Fprintf(w, "  %-6d %-7s %-7s %-7s %-8s %s\n",
			t.TrialNumber, num(t.Grind), num(t.Dose), num(t.TargetTime), scoreText(t), dimStyle.Render(t.Source))
	}
}
