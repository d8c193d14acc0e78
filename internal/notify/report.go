package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"text/tabwriter"
	"time"

	"moneyboxes/internal/core"
	"moneyboxes/internal/distribution"
)

const (
	maxNameLen     = 23
	truncatedLen   = 20
	reportHeadline = "automated savings done. :)"
	reportSubline  = "Your new moneybox balances:"
)

// Report is the data of one cycle report mail.
type Report struct {
	AppName     string
	CycleDate   time.Time
	GeneratedAt time.Time
	Moneyboxes  []core.MoneyboxSnapshot
	// Forecasts is optional; when set every ranked moneybox gets a hint
	// about when its target is reached.
	Forecasts []distribution.MoneyboxForecast
}

type reportRow struct {
	Name    string
	Balance string
	Hint    string
}

type reportView struct {
	AppName  string
	Headline string
	Subline  string
	Rows     []reportRow
	Total    string
}

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <h2>{{.AppName}}: {{.Headline}}</h2>
  <p>{{.Subline}}</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><th align="left">moneybox_name</th><th align="right">balance</th><th align="left">forecast</th></tr>
    {{- range .Rows}}
    <tr><td>{{.Name}}</td><td align="right">{{.Balance}}</td><td>{{.Hint}}</td></tr>
    {{- end}}
  </table>
  <p><strong>Total Balance: {{.Total}}</strong></p>
</body>
</html>
`))

// Subject is the mail subject for a report generated at t.
func Subject(t time.Time) string {
	return fmt.Sprintf("Automated savings done (%s)", t.UTC().Format("2006-01-02 15:04"))
}

// RenderCycleReport renders the plain text and HTML bodies of a report.
// Moneyboxes are listed by priority with the overflow moneybox last.
func RenderCycleReport(r Report) (plain, html string, err error) {
	view := buildView(r)

	var pb strings.Builder
	fmt.Fprintf(&pb, "%s: %s\n%s\n\n", view.AppName, view.Headline, view.Subline)
	tw := tabwriter.NewWriter(&pb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MONEYBOX_NAME\tBALANCE\tFORECAST")
	for _, row := range view.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Name, row.Balance, row.Hint)
	}
	if err := tw.Flush(); err != nil {
		return "", "", fmt.Errorf("render plain report: %w", err)
	}
	fmt.Fprintf(&pb, "\nTotal Balance: %s\n", view.Total)

	var hb bytes.Buffer
	if err := htmlReport.Execute(&hb, view); err != nil {
		return "", "", fmt.Errorf("render html report: %w", err)
	}
	return pb.String(), hb.String(), nil
}

func buildView(r Report) reportView {
	name := r.AppName
	if name == "" {
		name = "moneyboxes"
	}

	hints := make(map[core.MoneyboxID]string, len(r.Forecasts))
	for _, f := range r.Forecasts {
		hints[f.MoneyboxID] = forecastHint(f)
	}

	list, err := core.PriorityListFromSnapshots(r.Moneyboxes)
	ordered := r.Moneyboxes
	if err == nil {
		ordered = append(list.Ranked(), list.Overflow())
	}

	var total core.Money
	rows := make([]reportRow, 0, len(ordered))
	for _, mb := range ordered {
		total = total.Add(mb.Balance)
		rows = append(rows, reportRow{
			Name:    truncateName(mb.Name),
			Balance: FormatEuro(mb.Balance),
			Hint:    hints[mb.ID],
		})
	}

	return reportView{
		AppName:  name,
		Headline: reportHeadline,
		Subline:  reportSubline,
		Rows:     rows,
		Total:    FormatEuro(total),
	}
}

func forecastHint(f distribution.MoneyboxForecast) string {
	switch {
	case f.SavingsTarget == nil:
		return "no target"
	case f.ReachedInMonth == distribution.ReachedAlready:
		return "target reached"
	case f.ReachedInMonth == distribution.NeverReached:
		return "target not reachable with current settings"
	case f.ReachedInMonth == 1:
		return "target reached next month"
	default:
		return fmt.Sprintf("target reached in %d months", f.ReachedInMonth)
	}
}

func truncateName(s string) string {
	r := []rune(s)
	if len(r) > maxNameLen {
		return string(r[:truncatedLen]) + "..."
	}
	return s
}

// FormatEuro formats m with thousands separators, e.g. "1,234.56 €".
func FormatEuro(m core.Money) string {
	s := m.String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return sign + b.String() + "." + frac + " €"
}
