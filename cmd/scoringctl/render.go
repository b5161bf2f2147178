package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/scoring"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/application"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// displayPlaces is the number of decimals shown for scores and amounts.
// Computation always runs at full precision.
const displayPlaces = 2

// renderer prints engine results as aligned text or indented JSON.
type renderer struct {
	w     io.Writer
	p     *message.Printer
	title cases.Caser
	json  bool
}

func newRenderer(w io.Writer, tag language.Tag, asJSON bool) *renderer {
	return &renderer{
		w:     w,
		p:     message.NewPrinter(tag),
		title: cases.Title(tag),
		json:  asJSON,
	}
}

func (r *renderer) encode(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// num formats v rounded for display with locale digit grouping.
func (r *renderer) num(v float64) string {
	return r.p.Sprint(number.Decimal(domain.RoundForDisplay(v, displayPlaces), number.Scale(displayPlaces)))
}

// label turns an enum value such as "must_have" into "Must Have".
func (r *renderer) label(s string) string {
	if s == "" {
		return "-"
	}
	return r.title.String(strings.ReplaceAll(s, "_", " "))
}

func (r *renderer) table(header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

func (r *renderer) ranking(results []scoring.VendorResult) error {
	if r.json {
		return r.encode(results)
	}
	tw := r.table("RANK", "VENDOR", "TOTAL", "UNSCORED", "UNRESOLVED")
	for _, v := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n", v.Rank, v.Vendor.Name, r.num(v.Total), v.Unscored, v.Unresolved)
	}
	return tw.Flush()
}

func (r *renderer) breakdown(v scoring.VendorResult) error {
	if r.json {
		return r.encode(v)
	}
	fmt.Fprintf(r.w, "%s (%s): %s\n", v.Vendor.Name, r.label(string(v.Vendor.Stage)), r.num(v.Total))
	tw := r.table("CATEGORY", "CRITERION", "WEIGHT", "SCORE", "CONTRIBUTION", "STATUS")
	for _, cat := range v.Categories {
		fmt.Fprintf(tw, "%s\t\t%s%%\t%s\t%s\t\n", cat.Name, r.num(cat.Weight), r.num(cat.Score), r.num(cat.Contribution))
		for _, c := range cat.Criteria {
			status := r.label(string(c.Status))
			if c.Status == scoring.StatusUnresolved {
				status = fmt.Sprintf("%s (provisional %s)", status, r.num(c.ProvisionalValue))
			}
			fmt.Fprintf(tw, "\t%s\t%s%%\t%s\t%s\t%s\n", c.Name, r.num(c.Weight), r.num(c.Value), r.num(c.Contribution), status)
		}
	}
	return tw.Flush()
}

func (r *renderer) matrix(m *scoring.Matrix) error {
	if r.json {
		return r.encode(m)
	}
	header := []string{"REQUIREMENT", "PRIORITY"}
	for _, v := range m.Vendors {
		header = append(header, strings.ToUpper(v.Name))
	}
	tw := r.table(header...)
	for _, row := range m.Rows {
		cells := make(map[string]scoring.Cell, len(row.Cells))
		for _, c := range row.Cells {
			cells[c.VendorID] = c
		}
		line := []string{row.Requirement.Title, r.label(string(row.Requirement.Priority))}
		for _, v := range m.Vendors {
			c, ok := cells[v.ID]
			switch {
			case !ok:
				line = append(line, "")
			case !c.Scored:
				line = append(line, "-")
			default:
				line = append(line, fmt.Sprintf("%s %s", r.num(c.Value), r.label(string(c.RAG))))
			}
		}
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := r.p.Fprintf(r.w, "Coverage: %d of %d requirements (%s%%)\n",
		m.Coverage.Covered, m.Coverage.Total, r.num(m.Coverage.Percent))
	return err
}

func (r *renderer) variance(results []scoring.VarianceResult) error {
	if r.json {
		return r.encode(results)
	}
	tw := r.table("VENDOR", "SCORES", "VARIANCE", "THRESHOLD", "FLAGGED")
	for _, v := range results {
		flagged := "no"
		if v.Flagged {
			flagged = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", v.VendorID, len(v.Scores), r.num(v.Variance), r.num(v.Threshold), flagged)
	}
	return tw.Flush()
}

func (r *renderer) anomalies(report application.AnomalyReport) error {
	if r.json {
		return r.encode(report)
	}
	tw := r.table("DIMENSION", "VALUES", "MEDIAN", "MAD", "THRESHOLD", "NOTE")
	for _, d := range report.Dimensions {
		note := fmt.Sprintf("%d flagged", len(d.Findings))
		if d.Insufficient != nil {
			note = d.Insufficient.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.label(string(d.Dimension)), d.Values, r.num(d.Median), r.num(d.MAD), r.num(d.Threshold), note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(report.Anomalies) == 0 {
		_, err := fmt.Fprintln(r.w, "No anomalies.")
		return err
	}
	fmt.Fprintln(r.w)
	tw = r.table("VENDOR", "DIMENSION", "VALUE", "DEVIATION", "SEVERITY", "STATUS")
	for _, a := range report.Anomalies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.VendorID, r.label(string(a.Dimension)), r.num(a.Value), r.num(a.Deviation),
			r.label(string(a.Severity)), r.label(string(a.Status)))
	}
	return tw.Flush()
}

func (r *renderer) sweep(opened []domain.Reconciliation, actions []scoring.DeadlineAction) error {
	if r.json {
		return r.encode(struct {
			Opened  []domain.Reconciliation  `json:"opened"`
			Actions []scoring.DeadlineAction `json:"actions"`
		}{opened, actions})
	}
	for _, rec := range opened {
		fmt.Fprintf(r.w, "opened %s/%s variance %s, due %s\n",
			rec.VendorID, rec.CriterionID, r.num(rec.Variance), rec.Deadline.Format("2006-01-02 15:04 MST"))
	}
	for _, act := range actions {
		rec := act.Reconciliation
		switch {
		case act.Consensus != nil:
			fmt.Fprintf(r.w, "locked %s/%s at %s (%s)\n", rec.VendorID, rec.CriterionID, r.num(act.Consensus.Value), act.Consensus.Rationale)
		case act.Escalate:
			fmt.Fprintf(r.w, "escalated %s/%s\n", rec.VendorID, rec.CriterionID)
		default:
			fmt.Fprintf(r.w, "unresolved %s/%s past %s\n", rec.VendorID, rec.CriterionID, rec.Deadline.Format("2006-01-02 15:04 MST"))
		}
	}
	if len(opened) == 0 && len(actions) == 0 {
		_, err := fmt.Fprintln(r.w, "Nothing to do.")
		return err
	}
	return nil
}
