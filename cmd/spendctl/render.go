package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"spendwatch/internal/core"
)

var (
	colorBorder = lipgloss.Color("#282726")
	colorText   = lipgloss.Color("#FFFCF0")
	colorMuted  = lipgloss.Color("#6F6E69")
	colorAccent = lipgloss.Color("#3AA99F")
	colorGreen  = lipgloss.Color("#879A39")
	colorRed    = lipgloss.Color("#D14D41")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	labelStyle  = lipgloss.NewStyle().Foreground(colorMuted).Width(22)
	valueStyle  = lipgloss.NewStyle().Foreground(colorText)
	upStyle     = lipgloss.NewStyle().Foreground(colorRed)
	downStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	barStyle    = lipgloss.NewStyle().Foreground(colorAccent)
)

const barWidth = 24

var hundred = decimal.NewFromInt(100)

func renderTitle(title string) string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Width(55).
		Align(lipgloss.Center).
		Padding(0, 1).
		Render(titleStyle.Render(title))
}

func row(label, value string) string {
	return "  " + labelStyle.Render(label) + valueStyle.Render(value) + "\n"
}

func renderBudget(email string, b core.Budget) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("  Budget for "+email) + "\n")
	sb.WriteString(row("Monthly limit", b.MonthlyLimit.String()))
	sb.WriteString(row("Alert threshold", b.AlertThreshold.Mul(hundred).StringFixed(0)+"%"))
	sb.WriteString(row("Alert at", b.ThresholdAmount().Div(hundred).StringFixed(2)))
	sb.WriteString(row("Reset day", fmt.Sprintf("%d", b.ResetDay)))
	return sb.String()
}

func renderComparison(c core.MonthComparison) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("  Month over month") + "\n")
	sb.WriteString(row("This month", c.CurrentMonthTotal.String()))
	sb.WriteString(row("Last month", c.LastMonthTotal.String()))

	change := fmt.Sprintf("%+d%%", c.PercentChange)
	switch {
	case c.PercentChange > 0:
		change = upStyle.Render(change)
	case c.PercentChange < 0:
		change = downStyle.Render(change)
	}
	sb.WriteString("  " + labelStyle.Render("Change") + change + "\n")
	return sb.String()
}

func renderBreakdown(shares []core.CategoryShare) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("  By category") + "\n")
	if len(shares) == 0 {
		sb.WriteString(row("No expenses this month", ""))
		return sb.String()
	}
	for _, s := range shares {
		filled := int(s.Percentage) * barWidth / 100
		bar := barStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", barWidth-filled)
		sb.WriteString(fmt.Sprintf("  %s%10s  %s %3d%%\n",
			labelStyle.Render(string(s.Category)), s.Amount.String(), bar, s.Percentage))
	}
	return sb.String()
}

func renderSeries(r core.MonthlyReport) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("  %d by month", r.Year)) + "\n")
	for _, m := range r.Months {
		sb.WriteString(row(core.ShortMonthName(m.Month), m.Spent.String()))
	}
	return sb.String()
}
