package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/seenimoa/marketpulse/pkg/models"
)

var (
	primaryColor  = lipgloss.Color("#0969DA")
	accentColor   = lipgloss.Color("#2DA44E")
	warningColor  = lipgloss.Color("#D29922")
	errorColor    = lipgloss.Color("#CF222E")
	dimColor      = lipgloss.Color("#6E7681")
	sourceColor   = lipgloss.Color("#FFA657")
	positiveColor = lipgloss.Color("#39D353")

	headerStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor)

	sectionStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			Underline(true)

	keyStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Width(18)

	successStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(dimColor)
	sourceStyle  = lipgloss.NewStyle().Foreground(sourceColor).Bold(true)
)

func kv(key, value string) string {
	return "  " + keyStyle.Render(key) + value
}

// labelStyle colors a sentiment label by direction.
func labelStyle(l models.Label) lipgloss.Style {
	switch l {
	case models.LabelVeryPositive, models.LabelPositive:
		return lipgloss.NewStyle().Foreground(positiveColor).Bold(l == models.LabelVeryPositive)
	case models.LabelVeryNegative, models.LabelNegative:
		return lipgloss.NewStyle().Foreground(errorColor).Bold(l == models.LabelVeryNegative)
	default:
		return dimStyle
	}
}

func scoreText(score float64) string {
	return labelStyle(models.LabelFor(score)).Render(fmt.Sprintf("%+.3f", score))
}

func distributionText(d models.Distribution) string {
	out := ""
	for _, l := range models.Labels {
		if out != "" {
			out += "  "
		}
		out += labelStyle(l).Render(fmt.Sprintf("%s:%d", l, d[l]))
	}
	return out
}

func printSnapshot(s *models.AggregateSnapshot) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("%s — last %s", s.Entity, s.Window)))
	fmt.Println(kv("Articles", fmt.Sprintf("%d", s.ArticleCount)))
	fmt.Println(kv("Average", scoreText(s.Average)))
	fmt.Println(kv("Weighted", scoreText(s.WeightedAvg)))
	fmt.Println(kv("Label", labelStyle(s.Label()).Render(string(s.Label()))))
	fmt.Println(kv("Distribution", distributionText(s.Distribution)))
}
