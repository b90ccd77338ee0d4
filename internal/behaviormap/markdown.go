package behaviormap

import (
	"fmt"
	"strings"
)

// Markdown renders a payload as a readable report.
func Markdown(p Payload) string {
	var sections []string

	title := "Behavior map"
	if name := displayName(p.Center); name != "" {
		title = name + "'s behavior map"
	}
	header := fmt.Sprintf("# %s\n\n**%s** · generated %s",
		title, p.Center.Label, p.GeneratedAt.Format("2006-01-02 15:04"))
	if p.Highlight != "" {
		header += "\n\n> " + p.Highlight
	}
	sections = append(sections, header)

	if p.Reflection != "" || p.WeeklyReflection != "" {
		text := p.Reflection
		if text == "" {
			text = p.WeeklyReflection
		}
		sections = append(sections, "## This week\n\n"+text)
	}

	var nodes []string
	for _, n := range p.Nodes {
		line := fmt.Sprintf("### %s (%s, %s, %.0f)\n\n%s", n.Label, n.Type, n.State, n.Score, n.Summary)
		if len(n.Details) > 0 {
			line += "\n\n- " + strings.Join(n.Details, "\n- ")
		}
		nodes = append(nodes, line)
	}
	sections = append(sections, "## Nodes\n\n"+strings.Join(nodes, "\n\n"))

	if len(p.Edges) > 0 {
		labels := make(map[string]string, len(p.Nodes))
		for _, n := range p.Nodes {
			labels[n.ID] = n.Label
		}
		var rows []string
		for _, e := range p.Edges {
			rows = append(rows, fmt.Sprintf("- **%s → %s** (%s, %.0f): %s",
				labelOr(labels, e.Source), labelOr(labels, e.Target), e.Strength, e.Score, e.Reason))
		}
		sections = append(sections, "## Connections\n\n"+strings.Join(rows, "\n"))
	}

	if len(p.WeeklyDeltas) > 0 {
		rows := []string{"| Node | This week | Last week | Change |", "|---|---|---|---|"}
		for _, d := range p.WeeklyDeltas {
			rows = append(rows, fmt.Sprintf("| %s | %.2f | %.2f | %+.2f |", d.Label, d.Current, d.Previous, d.Delta))
		}
		sections = append(sections, "## Week over week\n\n"+strings.Join(rows, "\n"))
	}

	if p.GrowthPath != nil {
		sections = append(sections, fmt.Sprintf("## Growth path\n\n**%s**: %s", p.GrowthPath.Label, p.GrowthPath.Suggestion))
	}

	if len(p.Suggestions) > 0 {
		sections = append(sections, "## Suggestions\n\n- "+strings.Join(p.Suggestions, "\n- "))
	}

	sections = append(sections, fmt.Sprintf("_Signals: %d in 24h, %d in 7 days, %d in 30 days._",
		p.DataWindow.Last24h, p.DataWindow.Last7d, p.DataWindow.Last30d))

	return strings.Join(sections, "\n\n---\n\n")
}

func displayName(c Center) string {
	if c.Name != "" {
		return c.Name
	}
	return c.UserID
}

func labelOr(labels map[string]string, id string) string {
	if l, ok := labels[id]; ok {
		return l
	}
	return id
}
