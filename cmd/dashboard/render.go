package main

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"agora/internal/domain"
	"agora/internal/mood"
)

type commandKind int

const (
	cmdSay commandKind = iota
	cmdAgent
	cmdEvent
	cmdAs
	cmdAsk
)

type command struct {
	Kind    commandKind
	AgentID string
	Name    string
	Text    string
}

// parseCommand reads one line of dashboard input. Plain text is a human chat
// message; slash commands create agents, fire events or speak for an agent.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, fmt.Errorf("nothing to send")
	}
	if !strings.HasPrefix(line, "/") {
		return command{Kind: cmdSay, Text: line}, nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "/agent":
		name, personality, _ := strings.Cut(rest, " ")
		if name == "" {
			return command{}, fmt.Errorf("usage: /agent <name> [personality]")
		}
		return command{Kind: cmdAgent, Name: name, Text: strings.TrimSpace(personality)}, nil
	case "/event":
		if rest == "" {
			return command{}, fmt.Errorf("usage: /event <text>")
		}
		return command{Kind: cmdEvent, Text: rest}, nil
	case "/as", "/ask":
		id, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if id == "" || text == "" {
			return command{}, fmt.Errorf("usage: %s <agent-id> <text>", verb)
		}
		kind := cmdAs
		if verb == "/ask" {
			kind = cmdAsk
		}
		return command{Kind: kind, AgentID: id, Text: text}, nil
	default:
		return command{}, fmt.Errorf("unknown command %s", verb)
	}
}

func renderAgentsTable(table *tview.Table, agents []domain.Agent) {
	table.Clear()
	headers := []string{"Agent", "Name", "Personality", "Mood", "Location"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, a := range agents {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(a.ID)))
		table.SetCell(row, 1, tview.NewTableCell(a.Name))
		table.SetCell(row, 2, tview.NewTableCell(a.Personality))
		table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%s %.2f", mood.Emoji(a.Mood), a.Mood)))
		table.SetCell(row, 4, tview.NewTableCell(trimLine(a.Location, 24)))
	}
}

func renderChat(items []domain.ChatMessage) string {
	if len(items) == 0 {
		return "No messages"
	}
	names := make(map[string]string, len(items))
	for _, m := range items {
		names[m.ID] = m.SenderName
	}
	var b strings.Builder
	for _, m := range items {
		color := "white"
		switch m.Kind {
		case domain.MessageKindHuman:
			color = "yellow"
		case domain.MessageKindAgentSelfInitiated:
			color = "aqua"
		}
		fmt.Fprintf(&b, "[gray]%s[-] [%s]%s[-]", m.CreatedAt.Local().Format("15:04:05"), color, tview.Escape(m.SenderName))
		if to, ok := names[m.InReplyTo]; ok && m.InReplyTo != "" {
			fmt.Fprintf(&b, " [gray]-> %s[-]", tview.Escape(to))
		}
		b.WriteString(": " + tview.Escape(m.Body) + "\n")
	}
	return b.String()
}

func renderGraph(graph domain.Graph) string {
	if len(graph.Nodes) == 0 {
		return "No agents"
	}
	names := make(map[string]string, len(graph.Nodes))
	for _, n := range graph.Nodes {
		names[n.ID] = n.Name
	}
	if len(graph.Edges) == 0 {
		return fmt.Sprintf("%d agents, nobody has replied to anyone yet", len(graph.Nodes))
	}
	var b strings.Builder
	for _, e := range graph.Edges {
		fmt.Fprintf(&b, "%s -> %s  x%d\n", names[e.Source], names[e.Target], e.Weight)
	}
	return b.String()
}

func renderEvents(items []domain.Event) string {
	if len(items) == 0 {
		return "No events"
	}
	var b strings.Builder
	for _, e := range items {
		fmt.Fprintf(&b, "[%s] %s %s\n", e.Timestamp.Local().Format("15:04:05"), e.Type, tview.Escape(trimLine(e.Content, 100)))
	}
	return b.String()
}

func renderStatus(baseURL string, status domain.ChatStatus) string {
	bg := "[red]stopped[-]"
	if status.Running {
		bg = "[green]running[-]"
	}
	return fmt.Sprintf("%s | background %s | messages=%d agents=%d | F2 background, F3 clear chat, F5 refresh, F10 quit",
		baseURL, bg, status.MessageCount, status.AgentCount)
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
