package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"agora/internal/domain"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8000", "agora server base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	chatLimit := flag.Int("chat-limit", 100, "chat messages shown")
	eventLimit := flag.Int("event-limit", 30, "events shown")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newClient(*addr)
	if err := c.waitHealth(ctx, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "server health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	agentsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	agentsTable.SetTitle("Agents (Enter: speak as agent)").SetBorder(true)

	chatView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetScrollable(true)
	chatView.SetTitle("Chat").SetBorder(true)

	graphView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	graphView.SetTitle("Who replies to whom").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	eventsView.SetTitle("Events").SetBorder(true)

	input := tview.NewInputField().
		SetLabel("> ")
	input.SetBorder(true).SetTitle("text | /agent <name> [personality] | /event <text> | /as <agent> <text> | /ask <agent> <text>")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText("Connected to " + c.baseURL)

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(agentsTable, 0, 2, false).
		AddItem(graphView, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(chatView, 0, 3, false).
		AddItem(eventsView, 0, 1, false)
	mainLayout := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(right, 0, 2, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(input, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	var (
		mu         sync.Mutex
		lastAgents []domain.Agent
		lastStatus domain.ChatStatus
		note       string
	)

	noteText := func(msg string) string {
		mu.Lock()
		defer mu.Unlock()
		note = msg
		return renderStatus(c.baseURL, lastStatus) + "\n" + tview.Escape(msg)
	}
	// setNoteUI must run on the UI goroutine, setNote anywhere else.
	setNoteUI := func(msg string) {
		statusView.SetText(noteText(msg))
	}
	setNote := func(msg string) {
		text := noteText(msg)
		app.QueueUpdateDraw(func() {
			statusView.SetText(text)
		})
	}

	refresh := func() {
		reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
		defer reqCancel()
		snap, err := c.snapshot(reqCtx, *chatLimit, *eventLimit)
		if err != nil {
			setNote("refresh failed: " + err.Error())
			return
		}
		mu.Lock()
		lastAgents = snap.Agents
		lastStatus = snap.Status
		current := note
		mu.Unlock()
		app.QueueUpdateDraw(func() {
			renderAgentsTable(agentsTable, snap.Agents)
			chatView.SetText(renderChat(snap.Messages))
			chatView.ScrollToEnd()
			graphView.SetText(renderGraph(snap.Graph))
			eventsView.SetText(renderEvents(snap.Events))
			statusView.SetText(renderStatus(c.baseURL, snap.Status) + "\n" + tview.Escape(current))
		})
	}

	run := func(label string, fn func(context.Context) (string, error)) {
		go func() {
			reqCtx, reqCancel := context.WithTimeout(ctx, 45*time.Second)
			defer reqCancel()
			msg, err := fn(reqCtx)
			if err != nil {
				setNote(label + " failed: " + err.Error())
				return
			}
			setNote(msg)
			refresh()
		}()
	}

	submit := func(line string) {
		cmd, err := parseCommand(line)
		if err != nil {
			setNoteUI(err.Error())
			return
		}
		input.SetText("")
		mu.Lock()
		agents := append([]domain.Agent(nil), lastAgents...)
		mu.Unlock()

		switch cmd.Kind {
		case cmdSay:
			run("send", func(ctx context.Context) (string, error) {
				return "sent", c.sendAsHuman(ctx, cmd.Text)
			})
		case cmdAgent:
			run("create agent", func(ctx context.Context) (string, error) {
				agent, err := c.createAgent(ctx, cmd.Name, cmd.Text)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("created %s (%s)", agent.Name, agent.Personality), nil
			})
		case cmdEvent:
			run("event", func(ctx context.Context) (string, error) {
				n, err := c.globalEvent(ctx, cmd.Text)
				return fmt.Sprintf("event reached %d agents", n), err
			})
		case cmdAs, cmdAsk:
			agent, ok := resolveAgent(agents, cmd.AgentID)
			if !ok {
				setNoteUI("no agent matches " + cmd.AgentID)
				return
			}
			if cmd.Kind == cmdAs {
				run("send", func(ctx context.Context) (string, error) {
					return "sent as " + agent.Name, c.sendAsAgent(ctx, agent.ID, cmd.Text)
				})
				return
			}
			run("ask", func(ctx context.Context) (string, error) {
				reply, err := c.messageAgent(ctx, agent.ID, cmd.Text)
				return agent.Name + ": " + reply, err
			})
		}
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submit(input.GetText())
	})

	agentsTable.SetSelectedFunc(func(row, _ int) {
		mu.Lock()
		defer mu.Unlock()
		if row <= 0 || row > len(lastAgents) {
			return
		}
		input.SetText("/as " + shortID(lastAgents[row-1].ID) + " ")
		app.SetFocus(input)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refresh()
			return nil
		case tcell.KeyF2:
			mu.Lock()
			running := lastStatus.Running
			mu.Unlock()
			run("background", func(ctx context.Context) (string, error) {
				status, err := c.toggleBackground(ctx, running)
				return "background " + status, err
			})
			return nil
		case tcell.KeyF3:
			run("clear", func(ctx context.Context) (string, error) {
				return "chat cleared", c.clearChat(ctx)
			})
			return nil
		case tcell.KeyTAB:
			if app.GetFocus() == input {
				app.SetFocus(agentsTable)
			} else {
				app.SetFocus(input)
			}
			return nil
		case tcell.KeyEscape:
			app.SetFocus(agentsTable)
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		refresh()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(input).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "dashboard failed: %v\n", err)
		os.Exit(1)
	}
}

// resolveAgent finds an agent by id, id prefix or case-insensitive name.
func resolveAgent(agents []domain.Agent, ref string) (domain.Agent, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Agent{}, false
	}
	for _, a := range agents {
		if a.ID == ref {
			return a, true
		}
	}
	var match domain.Agent
	matches := 0
	for _, a := range agents {
		if strings.HasPrefix(a.ID, ref) || strings.EqualFold(a.Name, ref) {
			match = a
			matches++
		}
	}
	return match, matches == 1
}
