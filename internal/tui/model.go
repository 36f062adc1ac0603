package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/netsimio/netsim/internal/registry"
)

const pollInterval = time.Second

// Model is the bubbletea model for the scene monitor.
type Model struct {
	addr    string
	table   table.Model
	scene   registry.Scene
	err     error
	lastUpd time.Time
}

type sceneMsg struct {
	scene registry.Scene
	err   error
}

type tickMsg time.Time

// New creates a monitor model polling addr.
func New(addr string) Model {
	columns := []table.Column{
		{Title: "Device", Width: 20},
		{Title: "Chip", Width: 12},
		{Title: "Kind", Width: 10},
		{Title: "Vis", Width: 4},
		{Title: "Position", Width: 22},
		{Title: "LE tx/rx", Width: 10},
		{Title: "BR tx/rx", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(16),
	)
	t.SetStyles(tableStyles())

	return Model{addr: addr, table: t}
}

// Init starts the first poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchScene(m.addr), tick())
}

// Update handles key presses, poll results and the poll timer.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, fetchScene(m.addr)
		}

	case tickMsg:
		return m, tea.Batch(fetchScene(m.addr), tick())

	case sceneMsg:
		m.err = msg.err
		if msg.err == nil {
			m.scene = msg.scene
			m.lastUpd = time.Now()
			m.table.SetRows(sceneRows(msg.scene))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchScene polls the control API once.
func fetchScene(addr string) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get("http://" + addr + "/v1/devices")
		if err != nil {
			return sceneMsg{err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return sceneMsg{err: fmt.Errorf("control api returned %s", resp.Status)}
		}

		var scene registry.Scene
		if err := json.NewDecoder(resp.Body).Decode(&scene); err != nil {
			return sceneMsg{err: err}
		}
		return sceneMsg{scene: scene}
	}
}

func sceneRows(scene registry.Scene) []table.Row {
	var rows []table.Row
	for _, dev := range scene.Devices {
		vis := "yes"
		if !dev.Visible {
			vis = "no"
		}
		pos := fmt.Sprintf("(%.1f, %.1f, %.1f)", dev.Position.X, dev.Position.Y, dev.Position.Z)

		for _, chip := range dev.Chips {
			le, br := "-", "-"
			if chip.BT != nil {
				le = fmt.Sprintf("%d/%d", chip.BT.LowEnergy.TxCount, chip.BT.LowEnergy.RxCount)
				br = fmt.Sprintf("%d/%d", chip.BT.Classic.TxCount, chip.BT.Classic.RxCount)
			}
			rows = append(rows, table.Row{dev.Name, chip.Name, chip.Kind, vis, pos, le, br})
		}
		if len(dev.Chips) == 0 {
			rows = append(rows, table.Row{dev.Name, "-", "-", vis, pos, "-", "-"})
		}
	}
	return rows
}
