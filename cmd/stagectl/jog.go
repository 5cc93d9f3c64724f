package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/probelab/sonicstage/pkg/gcode"
	"github.com/probelab/sonicstage/pkg/stage"
)

type JogCommand struct {
	Config string `long:"config" short:"c" description:"Config file path" default:"sonicstage.json"`
	Port   string `long:"port" short:"p" description:"Serial port (overrides config)"`
}

const (
	jogHeaderHeight = 2
	jogLegendHeight = 2
	jogFooterHeight = 7
	jogMaxLogs      = 5
	jogBorderSize   = 2

	// Terminals report key repeats, not releases. A key counts as released
	// once its repeat events have been silent for this long.
	releaseAfter = 350 * time.Millisecond
	uiTick       = 100 * time.Millisecond
)

// keyActions maps terminal keys to hold actions. The X arrows are crossed on
// purpose: the camera view mirrors the stage, so "left" moves the image left.
var keyActions = map[string]stage.Action{
	"left":  stage.ActionXPlus,
	"right": stage.ActionXMinus,
	"up":    stage.ActionYMinus,
	"down":  stage.ActionYPlus,
	"w":     stage.ActionZPlus,
	"s":     stage.ActionZMinus,
	"a":     stage.ActionRotCCW,
	"d":     stage.ActionRotCW,
}

var axisColors = map[gcode.Axis]string{
	gcode.AxisX: "196", // red
	gcode.AxisY: "46",  // green
	gcode.AxisZ: "51",  // cyan
	gcode.AxisE: "201", // magenta
}

var (
	jogTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	jogChartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	jogStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	jogHoldStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

type jogModel struct {
	st       *stage.Stage
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	quitting bool

	// lastSeen records the newest repeat event per held action.
	lastSeen map[stage.Action]time.Time
}

type jogTickMsg time.Time
type jogEventMsg string

func waitForJogEvent(st *stage.Stage) tea.Cmd {
	return func() tea.Msg {
		return jogEventMsg(<-st.Events())
	}
}

func jogTick() tea.Cmd {
	return tea.Tick(uiTick, func(t time.Time) tea.Msg {
		return jogTickMsg(t)
	})
}

func (m *jogModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > jogMaxLogs {
		m.logs = m.logs[len(m.logs)-jogMaxLogs:]
	}
}

func (m *jogModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = m.width - jogBorderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - jogHeaderHeight - jogLegendHeight - jogFooterHeight - jogBorderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *jogModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialJogModel(st *stage.Stage, zMax float64) jogModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-10, zMax+10),
	)
	for axis, color := range axisColors {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(string(axis), runes.ThinLineStyle, style)
	}

	return jogModel{
		st:       st,
		chart:    &chart,
		lastSeen: make(map[stage.Action]time.Time),
	}
}

func (m jogModel) Init() tea.Cmd {
	return tea.Batch(jogTick(), waitForJogEvent(m.st))
}

func (m jogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			if err := m.st.EmergencyStop(); err != nil {
				m.addLog(fmt.Sprintf("emergency stop failed: %v", err))
			} else {
				m.addLog("EMERGENCY STOP")
			}
			m.lastSeen = make(map[stage.Action]time.Time)
			return m, nil
		}
		if action, ok := keyActions[msg.String()]; ok {
			if _, held := m.lastSeen[action]; !held {
				if err := m.st.Keyboard().Start(action, 0, 0); err != nil {
					m.addLog(fmt.Sprintf("start %s: %v", action, err))
					return m, nil
				}
			}
			m.lastSeen[action] = time.Now()
		}
		return m, nil

	case jogTickMsg:
		now := time.Time(msg)
		for action, seen := range m.lastSeen {
			if now.Sub(seen) > releaseAfter {
				m.st.Keyboard().Stop(action)
				delete(m.lastSeen, action)
			}
		}
		for axis, value := range m.st.CachedPosition() {
			m.chart.PushDataSet(string(axis), value)
		}
		m.chart.DrawAll()
		return m, jogTick()

	case jogEventMsg:
		m.addLog(string(msg))
		return m, waitForJogEvent(m.st)
	}

	return m, nil
}

func (m jogModel) View() string {
	if m.quitting {
		return "Jog session ended.\n"
	}

	var sb strings.Builder

	sb.WriteString(jogTitleStyle.Render("SonicStage Jog"))
	if held := m.heldActions(); held != "" {
		sb.WriteString("  " + jogHoldStyle.Render(held))
	}
	if m.width > 0 {
		sb.WriteString(jogStatusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(jogChartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(renderJogLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = jogStatusStyle.Render("arrows: XY  w/s: Z  a/d: rotate  esc: STOP  q: quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m jogModel) heldActions() string {
	if len(m.lastSeen) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.lastSeen))
	for action := range m.lastSeen {
		names = append(names, string(action))
	}
	sort.Strings(names)
	return "holding " + strings.Join(names, " ")
}

func renderJogLegend() string {
	var items []string
	for _, axis := range []gcode.Axis{gcode.AxisX, gcode.AxisY, gcode.AxisZ, gcode.AxisE} {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(axisColors[axis])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+string(axis))
	}
	return strings.Join(items, "  ")
}

func (c *JogCommand) Execute(args []string) error {
	cfg := loadConfig(c.Config, c.Port, "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, link, err := openStage(ctx, cfg)
	if err != nil {
		return err
	}
	defer link.Close()

	go func() {
		for {
			select {
			case err := <-st.Errors():
				log.Printf("motion fault: %v", err)
				stop()
			case <-ctx.Done():
				return
			}
		}
	}()

	p := tea.NewProgram(initialJogModel(st, cfg.Travel.ZMax), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Close(closeCtx); err != nil {
		log.Printf("stage shutdown: %v", err)
	}
	return nil
}
