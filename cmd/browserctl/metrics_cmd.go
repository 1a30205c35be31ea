package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/types"
)

var flagWatch bool

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show server metrics, optionally as a live dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !flagWatch {
			st, err := fetchStatus(cfg)
			if err != nil {
				return fmt.Errorf("fetch status: %w", err)
			}
			fmt.Print(renderStatus(st, time.Now()))
			return nil
		}
		m := metricsModel{cfg: cfg}
		_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
		return err
	},
}

func init() {
	metricsCmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "refresh continuously")
}

type statusPayload struct {
	Version   string                `json:"version"`
	UptimeSec int64                 `json:"uptimeSec"`
	Pool      pool.Snapshot         `json:"pool"`
	Sessions  types.RegistryMetrics `json:"sessions"`
}

func fetchStatus(cfg *config.Config) (*statusPayload, error) {
	var st statusPayload
	if err := getJSON(serverAddr(cfg)+"/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

const watchInterval = 2 * time.Second

type statusMsg struct {
	status *statusPayload
	err    error
}

type tickMsg time.Time

type metricsModel struct {
	cfg     *config.Config
	status  *statusPayload
	err     error
	fetched time.Time
}

func (m metricsModel) Init() tea.Cmd {
	return fetchCmd(m.cfg)
}

func fetchCmd(cfg *config.Config) tea.Cmd {
	return func() tea.Msg {
		st, err := fetchStatus(cfg)
		return statusMsg{status: st, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(watchInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m metricsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case statusMsg:
		m.status = msg.status
		m.err = msg.err
		m.fetched = time.Now()
		return m, tickCmd()
	case tickMsg:
		return m, fetchCmd(m.cfg)
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(18)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			MarginRight(1)
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (m metricsModel) View() string {
	if m.err != nil {
		return errStyle.Render(fmt.Sprintf("server unreachable: %v", m.err)) + "\n" +
			helpStyle.Render("q to quit")
	}
	if m.status == nil {
		return "loading..."
	}
	return renderStatus(m.status, m.fetched) + helpStyle.Render("q to quit")
}

func renderStatus(st *statusPayload, at time.Time) string {
	row := func(label string, value interface{}) string {
		return labelStyle.Render(label) + valueStyle.Render(fmt.Sprintf("%v", value))
	}

	poolBox := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Pool"),
		row("size", fmt.Sprintf("%d/%d", st.Pool.Size, st.Pool.MaxSize)),
		row("available", st.Pool.Available),
		row("in use", st.Pool.InUse),
		row("borrowed", st.Pool.Borrowed),
		row("retired", st.Pool.Retired),
		row("failures", st.Pool.Failures),
	))

	sessionBox := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Sessions"),
		row("total", st.Sessions.TotalSessions),
		row("active", st.Sessions.ActiveSessions),
		row("avg age", fmt.Sprintf("%.0fs", st.Sessions.AverageSessionAgeMs/1000)),
		row("failed", st.Sessions.FailedSessions),
	))

	header := titleStyle.Render("browserctl "+st.Version) +
		valueStyle.Render(fmt.Sprintf("  up %s  refreshed %s",
			(time.Duration(st.UptimeSec)*time.Second).String(),
			at.Format("15:04:05")))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, poolBox, sessionBox),
	) + "\n"
}
