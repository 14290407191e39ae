package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/gaganv007/polkaagents/internal/service"
)

// Marketplace is the slice of the gRPC client the browser needs.
type Marketplace interface {
	Summary(ctx context.Context) (domain.Summary, error)
	ListAgents(ctx context.Context, request service.ListAgentsRequest) ([]domain.Agent, error)
	ListAgentInteractions(ctx context.Context, id domain.AgentID) (service.InteractionList, error)
	QueryAgent(ctx context.Context, request service.QueryAgentRequest) (service.InteractionView, error)
}

type screen int

const (
	screenAgents screen = iota
	screenDetail
	screenQuery
)

const refreshInterval = 5 * time.Second

type agentsLoadedMsg struct {
	agents  []domain.Agent
	summary domain.Summary
	err     error
}

type interactionsLoadedMsg struct {
	agentID domain.AgentID
	list    service.InteractionList
	err     error
}

type querySentMsg struct {
	interaction service.InteractionView
	err         error
}

type tickMsg time.Time

type model struct {
	backend    Marketplace
	caller     string
	timeout    time.Duration
	screen     screen
	width      int
	statusLine string

	summary     domain.Summary
	agents      []domain.Agent
	filtered    []domain.Agent
	cursor      int
	activeOnly  bool
	filterInput textinput.Model

	current      domain.Agent
	interactions service.InteractionList

	queryInput   textarea.Model
	paymentInput textinput.Model
	queryFocus   int
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	cursorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cardStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// Run starts the marketplace browser. caller is shown in the header and is
// the identity queries are sent as.
func Run(backend Marketplace, caller string) error {
	program := tea.NewProgram(newModel(backend, caller), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func newModel(backend Marketplace, caller string) model {
	filterInput := textinput.New()
	filterInput.Prompt = "Filter: "
	filterInput.Placeholder = "name, category or owner"

	queryInput := textarea.New()
	queryInput.Placeholder = "Query for the agent..."
	queryInput.Prompt = ""
	queryInput.SetHeight(5)
	queryInput.SetWidth(80)

	paymentInput := textinput.New()
	paymentInput.Prompt = "Payment: "
	paymentInput.Placeholder = "amount in base units"
	paymentInput.Width = 24

	return model{
		backend:      backend,
		caller:       strings.TrimSpace(caller),
		timeout:      10 * time.Second,
		screen:       screenAgents,
		filterInput:  filterInput,
		queryInput:   queryInput,
		paymentInput: paymentInput,
		statusLine:   "loading agents...",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.loadAgentsCmd(), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.queryInput.SetWidth(maxInt(40, typed.Width-8))
		return m, nil
	case tea.KeyMsg:
		if typed.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case agentsLoadedMsg:
		if typed.err != nil {
			m.statusLine = "load failed: " + typed.err.Error()
			return m, nil
		}
		m.agents = typed.agents
		m.summary = typed.summary
		m.applyFilter()
		m.statusLine = fmt.Sprintf("%d agents, refreshed %s", len(m.agents), time.Now().Format("15:04:05"))
		return m, nil
	case interactionsLoadedMsg:
		if typed.err != nil {
			m.statusLine = "interactions failed: " + typed.err.Error()
			return m, nil
		}
		if typed.agentID == m.current.ID {
			m.interactions = typed.list
		}
		return m, nil
	case querySentMsg:
		if typed.err != nil {
			m.statusLine = "query failed: " + typed.err.Error()
			return m, nil
		}
		m.screen = screenDetail
		m.queryInput.Reset()
		m.paymentInput.SetValue("")
		m.statusLine = fmt.Sprintf("interaction %d submitted, fee %s", typed.interaction.ID, typed.interaction.FeePaid)
		return m, tea.Batch(m.loadAgentsCmd(), m.loadInteractionsCmd(m.current.ID))
	case tickMsg:
		cmds := []tea.Cmd{m.loadAgentsCmd(), tickCmd()}
		if m.screen == screenDetail {
			cmds = append(cmds, m.loadInteractionsCmd(m.current.ID))
		}
		return m, tea.Batch(cmds...)
	}

	switch m.screen {
	case screenAgents:
		return m.updateAgents(msg)
	case screenDetail:
		return m.updateDetail(msg)
	case screenQuery:
		return m.updateQuery(msg)
	default:
		return m, nil
	}
}

func (m model) View() string {
	var body string
	switch m.screen {
	case screenAgents:
		body = m.viewAgents()
	case screenDetail:
		body = m.viewDetail()
	case screenQuery:
		body = m.viewQuery()
	}
	header := "PolkaAgents marketplace"
	if m.caller != "" {
		header += " as " + m.caller
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(header),
		mutedStyle.Render(fmt.Sprintf("agents %d (active %d) | interactions %d (pending %d) | fees %s | platform fee %d%%",
			m.summary.Counts.Agents, m.summary.Counts.ActiveAgents,
			m.summary.Counts.Interactions, m.summary.Counts.Pending,
			m.summary.Totals.FeesPaid, m.summary.Config.FeePercentage,
		)),
		"",
		body,
		"",
		mutedStyle.Render(m.statusLine),
	)
}

func (m model) updateAgents(msg tea.Msg) (model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok {
		if m.filterInput.Focused() {
			switch typed.String() {
			case "esc", "enter":
				m.filterInput.Blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.filterInput, cmd = m.filterInput.Update(msg)
			m.applyFilter()
			return m, cmd
		}
		switch typed.String() {
		case "q":
			return m, tea.Quit
		case "/":
			m.filterInput.Focus()
			return m, textinput.Blink
		case "a":
			m.activeOnly = !m.activeOnly
			m.applyFilter()
			return m, nil
		case "r":
			m.statusLine = "refreshing..."
			return m, m.loadAgentsCmd()
		case "j", "down":
			if m.cursor < len(m.filtered)-1 {
				m.cursor++
			}
			return m, nil
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "enter":
			if len(m.filtered) == 0 {
				return m, nil
			}
			m.current = m.filtered[m.cursor]
			m.interactions = service.InteractionList{}
			m.screen = screenDetail
			m.statusLine = "q: query agent, esc: back"
			return m, m.loadInteractionsCmd(m.current.ID)
		}
	}
	return m, nil
}

func (m model) updateDetail(msg tea.Msg) (model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok {
		switch typed.String() {
		case "esc":
			m.screen = screenAgents
			m.statusLine = "/ filter, a toggle active, enter open, r refresh"
			return m, nil
		case "q":
			if !m.current.Active {
				m.statusLine = "agent is not active"
				return m, nil
			}
			m.screen = screenQuery
			m.queryFocus = 0
			m.paymentInput.SetValue(m.current.PricePerQuery.String())
			m.applyQueryFocus()
			m.statusLine = "tab switch field, ctrl+s send, esc cancel"
			return m, textarea.Blink
		}
	}
	return m, nil
}

func (m model) updateQuery(msg tea.Msg) (model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok {
		switch typed.String() {
		case "esc":
			m.screen = screenDetail
			return m, nil
		case "tab", "shift+tab":
			m.queryFocus = 1 - m.queryFocus
			m.applyQueryFocus()
			return m, nil
		case "ctrl+s":
			payment, err := domain.ParseAmount(m.paymentInput.Value())
			if err != nil {
				m.statusLine = "payment must be a whole number"
				return m, nil
			}
			m.statusLine = "sending query..."
			return m, m.sendQueryCmd(service.QueryAgentRequest{
				AgentID:   m.current.ID,
				QueryData: m.queryInput.Value(),
				Value:     payment,
			})
		}
	}

	var cmd tea.Cmd
	if m.queryFocus == 0 {
		m.queryInput, cmd = m.queryInput.Update(msg)
	} else {
		m.paymentInput, cmd = m.paymentInput.Update(msg)
	}
	return m, cmd
}

func (m *model) applyQueryFocus() {
	if m.queryFocus == 0 {
		m.queryInput.Focus()
		m.paymentInput.Blur()
		return
	}
	m.queryInput.Blur()
	m.paymentInput.Focus()
}

func (m *model) applyFilter() {
	needle := strings.ToLower(strings.TrimSpace(m.filterInput.Value()))
	m.filtered = make([]domain.Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		if m.activeOnly && !agent.Active {
			continue
		}
		if needle != "" {
			haystack := strings.ToLower(agent.Metadata.Name + " " + string(agent.Metadata.Category) + " " + string(agent.Owner))
			if !strings.Contains(haystack, needle) {
				continue
			}
		}
		m.filtered = append(m.filtered, agent)
	}
	if m.cursor >= len(m.filtered) {
		m.cursor = maxInt(0, len(m.filtered)-1)
	}
}

func (m model) viewAgents() string {
	var b strings.Builder
	b.WriteString(m.filterInput.View())
	if m.activeOnly {
		b.WriteString(mutedStyle.Render("  [active only]"))
	}
	b.WriteString("\n\n")
	b.WriteString(sectionStyle.Render(fmt.Sprintf("%-5s %-24s %-16s %-16s %10s %10s", "ID", "NAME", "CATEGORY", "OWNER", "PRICE", "STAKE")))
	b.WriteString("\n")
	if len(m.filtered) == 0 {
		b.WriteString(mutedStyle.Render("no agents"))
		return b.String()
	}
	for i, agent := range m.filtered {
		line := fmt.Sprintf("%-5d %-24s %-16s %-16s %10s %10s",
			agent.ID,
			truncate(agent.Metadata.Name, 24),
			agent.Metadata.Category,
			truncate(string(agent.Owner), 16),
			agent.PricePerQuery,
			agent.StakeAmount,
		)
		switch {
		case i == m.cursor:
			line = cursorStyle.Render("> " + line)
		case !agent.Active:
			line = mutedStyle.Render("  " + line)
		default:
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m model) viewDetail() string {
	agent := m.current
	state := "active"
	if !agent.Active {
		state = errStyle.Render("inactive")
	}
	card := cardStyle.Render(strings.Join([]string{
		sectionStyle.Render(fmt.Sprintf("#%d %s", agent.ID, agent.Metadata.Name)),
		agent.Metadata.Description,
		fmt.Sprintf("category %s | model %s", agent.Metadata.Category, defaultString(agent.Metadata.ModelInfo, "-")),
		fmt.Sprintf("owner %s | price %s | stake %s | %s", agent.Owner, agent.PricePerQuery, agent.StakeAmount, state),
	}, "\n"))

	var b strings.Builder
	b.WriteString(card + "\n\n")
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Interactions (%d)", len(m.interactions.Interactions))) + "\n")
	for _, interaction := range m.interactions.Interactions {
		response := mutedStyle.Render("pending")
		if interaction.ResponseData != nil {
			response = truncate(*interaction.ResponseData, 40)
		}
		b.WriteString(fmt.Sprintf("%-5d %-16s %8s  %-32s -> %s\n",
			interaction.ID,
			truncate(string(interaction.User), 16),
			interaction.FeePaid,
			truncate(interaction.QueryData, 32),
			response,
		))
	}
	return b.String()
}

func (m model) viewQuery() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionStyle.Render(fmt.Sprintf("Query #%d %s (price %s)", m.current.ID, m.current.Metadata.Name, m.current.PricePerQuery)),
		m.queryInput.View(),
		m.paymentInput.View(),
	)
}

func (m model) loadAgentsCmd() tea.Cmd {
	backend, timeout := m.backend, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		agents, err := backend.ListAgents(ctx, service.ListAgentsRequest{})
		if err != nil {
			return agentsLoadedMsg{err: err}
		}
		summary, err := backend.Summary(ctx)
		return agentsLoadedMsg{agents: agents, summary: summary, err: err}
	}
}

func (m model) loadInteractionsCmd(id domain.AgentID) tea.Cmd {
	backend, timeout := m.backend, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		list, err := backend.ListAgentInteractions(ctx, id)
		return interactionsLoadedMsg{agentID: id, list: list, err: err}
	}
}

func (m model) sendQueryCmd(request service.QueryAgentRequest) tea.Cmd {
	backend, timeout := m.backend, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		interaction, err := backend.QueryAgent(ctx, request)
		return querySentMsg{interaction: interaction, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func truncate(value string, width int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
