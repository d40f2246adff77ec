package main

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/calculator/pkg/keypad"
	"github.com/lemonberrylabs/calculator/pkg/store"
)

const displayWidth = 24

var (
	displayStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Width(displayWidth).
			Align(lipgloss.Right).
			Padding(0, 1).
			Bold(true)

	displayErrorStyle = displayStyle.
				BorderForeground(lipgloss.Color("196")).
				Foreground(lipgloss.Color("196"))

	keyStyle = lipgloss.NewStyle().
			Width(5).
			Align(lipgloss.Center).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("241"))

	keyActiveStyle = keyStyle.
			BorderForeground(lipgloss.Color("214")).
			Foreground(lipgloss.Color("214")).
			Bold(true)

	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var tuiRows = [][]keypad.Key{
	{keypad.KeyClear, keypad.KeyPercent, keypad.KeyDivide, keypad.KeyMultiply},
	{'7', '8', '9', keypad.KeyMinus},
	{'4', '5', '6', keypad.KeyPlus},
	{'1', '2', '3', keypad.KeyEquals},
	{'0', keypad.KeyDecimal},
}

func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Keypad calculator in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd)
		},
	}
}

func runTUI(cmd *cobra.Command) error {
	e := envFrom(cmd)
	calc := keypad.New(
		keypad.WithMaxDigits(e.cfg.MaxDigits),
		keypad.WithRecorder(store.Recorder(e.history, store.SourceKeypad, e.logger)),
	)
	p := tea.NewProgram(newKeypadModel(calc),
		tea.WithContext(cmd.Context()),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	_, err := p.Run()
	return err
}

// keypadModel is the bubbletea model for the keypad. The calculator is
// shared by pointer so value copies of the model see the same state.
type keypadModel struct {
	calc    *keypad.Calculator
	lastKey keypad.Key
}

func newKeypadModel(calc *keypad.Calculator) keypadModel {
	return keypadModel{calc: calc}
}

func (m keypadModel) Init() tea.Cmd {
	return nil
}

func (m keypadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch keyMsg.String() {
	case "ctrl+c", "esc", "q":
		return m, tea.Quit
	case "enter":
		m.press(keypad.KeyEquals)
		return m, nil
	case "backspace", "delete":
		m.press(keypad.KeyClear)
		return m, nil
	}

	for _, r := range keyMsg.Runes {
		switch r {
		case 'x', 'X':
			r = '*'
		case 'c':
			r = 'C'
		}
		m.press(keypad.Key(r))
	}
	return m, nil
}

// press forwards k to the calculator. Keys the keypad does not have are
// ignored.
func (m *keypadModel) press(k keypad.Key) {
	if err := m.calc.Press(k); err == nil {
		m.lastKey = k
	}
}

func (m keypadModel) View() string {
	var b strings.Builder

	style := displayStyle
	if m.calc.IsError() {
		style = displayErrorStyle
	}
	b.WriteString(style.Render(m.calc.Display()))
	b.WriteString("\n")

	state := m.calc.Snapshot()
	pending := " "
	if state.Operator != "" {
		pending = state.Total.String() + " " + state.Operator
	}
	b.WriteString(pendingStyle.Render(pending))
	b.WriteString("\n")

	for _, row := range tuiRows {
		cells := make([]string, 0, len(row))
		for _, k := range row {
			s := keyStyle
			if k == m.lastKey {
				s = keyActiveStyle
			}
			cells = append(cells, s.Render(string(k)))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("enter: =  backspace: C  x: *  esc/q: quit"))
	b.WriteString("\n")
	return b.String()
}
