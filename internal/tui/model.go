// Package tui is the interactive terminal client: a transcript, a document
// pane that scrolls to each analysed passage, and an input line.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Gokhulnath/Manus/internal/annotation"
	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/Gokhulnath/Manus/internal/turn"
	"github.com/Gokhulnath/Manus/internal/viewer"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
)

// Turns runs turns in the active chat. *turn.Loop satisfies it.
type Turns interface {
	Switch(chatID string)
	Refresh(ctx context.Context) ([]models.Message, error)
	Run(ctx context.Context, content string) (turn.Outcome, error)
	Resume(ctx context.Context) (turn.Outcome, error)
}

// Chats creates chats. *client.Client satisfies it.
type Chats interface {
	CreateChat(ctx context.Context, title string) (*models.Chat, error)
}

// Documents shows annotated documents. *viewer.Viewer satisfies it.
type Documents interface {
	Show(ctx context.Context, a annotation.Annotation) (viewer.Document, error)
	Committed(load uint64) bool
}

// Opts holds parameters for creating a Model.
type Opts struct {
	Context context.Context // bounds every command; defaults to Background
	Turns   Turns
	Chats   Chats
	Docs    Documents
	Bridge  *Bridge // must be the Consumer of Turns
	ChatID  string  // starting chat; ctrl+n creates one when empty
	Log     logrus.FieldLogger
}

type turnDoneMsg struct {
	epoch   int
	outcome turn.Outcome
	err     error
}

type historyMsg struct {
	history []models.Message
	err     error
}

type docMsg struct {
	doc  viewer.Document
	err  error
	done chan struct{}
}

type chatCreatedMsg struct {
	chat *models.Chat
	err  error
}

// Model is the bubbletea model.
type Model struct {
	ctx    context.Context
	turns  Turns
	chats  Chats
	docs   Documents
	bridge *Bridge
	parser *annotation.Parser

	chatID   string
	epoch    int // bumped on every chat switch
	entries  []entry
	busy     bool
	state    turn.State
	canRetry bool
	status   string
	err      error
	docLoad  uint64
	doc      viewer.Document

	width  int
	height int

	input      textinput.Model
	transcript viewport.Model
	document   viewport.Model
	spinner    spinner.Model

	theme theme
}

// New creates a Model.
func New(opts Opts) (Model, error) {
	if opts.Turns == nil || opts.Docs == nil || opts.Bridge == nil {
		return Model{}, fmt.Errorf("tui: turns, docs and bridge are required")
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	input := textinput.New()
	input.Prompt = "❯ "
	input.Placeholder = "Ask about the data room…"
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points

	m := Model{
		ctx:        opts.Context,
		turns:      opts.Turns,
		chats:      opts.Chats,
		docs:       opts.Docs,
		bridge:     opts.Bridge,
		parser:     annotation.NewParser(opts.Log),
		chatID:     opts.ChatID,
		status:     "ready",
		input:      input,
		transcript: viewport.New(0, 0),
		document:   viewport.New(0, 0),
		spinner:    sp,
		theme:      newTheme(),
	}
	if m.chatID != "" {
		m.turns.Switch(m.chatID)
	} else {
		m.status = "no chat selected · ctrl+n starts one"
	}
	return m, nil
}

// Init starts the cursor blink, the spinner, the bridge listener and an
// initial history load.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick, m.bridge.wait()}
	if m.chatID != "" {
		cmds = append(cmds, m.historyCmd())
	}
	return tea.Batch(cmds...)
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case analyseMsg:
		cmds = append(cmds, m.bridge.wait())
		if msg.msg.ChatID != m.chatID {
			ack(msg.done)
			break
		}
		if e, ok := entryFor(msg.msg, m.parser); ok {
			m.entries = append(m.entries, e)
			m.renderTranscript()
		}
		cmds = append(cmds, m.showCmd(m.parser.Parse(msg.msg.Content), msg.done))

	case summaryMsg:
		cmds = append(cmds, m.bridge.wait())
		if msg.msg.ChatID != m.chatID {
			break
		}
		if e, ok := entryFor(msg.msg, m.parser); ok {
			m.entries = append(m.entries, e)
			m.renderTranscript()
		}

	case stateMsg:
		cmds = append(cmds, m.bridge.wait())
		if m.busy {
			m.state = msg.state
			m.status = msg.state.String()
		}

	case refreshMsg:
		cmds = append(cmds, m.bridge.wait())
		m.setHistory(msg.history)

	case historyMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "history failed"
			break
		}
		m.setHistory(msg.history)

	case turnDoneMsg:
		if msg.epoch != m.epoch {
			break
		}
		m.finishTurn(msg.outcome, msg.err)

	case docMsg:
		if errors.Is(msg.err, viewer.ErrSuperseded) || msg.doc.Load < m.docLoad {
			ack(msg.done)
			break
		}
		m.docLoad = msg.doc.Load
		m.doc = msg.doc
		m.renderDocument()
		ack(msg.done)

	case chatCreatedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "new chat failed"
			break
		}
		m.switchChat(msg.chat.ID)
		m.status = "new chat · " + msg.chat.Title

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(k tea.KeyMsg) (tea.Cmd, bool) {
	switch k.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.bridge.Close()
		return tea.Quit, true
	case tea.KeyCtrlN:
		if m.chats == nil {
			return nil, true
		}
		return m.newChatCmd(), true
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(k)
		return cmd, true
	case tea.KeyEnter:
		return m.submit(), true
	case tea.KeyRunes:
		if string(k.Runes) == "r" && m.canRetry && !m.busy && m.input.Value() == "" {
			return m.retry(), true
		}
	}
	return nil, false
}

func (m *Model) submit() tea.Cmd {
	content := strings.TrimSpace(m.input.Value())
	if content == "" || m.busy {
		return nil
	}
	if m.chatID == "" {
		m.status = "no chat selected · ctrl+n starts one"
		return nil
	}
	m.input.Reset()
	m.entries = append(m.entries, entry{kind: "user", text: content})
	m.renderTranscript()
	m.beginTurn("sending")

	ctx, turns, epoch := m.ctx, m.turns, m.epoch
	return func() tea.Msg {
		out, err := turns.Run(ctx, content)
		return turnDoneMsg{epoch: epoch, outcome: out, err: err}
	}
}

func (m *Model) retry() tea.Cmd {
	m.beginTurn("retrying")
	ctx, turns, epoch := m.ctx, m.turns, m.epoch
	return func() tea.Msg {
		out, err := turns.Resume(ctx)
		return turnDoneMsg{epoch: epoch, outcome: out, err: err}
	}
}

func (m *Model) beginTurn(status string) {
	m.busy = true
	m.canRetry = false
	m.err = nil
	m.status = status
}

func (m *Model) finishTurn(out turn.Outcome, err error) {
	m.busy = false
	m.state = out.State
	switch {
	case errors.Is(err, turn.ErrTurnStalled):
		m.err = err
		m.canRetry = true
		m.status = "stalled · press r to retry"
	case errors.Is(err, turn.ErrTurnFailed):
		m.err = err
		m.status = "analysis failed"
	case errors.Is(err, turn.ErrCancelled):
		m.status = "cancelled"
	case err != nil:
		m.err = err
		m.status = "error"
	default:
		m.status = fmt.Sprintf("done · %d analysed", out.Analysed)
	}
}

// setHistory replaces the transcript with the chat's stored history.
func (m *Model) setHistory(history []models.Message) {
	if len(history) > 0 && history[0].ChatID != m.chatID {
		return
	}
	entries := make([]entry, 0, len(history))
	for _, hm := range history {
		if e, ok := entryFor(hm, m.parser); ok {
			entries = append(entries, e)
		}
	}
	m.entries = entries
	m.renderTranscript()
}

func (m *Model) switchChat(chatID string) {
	m.turns.Switch(chatID)
	m.chatID = chatID
	m.epoch++
	m.entries = nil
	m.busy = false
	m.canRetry = false
	m.err = nil
	m.state = turn.Idle
	m.renderTranscript()
}

func (m Model) historyCmd() tea.Cmd {
	ctx, turns := m.ctx, m.turns
	return func() tea.Msg {
		h, err := turns.Refresh(ctx)
		return historyMsg{history: h, err: err}
	}
}

func (m Model) showCmd(a annotation.Annotation, done chan struct{}) tea.Cmd {
	ctx, docs := m.ctx, m.docs
	return func() tea.Msg {
		doc, err := docs.Show(ctx, a)
		return docMsg{doc: doc, err: err, done: done}
	}
}

func (m Model) newChatCmd() tea.Cmd {
	ctx, chats := m.ctx, m.chats
	return func() tea.Msg {
		chat, err := chats.CreateChat(ctx, "")
		return chatCreatedMsg{chat: chat, err: err}
	}
}

func (m *Model) resize() {
	paneHeight := maxInt(5, m.height-8)
	left := maxInt(20, m.width*11/20)
	right := maxInt(20, m.width-left)
	m.transcript.Width, m.transcript.Height = left-4, paneHeight
	m.document.Width, m.document.Height = right-4, paneHeight
	m.input.Width = maxInt(10, m.width-8)
	m.renderTranscript()
	m.renderDocument()
}

func (m *Model) renderTranscript() {
	m.transcript.SetContent(m.theme.renderEntries(m.entries, m.transcript.Width))
	m.transcript.GotoBottom()
}

// renderDocument sets the document pane's content and, the first time a
// load's text is in place, scrolls to its highlight.
func (m *Model) renderDocument() {
	content, line := m.theme.renderDocument(m.doc, m.document.Width)
	m.document.SetContent(content)
	if m.doc.State == viewer.Loaded && m.docs.Committed(m.doc.Load) {
		m.document.SetYOffset(line)
	}
}

// View renders the screen.
func (m Model) View() string {
	left := m.theme.panel.Render(m.theme.title.Render("Chat") + "\n" + m.transcript.View())
	right := m.theme.panel.Render(m.theme.title.Render("Document") + "\n" + m.document.View())
	panes := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	input := m.input.View()
	if m.busy {
		input = m.spinner.View() + " " + input
	}

	status := m.theme.status.Render(m.status)
	if m.err != nil {
		status = m.theme.errStatus.Render(m.status + ": " + m.err.Error())
	}
	help := m.theme.help.Render("enter send · r retry when stalled · ctrl+n new chat · pgup/pgdn scroll · esc quit")
	return lipgloss.JoinVertical(lipgloss.Left, panes, m.theme.panel.Render(input), status, help)
}

// Run starts the program on the alternate screen and blocks until it exits.
func Run(m Model) error {
	defer m.bridge.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
