package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/app"
	"ragchat/internal/client"
	"ragchat/internal/model"
)

// Backend is the TUI-facing subset of the API client.
type Backend interface {
	Chat(ctx context.Context, req client.ChatRequest) (*app.ChatResult, error)
	UploadFile(ctx context.Context, path, apiKey, sessionID string) (*app.UploadResult, error)
	ListDocuments(ctx context.Context, sessionID string) ([]model.Document, error)
	DeleteDocument(ctx context.Context, sessionID string, fileID uint) (*client.DeleteResult, error)
	History(ctx context.Context, sessionID string, limit int) (*client.History, error)
}

type Options struct {
	SessionID string
	APIKey    string
	Model     string
	Timeout   time.Duration
}

type Model struct {
	backend  Backend
	opts     Options
	input    textinput.Model
	viewport viewport.Model
	lines    []string
	status   string
	busy     bool
	ready    bool
}

type chatDoneMsg struct{ result *app.ChatResult }
type uploadDoneMsg struct{ result *app.UploadResult }
type docsMsg struct{ docs []model.Document }
type deleteDoneMsg struct{ result *client.DeleteResult }
type historyMsg struct{ turns []model.ChatTurn }
type errMsg struct {
	op  string
	err error
}

const helpText = "Commands: /upload <path>, /docs, /delete <file_id>, /history, /quit. Anything else is a question."

func New(backend Backend, opts Options) Model {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your documents or type /help"
	ti.Focus()
	ti.CharLimit = 0

	m := Model{
		backend:  backend,
		opts:     opts,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Session " + opts.SessionID,
	}
	m.appendLine(systemStyle.Render(helpText))
	return m
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := boxStyle.GetFrameSize()
		// header, input box and status line
		reserved := 1 + 1 + bh + 1
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			return m.submit(line)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case chatDoneMsg:
		m.busy = false
		m.opts.SessionID = msg.result.SessionID
		label := "assistant"
		if msg.result.Cached {
			label = fmt.Sprintf("assistant (cached %.2f)", msg.result.Similarity)
		}
		m.appendLine(assistantStyle.Render(label+": ") + msg.result.Answer)
		if len(msg.result.Sources) > 0 {
			files := make([]string, 0, len(msg.result.Sources))
			for _, s := range msg.result.Sources {
				files = append(files, fmt.Sprintf("#%d/%d", s.FileID, s.ChunkIndex))
			}
			m.appendLine(systemStyle.Render("sources: " + strings.Join(files, ", ")))
		}
		m.status = "Session " + m.opts.SessionID
		return m, nil

	case uploadDoneMsg:
		m.busy = false
		m.opts.SessionID = msg.result.SessionID
		m.appendLine(systemStyle.Render(fmt.Sprintf("indexed %s as file %d (%d chunks)",
			msg.result.Filename, msg.result.FileID, msg.result.ChunkCount)))
		m.status = "Session " + m.opts.SessionID
		return m, nil

	case docsMsg:
		m.busy = false
		if len(msg.docs) == 0 {
			m.appendLine(systemStyle.Render("no documents in this session"))
			return m, nil
		}
		for _, d := range msg.docs {
			m.appendLine(systemStyle.Render(fmt.Sprintf("%d  %s  %d chunks  %s",
				d.ID, d.Filename, d.ChunkCount, d.UploadedAt.Format(time.DateTime))))
		}
		return m, nil

	case deleteDoneMsg:
		m.busy = false
		m.appendLine(systemStyle.Render(msg.result.Message))
		return m, nil

	case historyMsg:
		m.busy = false
		if len(msg.turns) == 0 {
			m.appendLine(systemStyle.Render("no history yet"))
		}
		for _, t := range msg.turns {
			m.appendLine(roleStyle(t.Role).Render(t.Role+": ") + t.Content)
		}
		return m, nil

	case errMsg:
		m.busy = false
		m.status = errorStyle.Render(msg.op + " failed: " + msg.err.Error())
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	name, arg := parseCommand(line)
	switch name {
	case "":
		m.appendLine(userStyle.Render("you: ") + line)
		return m.start("thinking...", m.chatCmd(line))
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.appendLine(systemStyle.Render(helpText))
		return m, nil
	case "/upload":
		if arg == "" {
			m.status = errorStyle.Render("usage: /upload <path>")
			return m, nil
		}
		return m.start("uploading "+arg+"...", m.uploadCmd(arg))
	case "/docs":
		return m.start("loading documents...", m.docsCmd())
	case "/delete":
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || id == 0 {
			m.status = errorStyle.Render("usage: /delete <file_id>")
			return m, nil
		}
		return m.start("deleting...", m.deleteCmd(uint(id)))
	case "/history":
		return m.start("loading history...", m.historyCmd())
	default:
		m.status = errorStyle.Render("unknown command " + name)
		return m, nil
	}
}

func (m Model) start(status string, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	m.busy = true
	m.status = status
	return m, cmd
}

func (m Model) chatCmd(question string) tea.Cmd {
	req := client.ChatRequest{Message: question, APIKey: m.opts.APIKey, SessionID: m.opts.SessionID, Model: m.opts.Model}
	return m.call("chat", func(ctx context.Context) (tea.Msg, error) {
		res, err := m.backend.Chat(ctx, req)
		return chatDoneMsg{result: res}, err
	})
}

func (m Model) uploadCmd(path string) tea.Cmd {
	apiKey, sessionID := m.opts.APIKey, m.opts.SessionID
	return m.call("upload", func(ctx context.Context) (tea.Msg, error) {
		res, err := m.backend.UploadFile(ctx, path, apiKey, sessionID)
		return uploadDoneMsg{result: res}, err
	})
}

func (m Model) docsCmd() tea.Cmd {
	sessionID := m.opts.SessionID
	return m.call("list documents", func(ctx context.Context) (tea.Msg, error) {
		docs, err := m.backend.ListDocuments(ctx, sessionID)
		return docsMsg{docs: docs}, err
	})
}

func (m Model) deleteCmd(fileID uint) tea.Cmd {
	sessionID := m.opts.SessionID
	return m.call("delete", func(ctx context.Context) (tea.Msg, error) {
		res, err := m.backend.DeleteDocument(ctx, sessionID, fileID)
		return deleteDoneMsg{result: res}, err
	})
}

func (m Model) historyCmd() tea.Cmd {
	sessionID := m.opts.SessionID
	return m.call("history", func(ctx context.Context) (tea.Msg, error) {
		h, err := m.backend.History(ctx, sessionID, 0)
		if err != nil {
			return nil, err
		}
		return historyMsg{turns: h.Turns}, nil
	})
}

func (m Model) call(op string, fn func(ctx context.Context) (tea.Msg, error)) tea.Cmd {
	timeout := m.opts.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		msg, err := fn(ctx)
		if err != nil {
			return errMsg{op: op, err: err}
		}
		return msg
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Chat")
	input := boxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + boxStyle.Render(m.viewport.View()) + "\n" + input + "\n" + status
}

// SessionID reports the session the conversation is currently bound to.
func (m Model) SessionID() string { return m.opts.SessionID }

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *Model) refresh() {
	width := m.viewport.Width
	content := strings.Join(m.lines, "\n")
	if width > 0 {
		content = lipgloss.NewStyle().Width(width).Render(content)
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func parseCommand(line string) (string, string) {
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func roleStyle(role string) lipgloss.Style {
	if role == model.RoleUser {
		return userStyle
	}
	return assistantStyle
}

var (
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
