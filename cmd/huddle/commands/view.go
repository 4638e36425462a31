// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/huddle-dev/huddle/lib/chatrender"
	"github.com/huddle-dev/huddle/lib/tui"
	"github.com/huddle-dev/huddle/room"
	"github.com/huddle-dev/huddle/sandbox"
)

const helpText = `/files [pattern]  pick a file to view
/open <path>      show a file
/edit <path>      edit a file in $EDITOR and share it
/run              install and start the project
/help             this list
/quit             leave the room`

// noteKind distinguishes local entries in the log.
type noteKind int

const (
	noteInfo noteKind = iota
	noteOutput
	noteFile
)

// note is a log entry only this terminal sees.
type note struct {
	at   time.Time
	kind noteKind
	text string

	// rendered caches the note at the current width.
	rendered string
}

// maxOutputNotes bounds the run output kept in the log. The oldest
// lines go first; other notes are kept.
const maxOutputNotes = 500

// Messages produced by commands the view starts.
type (
	postedMsg     struct{ err error }
	runStartedMsg struct {
		execution *room.Execution
		err       error
	}
	serverReadyMsg struct {
		server sandbox.ServerReady
		err    error
	}
	editorFinishedMsg struct {
		path     string
		tempFile string
		err      error
	}
)

// roomModel is the bubbletea model of "huddle join".
type roomModel struct {
	ctx          context.Context
	channel      *room.Channel
	events       *sessionEvents
	projectName  string
	theme        tui.Theme
	readyTimeout time.Duration

	renderer *chatrender.Renderer
	input    textinput.Model
	log      viewport.Model
	picker   *filePicker

	notes  []note
	banner string

	// rendered holds the rendered room messages. Messages are only
	// appended, so the cache is a prefix of Messages().
	rendered []string

	server sandbox.ServerReady
	width  int
	height int
	now    func() time.Time
}

func newRoomModel(ctx context.Context, channel *room.Channel, events *sessionEvents, projectName string, readyTimeout time.Duration) *roomModel {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "message, @ai to ask the assistant, /help for commands"
	input.Focus()

	model := &roomModel{
		ctx:          ctx,
		channel:      channel,
		events:       events,
		projectName:  projectName,
		theme:        tui.DefaultTheme,
		readyTimeout: readyTimeout,
		input:        input,
		log:          viewport.New(80, 20),
		now:          time.Now,
	}
	model.resize(80, 24)
	return model
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.events.wait())
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case sessionChangedMsg:
		m.refresh()
		if m.channel.State() == room.Closed && m.banner == "" {
			m.banner = "disconnected from the room"
		}
		return m, m.events.wait()

	case sessionErrorMsg:
		m.banner = msg.err.Error()
		return m, m.events.wait()

	case outputLineMsg:
		m.addNote(noteOutput, msg.line)
		return m, m.events.wait()

	case postedMsg:
		if msg.err != nil {
			m.banner = msg.err.Error()
		}
		return m, nil

	case runStartedMsg:
		if msg.err != nil {
			m.banner = "run failed: " + msg.err.Error()
			return m, nil
		}
		m.addNote(noteInfo, "started; waiting for the server to listen")
		return m, m.awaitReady(msg.execution)

	case serverReadyMsg:
		if msg.err != nil {
			m.banner = "server not ready: " + msg.err.Error()
			return m, nil
		}
		m.server = msg.server
		m.addNote(noteInfo, "server ready at "+msg.server.URL)
		return m, nil

	case editorFinishedMsg:
		m.finishEdit(msg)
		return m, nil
	}
	return m, nil
}

func (m *roomModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, m.quit()
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	}

	if m.picker != nil {
		switch msg.Type {
		case tea.KeyEsc:
			m.picker = nil
		case tea.KeyUp:
			m.picker.move(-1)
		case tea.KeyDown, tea.KeyTab:
			m.picker.move(1)
		case tea.KeyEnter:
			if path, ok := m.picker.choice(); ok {
				m.openFile(path)
			}
			m.picker = nil
		}
		return m, nil
	}

	if msg.Type == tea.KeyEnter {
		line := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		m.banner = ""
		if line == "" {
			return m, nil
		}
		if strings.HasPrefix(line, "/") {
			return m, m.slash(line)
		}
		return m, m.post(line)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// parseSlash splits "/name argument" into its parts.
func parseSlash(line string) (name, argument string) {
	name, argument, _ = strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return strings.ToLower(name), strings.TrimSpace(argument)
}

func (m *roomModel) slash(line string) tea.Cmd {
	name, argument := parseSlash(line)
	switch name {
	case "files":
		m.picker = newFilePicker(m.channel.FileTree().Files(), argument)
	case "open":
		if argument == "" {
			m.banner = "usage: /open <path>"
			return nil
		}
		m.openFile(argument)
	case "edit":
		if argument == "" {
			m.banner = "usage: /edit <path>"
			return nil
		}
		return m.edit(argument)
	case "run":
		return m.run()
	case "help":
		m.addNote(noteInfo, helpText)
	case "quit", "exit":
		return m.quit()
	default:
		m.banner = fmt.Sprintf("unknown command /%s (try /help)", name)
	}
	return nil
}

func (m *roomModel) post(body string) tea.Cmd {
	channel, ctx := m.channel, m.ctx
	return func() tea.Msg {
		return postedMsg{err: channel.PostMessage(ctx, body)}
	}
}

func (m *roomModel) run() tea.Cmd {
	channel, ctx := m.channel, m.ctx
	m.server = sandbox.ServerReady{}
	m.addNote(noteInfo, "installing")
	return func() tea.Msg {
		execution, err := channel.Run(ctx)
		return runStartedMsg{execution: execution, err: err}
	}
}

func (m *roomModel) awaitReady(execution *room.Execution) tea.Cmd {
	ctx, timeout := m.ctx, m.readyTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		server, err := execution.AwaitReady(ctx)
		return serverReadyMsg{server: server, err: err}
	}
}

func (m *roomModel) openFile(path string) {
	node, ok := m.channel.FileTree().Get(path)
	switch {
	case !ok:
		m.banner = fmt.Sprintf("no file %s", path)
	case !node.IsFile():
		m.banner = fmt.Sprintf("%s is a directory", path)
	default:
		m.addNote(noteFile, path+"\n"+node.File.Contents)
	}
}

// edit writes the file to a temporary copy and hands the terminal to
// the editor. The result is shared when the editor exits.
func (m *roomModel) edit(path string) tea.Cmd {
	var contents string
	if node, ok := m.channel.FileTree().Get(path); ok {
		if !node.IsFile() {
			m.banner = fmt.Sprintf("%s is a directory", path)
			return nil
		}
		contents = node.File.Contents
	}
	file, err := os.CreateTemp("", "huddle-*-"+filepath.Base(path))
	if err != nil {
		m.banner = err.Error()
		return nil
	}
	_, writeErr := file.WriteString(contents)
	closeErr := file.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(file.Name())
		m.banner = err.Error()
		return nil
	}

	editor := exec.Command(editorCommand(), file.Name())
	return tea.ExecProcess(editor, func(err error) tea.Msg {
		return editorFinishedMsg{path: path, tempFile: file.Name(), err: err}
	})
}

func (m *roomModel) finishEdit(msg editorFinishedMsg) {
	defer os.Remove(msg.tempFile)
	if msg.err != nil {
		m.banner = "editor: " + msg.err.Error()
		return
	}
	data, err := os.ReadFile(msg.tempFile)
	if err != nil {
		m.banner = err.Error()
		return
	}
	if err := m.channel.UpdateFileTree(msg.path, string(data)); err != nil {
		m.banner = err.Error()
		return
	}
	m.addNote(noteInfo, "updated "+msg.path)
}

func editorCommand() string {
	for _, variable := range []string{"VISUAL", "EDITOR"} {
		if editor := os.Getenv(variable); editor != "" {
			return editor
		}
	}
	return "vi"
}

func (m *roomModel) quit() tea.Cmd {
	m.channel.Leave()
	return tea.Quit
}

func (m *roomModel) addNote(kind noteKind, text string) {
	local := note{at: m.now(), kind: kind, text: text}
	local.rendered = renderNote(m.renderer, m.theme, local)
	m.notes = append(m.notes, local)
	if kind == noteOutput {
		m.trimOutput()
	}
	m.refresh()
}

func (m *roomModel) trimOutput() {
	excess := -maxOutputNotes
	for _, local := range m.notes {
		if local.kind == noteOutput {
			excess++
		}
	}
	if excess <= 0 {
		return
	}
	kept := m.notes[:0]
	for _, local := range m.notes {
		if local.kind == noteOutput && excess > 0 {
			excess--
			continue
		}
		kept = append(kept, local)
	}
	clear(m.notes[len(kept):])
	m.notes = kept
}

func (m *roomModel) resize(width, height int) {
	m.width, m.height = width, height
	m.renderer = chatrender.New(m.theme, width-2)
	m.rendered = nil
	for index := range m.notes {
		m.notes[index].rendered = renderNote(m.renderer, m.theme, m.notes[index])
	}
	m.input.Width = max(width-len(m.input.Prompt)-1, 1)
	// Header, status, and input take one row each.
	m.log.Width = width - 1
	m.log.Height = max(height-3, 1)
	m.refresh()
}

// refresh re-renders the log, staying pinned to the bottom unless the
// user has scrolled up.
func (m *roomModel) refresh() {
	pinned := m.log.AtBottom() || m.log.TotalLineCount() == 0
	m.log.SetContent(m.logContent())
	if pinned {
		m.log.GotoBottom()
	}
}

// logContent renders the messages not yet in the cache and merges the
// log.
func (m *roomModel) logContent() string {
	messages := m.channel.Messages()
	if len(messages) < len(m.rendered) {
		m.rendered = nil
	}
	self := m.channel.Identity().ID.String()
	for _, message := range messages[len(m.rendered):] {
		m.rendered = append(m.rendered, renderMessage(m.renderer, m.theme, self, message))
	}
	return mergeLog(messages, m.rendered, m.notes)
}

func (m *roomModel) View() string {
	header := m.header()
	scrollbar := tui.Scrollbar(m.theme, m.log.Height, m.log.TotalLineCount(), m.log.VisibleLineCount(), m.log.YOffset)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.log.View(), scrollbar)

	status := lipgloss.NewStyle().Foreground(m.theme.HelpText).Render("PgUp/PgDn scroll · /help · Ctrl+C quit")
	if m.banner != "" {
		status = lipgloss.NewStyle().Foreground(m.theme.ErrorForeground).Render(ansi.Truncate(m.banner, m.width, "…"))
	}

	view := lipgloss.JoinVertical(lipgloss.Left, header, body, status, m.input.View())
	if m.picker != nil {
		width := min(60, max(m.width-4, 10))
		view = tui.Splice(view, m.picker.lines(m.theme, width), 2, 1)
	}
	return view
}

func (m *roomModel) header() string {
	state := m.channel.State().String()
	parts := []string{
		lipgloss.NewStyle().Foreground(m.theme.HeaderForeground).Bold(true).Render(m.projectName),
		lipgloss.NewStyle().Foreground(m.theme.StateColor(state)).Render(state),
	}
	if execution := m.channel.Current(); execution != nil {
		if m.server.URL != "" {
			parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.ReadyForeground).Render(m.server.URL))
		} else {
			parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.FaintText).Render("starting"))
		}
	}
	separator := lipgloss.NewStyle().Foreground(m.theme.BorderColor).Render(" · ")
	return ansi.Truncate(strings.Join(parts, separator), m.width, "…")
}

// renderLog merges room messages and local notes by time and renders
// them for the viewport.
func renderLog(renderer *chatrender.Renderer, theme tui.Theme, self string, messages []room.ChatMessage, notes []note) string {
	texts := make([]string, len(messages))
	for index, message := range messages {
		texts[index] = renderMessage(renderer, theme, self, message)
	}
	rendered := make([]note, len(notes))
	for index, local := range notes {
		local.rendered = renderNote(renderer, theme, local)
		rendered[index] = local
	}
	return mergeLog(messages, texts, rendered)
}

// mergeLog orders rendered messages and notes by time. texts[i] is the
// rendering of messages[i].
func mergeLog(messages []room.ChatMessage, texts []string, notes []note) string {
	type entry struct {
		at   time.Time
		text string
	}
	entries := make([]entry, 0, len(messages)+len(notes))
	for index, message := range messages {
		entries = append(entries, entry{at: message.Timestamp, text: texts[index]})
	}
	for _, local := range notes {
		entries = append(entries, entry{at: local.at, text: local.rendered})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	texts = make([]string, len(entries))
	for index, entry := range entries {
		texts[index] = entry.text
	}
	return strings.Join(texts, "\n\n")
}

func renderMessage(renderer *chatrender.Renderer, theme tui.Theme, self string, message room.ChatMessage) string {
	name := message.Sender.Identity().String()
	color := theme.PeerColor(name)
	switch {
	case message.Sender.IsSynthetic():
		name, color = "ai", theme.AIColor
	case message.Sender.Identity().ID.String() == self:
		color = theme.SelfColor
	}
	header := lipgloss.NewStyle().Foreground(color).Bold(true).Render(name) + " " +
		lipgloss.NewStyle().Foreground(theme.FaintText).Render(message.Timestamp.Format("15:04"))

	var body string
	if message.AI != nil {
		body = renderer.Markdown(message.Display)
		if message.AI.FileTree != nil {
			files := message.AI.FileTree.Files()
			body += "\n" + lipgloss.NewStyle().Foreground(theme.FaintText).Render(
				fmt.Sprintf("updated %d files: %s", len(files), strings.Join(files, ", ")))
		}
	} else {
		body = renderer.Plain(message.Display)
	}
	return header + "\n" + body
}

func renderNote(renderer *chatrender.Renderer, theme tui.Theme, local note) string {
	switch local.kind {
	case noteOutput:
		return lipgloss.NewStyle().Foreground(theme.FaintText).Render("│ " + local.text)
	case noteFile:
		path, contents, _ := strings.Cut(local.text, "\n")
		title := lipgloss.NewStyle().Foreground(theme.HeaderForeground).Bold(true).Render(path)
		return title + "\n" + renderer.Code(path, contents)
	default:
		return lipgloss.NewStyle().Foreground(theme.HelpText).Render(local.text)
	}
}
