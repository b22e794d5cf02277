package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meetrec/analyzer"
	"meetrec/beep"
	"meetrec/clipboard"
	"meetrec/mixer"
	"meetrec/session"
	"meetrec/visualizer"
)

const (
	vizHeight = 8
	// lines of transcript shown under the summary
	transcriptPreview = 6
)

// changedMsg tells the model to re-read controller state.
type changedMsg struct{}

// hotkeyMsg is a global hotkey press; it toggles recording with audible cues.
type hotkeyMsg struct{}

type opMsg struct {
	op   string
	info string
	err  error
}

type stoppedMsg struct {
	rec *session.Recording
	err error
}

type tuiConfig struct {
	exportDir  string
	provider   string
	hasKey     bool
	microphone string
	// hotkey is the global combination, empty when none is registered.
	hotkey string
}

type tuiModel struct {
	ctrl *session.Controller
	cfg  tuiConfig

	viz         visualizer.Model
	boundDest   *mixer.Destination
	boundActive bool

	state   session.State
	elapsed int
	recs    []session.Recording
	cursor  int
	notice  string

	status    string
	statusErr bool

	width, height int
}

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	modeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	selStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	summaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

func newTUIModel(ctrl *session.Controller, cfg tuiConfig) tuiModel {
	return tuiModel{
		ctrl: ctrl,
		cfg:  cfg,
		viz:  visualizer.New(0, vizHeight),
	}
}

func (m tuiModel) Init() tea.Cmd {
	return func() tea.Msg { return changedMsg{} }
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viz = m.viz.SetSize(max(msg.Width-2, 0), vizHeight)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case changedMsg:
		return m.sync()

	case hotkeyMsg:
		return m, m.toggle(true)

	case stoppedMsg:
		switch {
		case msg.err != nil:
			m.setError("saving recording: %v", msg.err)
		case msg.rec == nil:
			m.setStatus("nothing was captured, no recording saved")
		default:
			m.setStatus("saved %s (%s)", msg.rec.Name, formatElapsed(msg.rec.Duration))
			m.cursor = 0
		}
		return m.sync()

	case opMsg:
		if msg.err != nil {
			m.setError("%s", describeError(msg.op, msg.err, m.cfg.provider))
		} else if msg.info != "" {
			m.setStatus("%s", msg.info)
		}
		return m.sync()
	}

	var cmd tea.Cmd
	m.viz, cmd = m.viz.Update(msg)
	return m, cmd
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case " ", "space":
		return m, m.toggle(false)
	case "p":
		return m, m.pauseResume()
	case "j", "down":
		if m.cursor < len(m.recs)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	}

	r, ok := m.selected()
	if !ok {
		return m, nil
	}
	switch msg.String() {
	case "a":
		if m.ctrl.Processing(r.ID) {
			return m, nil
		}
		m.setStatus("analyzing %s with %s...", r.Name, m.cfg.provider)
		return m, m.analyze(r.ID, r.Name)
	case "d":
		return m, m.delete(r.ID, r.Name)
	case "e":
		return m, m.export(r.ID)
	case "c":
		return m, copyText(r)
	case "o":
		return m, openRecording(r)
	}
	return m, nil
}

// sync pulls controller state and rebinds the visualizer when the mixed
// stream or its activity changed.
func (m tuiModel) sync() (tea.Model, tea.Cmd) {
	m.state = m.ctrl.State()
	m.elapsed = m.ctrl.Elapsed()
	m.recs = m.ctrl.Recordings()
	m.notice = m.ctrl.Notice()
	if m.cursor >= len(m.recs) {
		m.cursor = max(len(m.recs)-1, 0)
	}

	dest := m.ctrl.Destination()
	active := m.state == session.StateRecording
	if dest == m.boundDest && active == m.boundActive {
		return m, nil
	}
	m.boundDest, m.boundActive = dest, active
	var cmd tea.Cmd
	m.viz, cmd = m.viz.Bind(dest, active)
	return m, cmd
}

func (m tuiModel) selected() (session.Recording, bool) {
	if m.cursor < 0 || m.cursor >= len(m.recs) {
		return session.Recording{}, false
	}
	return m.recs[m.cursor], true
}

func (m *tuiModel) setStatus(format string, args ...any) {
	m.status = fmt.Sprintf(format, args...)
	m.statusErr = false
}

func (m *tuiModel) setError(format string, args ...any) {
	m.status = fmt.Sprintf(format, args...)
	m.statusErr = true
}

// Controller calls run as commands: they block and report back through
// OnChange, which must not be invoked from inside Update.

func (m tuiModel) toggle(cue bool) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		switch ctrl.State() {
		case session.StateIdle:
			if cue {
				beep.PlayStart()
			}
			err := ctrl.Start(context.Background())
			if err != nil && cue {
				beep.PlayError()
			}
			return opMsg{op: "start", err: err}
		case session.StateRecording, session.StatePaused:
			rec, err := ctrl.Stop()
			if cue {
				beep.PlayEnd()
			}
			return stoppedMsg{rec: rec, err: err}
		}
		return opMsg{op: "toggle", err: session.ErrBusy}
	}
}

func (m tuiModel) pauseResume() tea.Cmd {
	ctrl := m.ctrl
	switch m.state {
	case session.StateRecording:
		return func() tea.Msg {
			ctrl.Pause()
			return opMsg{op: "pause", info: "paused"}
		}
	case session.StatePaused:
		return func() tea.Msg {
			ctrl.Resume()
			return opMsg{op: "resume", info: "recording"}
		}
	}
	return nil
}

func (m tuiModel) analyze(id, name string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.Analyze(context.Background(), id); err != nil {
			return opMsg{op: "analyze", err: err}
		}
		return opMsg{op: "analyze", info: "analyzed " + name}
	}
}

func (m tuiModel) delete(id, name string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.Delete(id); err != nil {
			return opMsg{op: "delete", err: err}
		}
		return opMsg{op: "delete", info: "deleted " + name}
	}
}

func (m tuiModel) export(id string) tea.Cmd {
	ctrl, dir := m.ctrl, m.cfg.exportDir
	return func() tea.Msg {
		path, err := ctrl.Export(id, dir)
		if err != nil {
			return opMsg{op: "export", err: err}
		}
		return opMsg{op: "export", info: "exported to " + path}
	}
}

func copyText(r session.Recording) tea.Cmd {
	return func() tea.Msg {
		text, what := r.Summary, "summary"
		if strings.TrimSpace(text) == "" {
			text, what = r.Transcription, "transcription"
		}
		if err := clipboard.Copy(text); err != nil {
			return opMsg{op: "copy", err: err}
		}
		return opMsg{op: "copy", info: what + " copied to clipboard"}
	}
}

func openRecording(r session.Recording) tea.Cmd {
	return func() tea.Msg {
		path, err := r.Handle.Path()
		if err != nil {
			return opMsg{op: "open", err: err}
		}
		if err := openFile(path); err != nil {
			return opMsg{op: "open", err: err}
		}
		return opMsg{op: "open", info: "opened " + r.Name}
	}
}

func openFile(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

// describeError turns controller errors into something actionable.
func describeError(op string, err error, provider string) string {
	switch {
	case errors.Is(err, analyzer.ErrMissingCredential):
		return fmt.Sprintf("no %s API key: set %s_API_KEY or add it to config.toml", provider, strings.ToUpper(provider))
	case errors.Is(err, session.ErrNoSystemAudio), errors.Is(err, session.ErrNoSources):
		return err.Error()
	case errors.Is(err, clipboard.ErrEmpty):
		return "nothing to copy yet: press a to analyze"
	case errors.Is(err, analyzer.ErrTooLarge):
		return err.Error()
	case errors.Is(err, session.ErrBusy):
		return op + ": busy, try again in a moment"
	}
	return fmt.Sprintf("%s failed: %v", op, err)
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	wrapWidth := max(m.width-4, 10)

	var b strings.Builder
	b.WriteString(m.statusLine() + "  " + modeStyle.Render(m.modeLine()) + "\n")
	b.WriteString(m.viz.View() + "\n")

	if m.notice != "" {
		b.WriteString(warnStyle.Render("⚠ "+m.notice) + "\n")
	}
	if m.status != "" {
		style := dimStyle
		if m.statusErr {
			style = errStyle
		}
		for _, line := range wrapText(m.status, wrapWidth) {
			b.WriteString(style.Render(line) + "\n")
		}
	}
	b.WriteString("\n")

	if len(m.recs) == 0 {
		b.WriteString(dimStyle.Render("No recordings yet") + "\n")
	} else {
		b.WriteString(dimStyle.Render(fmt.Sprintf("Recordings (%d)", len(m.recs))) + "\n")
		for i, r := range m.recs {
			b.WriteString(m.recordingLine(i, r) + "\n")
		}
		if r, ok := m.selected(); ok {
			b.WriteString(m.detail(r, wrapWidth))
		}
	}

	b.WriteString("\n" + m.helpLine() + "\n")
	b.WriteString(helpStyle.Render("meetrec " + version))

	return lipgloss.NewStyle().Width(m.width).MaxHeight(m.height).PaddingLeft(1).Render(b.String())
}

func (m tuiModel) statusLine() string {
	switch m.state {
	case session.StateRecording:
		return recStyle.Render("● REC " + formatElapsed(m.elapsed))
	case session.StatePaused:
		return warnStyle.Render("❚❚ PAUSED " + formatElapsed(m.elapsed))
	case session.StatePreparing:
		return busyStyle.Render("◌ STARTING")
	case session.StateProcessing:
		return busyStyle.Render("◌ SAVING")
	}
	return dimStyle.Render("○ STANDBY")
}

func (m tuiModel) modeLine() string {
	src := m.ctrl.Sources()
	var parts []string
	if src.System {
		parts = append(parts, "system")
	}
	if src.Microphone {
		parts = append(parts, "mic: "+m.cfg.microphone)
	}
	provider := m.cfg.provider
	if !m.cfg.hasKey {
		provider += " (no key)"
	}
	return fmt.Sprintf("[%s | %s]", strings.Join(parts, " + "), provider)
}

func (m tuiModel) recordingLine(i int, r session.Recording) string {
	line := fmt.Sprintf("%s  %s  %.0f KB", r.Name, formatElapsed(r.Duration), float64(len(r.Data))/1024)
	tag := ""
	switch {
	case m.ctrl.Processing(r.ID):
		tag = " " + busyStyle.Render("analyzing...")
	case r.Analyzed():
		tag = " " + okStyle.Render("✓ analyzed")
	}
	if i == m.cursor {
		return selStyle.Render("▶ "+line) + tag
	}
	return "  " + line + tag
}

func (m tuiModel) detail(r session.Recording, width int) string {
	if !r.Analyzed() {
		return ""
	}
	var b strings.Builder
	if r.Summary != "" {
		b.WriteString("\n" + dimStyle.Render("Summary") + "\n")
		for _, line := range wrapText(r.Summary, width) {
			b.WriteString(summaryStyle.Render(line) + "\n")
		}
	}
	if r.Transcription != "" {
		b.WriteString("\n" + dimStyle.Render("Transcription") + "\n")
		lines := wrapText(r.Transcription, width)
		if len(lines) > transcriptPreview {
			lines = append(lines[:transcriptPreview], "... (c copies the full text)")
		}
		for _, line := range lines {
			b.WriteString(textStyle.Render(line) + "\n")
		}
	}
	return b.String()
}

func (m tuiModel) helpLine() string {
	keys := []struct{ key, desc string }{
		{"space", "start/stop"},
		{"p", "pause"},
		{"j/k", "select"},
		{"a", "analyze"},
		{"e", "export"},
		{"c", "copy"},
		{"o", "open"},
		{"d", "delete"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, helpKeyStyle.Render(k.key)+helpStyle.Render(" "+k.desc))
	}
	if m.cfg.hotkey != "" {
		parts = append(parts, helpKeyStyle.Render(m.cfg.hotkey)+helpStyle.Render(" anywhere"))
	}
	return strings.Join(parts, helpStyle.Render(" · "))
}

func formatElapsed(secs int) string {
	if secs < 0 {
		secs = 0
	}
	h, m, s := secs/3600, secs/60%60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// wrapText breaks text at spaces so no line is wider than width terminal
// cells; words wider than width are split between runes. Existing line
// breaks are kept.
func wrapText(text string, width int) []string {
	if width <= 0 {
		width = 1
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		var line string
		lineWidth := 0
		for _, word := range strings.Fields(para) {
			w := lipgloss.Width(word)
			if lineWidth > 0 && lineWidth+1+w <= width {
				line += " " + word
				lineWidth += 1 + w
				continue
			}
			if lineWidth > 0 {
				lines = append(lines, line)
			}
			for w > width {
				head, rest := splitWidth(word, width)
				lines = append(lines, head)
				word, w = rest, lipgloss.Width(rest)
			}
			line, lineWidth = word, w
		}
		lines = append(lines, line)
	}
	return lines
}

// splitWidth cuts s after the runes that fit in width cells, taking at
// least one rune.
func splitWidth(s string, width int) (head, rest string) {
	used := 0
	for i, r := range s {
		rw := lipgloss.Width(string(r))
		if i > 0 && used+rw > width {
			return s[:i], s[i:]
		}
		used += rw
	}
	return s, ""
}
