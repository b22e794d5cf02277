package visualizer

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"meetrec/mixer"
)

const frameInterval = time.Second / 60

type frameMsg struct{ gen int }

// Model is a bubbletea component. Each Bind starts a new generation; frame
// messages from earlier generations are dropped, which is what stops the
// frame loop.
type Model struct {
	gen      int
	active   bool
	tap      *Tap
	spectrum *Spectrum
	levels   []float64
	width    int
	height   int
	gradient Gradient
}

func New(width, height int) Model {
	return Model{width: width, height: height, gradient: DefaultGradient()}
}

// Bind tears down the current tap and, when active with a stream, taps dest
// and schedules the first frame.
func (m Model) Bind(dest *mixer.Destination, active bool) (Model, tea.Cmd) {
	m.gen++
	if m.tap != nil {
		m.tap.Close()
		m.tap = nil
	}
	m.spectrum = nil
	m.levels = nil
	m.active = false
	if !active || dest == nil {
		return m, nil
	}
	m.tap = NewTap(dest, FFTSize*4)
	m.spectrum = NewSpectrum()
	m.levels = make([]float64, Bins)
	m.active = true
	return m, m.nextFrame()
}

func (m Model) nextFrame() tea.Cmd {
	gen := m.gen
	return tea.Tick(frameInterval, func(time.Time) tea.Msg { return frameMsg{gen: gen} })
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		if msg.gen != m.gen || !m.active {
			return m, nil
		}
		m.levels = m.spectrum.Compute(m.tap.Samples(FFTSize))
		return m, m.nextFrame()
	case tea.WindowSizeMsg:
		m.width = msg.Width
	}
	return m, nil
}

func (m Model) SetSize(width, height int) Model {
	m.width, m.height = width, height
	return m
}

func (m Model) Active() bool { return m.active }

// BarCount is the number of bars the next View draws.
func (m Model) BarCount() int {
	if !m.active || m.width <= 0 {
		return 0
	}
	return min(len(m.levels), m.width)
}

func (m Model) View() string {
	if m.BarCount() == 0 {
		return Blank(m.width, m.height)
	}
	return Render(resample(m.levels, m.width), m.height, m.gradient)
}
