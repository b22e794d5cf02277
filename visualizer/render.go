package visualizer

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

var barEighths = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Gradient runs from the bar base to its tip.
type Gradient struct {
	Base colorful.Color
	Tip  colorful.Color
}

func DefaultGradient() Gradient {
	base, _ := colorful.Hex("#1e90ff")
	tip, _ := colorful.Hex("#ff3c78")
	return Gradient{Base: base, Tip: tip}
}

// resample averages levels into n columns.
func resample(levels []float64, n int) []float64 {
	if n >= len(levels) {
		return levels
	}
	out := make([]float64, n)
	for i := range out {
		lo := i * len(levels) / n
		hi := max((i+1)*len(levels)/n, lo+1)
		var sum float64
		for _, v := range levels[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

// Render draws one column per level, height rows tall. Each row takes its
// color from the gradient at that height, so a bar shades from base to tip.
func Render(levels []float64, height int, g Gradient) string {
	if height <= 0 || len(levels) == 0 {
		return ""
	}
	rows := make([]string, height)
	var line strings.Builder
	for r := 0; r < height; r++ {
		fromBottom := height - 1 - r
		line.Reset()
		for _, lv := range levels {
			cells := lv * float64(height)
			fill := cells - float64(fromBottom)
			switch {
			case fill >= 1:
				line.WriteRune(barEighths[8])
			case fill > 0:
				line.WriteRune(barEighths[int(fill*8)])
			default:
				line.WriteRune(' ')
			}
		}
		t := 0.0
		if height > 1 {
			t = float64(fromBottom) / float64(height-1)
		}
		color := g.Base.BlendLab(g.Tip, t).Clamped().Hex()
		rows[r] = lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(line.String())
	}
	return strings.Join(rows, "\n")
}

// Blank is an empty canvas of the given size.
func Blank(width, height int) string {
	if height <= 0 {
		return ""
	}
	row := strings.Repeat(" ", max(width, 0))
	rows := make([]string, height)
	for i := range rows {
		rows[i] = row
	}
	return strings.Join(rows, "\n")
}
