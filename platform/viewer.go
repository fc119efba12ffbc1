package platform

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/gammazero/deque"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/exp/maps"

	"lautenbacher.net/gosense/logging"
	"lautenbacher.net/gosense/sensor"
)

const (
	maxReadingHistory = 500
	viewerTitle       = " GoSense Readings "
)

// ReadingsViewer is the TUI dashboard: an intro pane, one statistics row
// per device/quantity channel, and a log pane that takes over the slog
// output once the first frame is drawn.
type ReadingsViewer struct {
	tuiApp       *tview.Application
	intro        *tview.TextView
	statsView    *tview.TextView
	logView      *tview.TextView
	history      map[string]*deque.Deque[float64]
	latest       map[string]sensor.Reading
	mu           sync.Mutex
	ossignal     chan os.Signal
	simMode      bool
	nudge        func(delta float64)
	logFlushOnce sync.Once
	readyChan    chan bool
}

type readingStats struct {
	min    float64
	max    float64
	mean   float64
	median float64
	stdDev float64
}

// NewReadingsViewer creates a viewer. simMode only changes the intro
// text and the advertised keys; the data path is identical.
func NewReadingsViewer(ossignal chan os.Signal, simMode bool) *ReadingsViewer {
	return &ReadingsViewer{
		tuiApp:    tview.NewApplication(),
		history:   make(map[string]*deque.Deque[float64]),
		latest:    make(map[string]sensor.Reading),
		ossignal:  ossignal,
		simMode:   simMode,
		readyChan: make(chan bool),
	}
}

// SetNudgeFunc installs the handler for the '+'/'-' keys. The simulation
// platform uses it to shift its data generator baselines.
func (sv *ReadingsViewer) SetNudgeFunc(f func(delta float64)) {
	sv.nudge = f
}

// Ready is closed after the first frame has been drawn and the log pane
// has taken over the slog output.
func (sv *ReadingsViewer) Ready() <-chan bool {
	return sv.readyChan
}

// Start builds the UI and runs the TUI event loop in the background.
func (sv *ReadingsViewer) Start() {
	sv.setupUI()
	go func() {
		if err := sv.tuiApp.Run(); err != nil {
			slog.Error("Error running readings viewer", "error", err)
			sv.ossignal <- os.Interrupt
		}
		slog.Info("Readings viewer has stopped.")
	}()
}

// Stop detaches the log pane and shuts the TUI down.
func (sv *ReadingsViewer) Stop() {
	logging.BufferOutput()
	sv.tuiApp.Stop()
}

// Update feeds one acquisition batch into the history and schedules a
// redraw. Safe for concurrent use.
func (sv *ReadingsViewer) Update(batch []sensor.Reading) {
	sv.mu.Lock()
	for _, r := range batch {
		key := r.Device + "/" + r.Quantity
		q, ok := sv.history[key]
		if !ok {
			q = new(deque.Deque[float64])
			q.Grow(maxReadingHistory)
			sv.history[key] = q
		}
		if q.Len() == maxReadingHistory {
			q.PopFront()
		}
		q.PushBack(r.Value)
		sv.latest[key] = r
	}
	text := sv.prepareStatsText()
	sv.mu.Unlock()

	sv.tuiApp.QueueUpdateDraw(func() {
		sv.statsView.SetText(text)
	})
}

func (sv *ReadingsViewer) introText() string {
	var buf strings.Builder
	if sv.simMode {
		buf.WriteString("[#ff0000]Caution:[-] Displaying simulated sensor data.\n")
		buf.WriteString("Hit [#ff0000]+[-]/[#ff0000]-[-] to nudge the data generator\n")
	} else {
		buf.WriteString("Displaying live sensor readings.\n")
	}
	buf.WriteString("Hit [#ff0000]q[-] to exit, [#ff0000]r[-] to reload config, [#ff0000]Up/Down[-] to scroll logs")
	return buf.String()
}

func (sv *ReadingsViewer) setupUI() {
	sv.intro = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	sv.intro.SetText(sv.introText())
	sv.intro.SetBorder(true).SetTitle(" GoSense ").SetTitleColor(tcell.ColorLightBlue)
	sv.intro.SetBackgroundColor(tcell.NewRGBColor(20, 20, 20))

	sv.statsView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	sv.statsView.SetBorder(true).SetTitle(viewerTitle).SetTitleColor(tcell.ColorLightBlue)
	sv.statsView.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	sv.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			sv.logView.ScrollToEnd()
			sv.tuiApp.Draw()
		})
	sv.logView.SetBorder(true).SetTitle(" Logs ").SetTitleColor(tcell.ColorLightBlue)
	sv.logView.SetBackgroundColor(tcell.NewRGBColor(40, 40, 40))

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(sv.intro, 5, 0, false).
		AddItem(sv.statsView, 0, 2, false).
		AddItem(sv.logView, 0, 1, true)

	// Flush buffered logs into the pane after the first draw.
	sv.tuiApp.SetAfterDrawFunc(func(screen tcell.Screen) {
		sv.logFlushOnce.Do(func() {
			logging.SetOutput(tview.ANSIWriter(sv.logView))
			close(sv.readyChan)
		})
	})

	sv.tuiApp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			sv.tuiApp.Stop()
			sv.ossignal <- os.Interrupt
			return nil
		case tcell.KeyRune:
			switch string(event.Rune()) {
			case "q", "Q":
				sv.ossignal <- os.Interrupt
				return nil
			case "r", "R":
				sv.ossignal <- syscall.SIGHUP
				return nil
			case "+":
				if sv.nudge != nil {
					sv.nudge(1)
				}
				return nil
			case "-":
				if sv.nudge != nil {
					sv.nudge(-1)
				}
				return nil
			}
		case tcell.KeyUp:
			row, col := sv.logView.GetScrollOffset()
			sv.logView.ScrollTo(row-1, col)
			return nil
		case tcell.KeyDown:
			row, col := sv.logView.GetScrollOffset()
			sv.logView.ScrollTo(row+1, col)
			return nil
		}
		return event
	})

	sv.tuiApp.SetRoot(layout, true).SetFocus(sv.logView)
}

// prepareStatsText renders the statistics table. This method MUST be
// called with the mutex already held.
func (sv *ReadingsViewer) prepareStatsText() string {
	keys := maps.Keys(sv.latest)
	sort.Strings(keys)

	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("[yellow]%-30s %12s %-5s %10s %10s %10s %10s %9s[-]\n",
		" Channel", "Latest", "Unit", "Min", "Mean", "Max", "Median", "StdDev"))
	for _, key := range keys {
		r := sv.latest[key]
		q := sv.history[key]
		data := make([]float64, q.Len())
		for i := range data {
			data[i] = q.At(i)
		}
		stats := calculateStats(data)
		buf.WriteString(fmt.Sprintf("[blue] %-29s[-] %12.3f %-5s %10.3f %10.3f %10.3f %10.3f %9.3f\n",
			key, r.Value, r.Unit, stats.min, stats.mean, stats.max, stats.median, stats.stdDev))
	}
	return buf.String()
}

func calculateStats(data []float64) readingStats {
	if len(data) == 0 {
		return readingStats{}
	}

	var sum float64
	min, max := data[0], data[0]
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	mean := sum / float64(len(data))

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	var median float64
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2.0
	} else {
		median = sorted[mid]
	}

	var sumOfSquares float64
	for _, v := range data {
		sumOfSquares += (v - mean) * (v - mean)
	}
	stdDev := math.Sqrt(sumOfSquares / float64(len(data)))

	return readingStats{
		min:    min,
		max:    max,
		mean:   mean,
		median: median,
		stdDev: stdDev,
	}
}
