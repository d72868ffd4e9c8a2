// Package scanmux fans assembled scans out to any number of in-process
// subscribers and exposes the latest scan on the admin debug routes.
package scanmux

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/os32c/internal/httputil"
	"github.com/banshee-data/os32c/internal/os32c"
	"github.com/banshee-data/os32c/internal/timeutil"
)

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 4

// ScanMux stamps published scans and delivers them to subscribers. Slow
// subscribers miss scans rather than blocking the publisher.
type ScanMux struct {
	frameID string
	clock   timeutil.Clock
	buffer  int

	mu          sync.Mutex
	seq         uint32
	latest      *os32c.ScanRecord
	subscribers map[string]chan os32c.ScanRecord
	dropped     uint64
	closed      bool
}

// Options configures a ScanMux. Zero values pick defaults.
type Options struct {
	Clock  timeutil.Clock
	Buffer int
}

// New returns a ScanMux that tags each scan with frameID.
func New(frameID string, o Options) *ScanMux {
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.Buffer <= 0 {
		o.Buffer = DefaultBuffer
	}
	return &ScanMux{
		frameID:     frameID,
		clock:       o.Clock,
		buffer:      o.Buffer,
		subscribers: make(map[string]chan os32c.ScanRecord),
	}
}

// Publish assigns the next sequence number, the current time and the frame
// id to rec, then hands it to every subscriber. It returns the stamped record.
func (m *ScanMux) Publish(rec os32c.ScanRecord) os32c.ScanRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Seq = m.seq
	m.seq++
	rec.Stamp = m.clock.Now()
	rec.FrameID = m.frameID
	if m.closed {
		return rec
	}

	latest := rec
	m.latest = &latest
	for _, ch := range m.subscribers {
		select {
		case ch <- rec:
		default:
			m.dropped++
		}
	}
	return rec
}

// Latest returns the most recently published scan.
func (m *ScanMux) Latest() (os32c.ScanRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return os32c.ScanRecord{}, false
	}
	return *m.latest, true
}

// Dropped returns how many deliveries were skipped because a subscriber was
// not keeping up.
func (m *ScanMux) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Subscribe registers a new buffered channel. The id is used to unsubscribe.
// After Close the returned channel is already closed.
func (m *ScanMux) Subscribe() (string, <-chan os32c.ScanRecord) {
	id := uuid.NewString()
	ch := make(chan os32c.ScanRecord, m.buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel. Unknown ids are ignored.
func (m *ScanMux) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Close closes every subscriber channel. Later publishes are stamped but not
// delivered.
func (m *ScanMux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	return nil
}

// AttachAdminRoutes registers the scan debug pages on mux under /debug/.
// tsweb restricts them to loopback and tailnet callers.
func (m *ScanMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("scan", "latest scan as JSON", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := m.Latest()
		if !ok {
			httputil.NotFound(w, "no scan published yet")
			return
		}
		httputil.WriteJSONOK(w, rec)
	})

	debug.HandleFunc("scan-chart", "latest scan range by angle", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := m.Latest()
		if !ok {
			http.Error(w, "no scan published yet", http.StatusNotFound)
			return
		}
		var buf bytes.Buffer
		if err := renderScanChart(&buf, rec); err != nil {
			http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})

	// Server-Sent Events stream of published scans.
	debug.HandleSilentFunc("scan-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case rec, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(rec)
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

// scanPoints converts the scan to sensor-frame points in metres. Beams with
// no return or at the maximum range are left out.
func scanPoints(rec os32c.ScanRecord, maxRange float64) []opts.ScatterData {
	points := make([]opts.ScatterData, 0, len(rec.Ranges))
	for i, r := range rec.Ranges {
		rng := float64(r)
		if rng <= 0 || rng >= maxRange {
			continue
		}
		a := rec.BeamAngle(i)
		points = append(points, opts.ScatterData{Value: []interface{}{rng * math.Cos(a), rng * math.Sin(a)}})
	}
	return points
}

// renderScanChart draws the scan as a scatter plot.
func renderScanChart(buf *bytes.Buffer, rec os32c.ScanRecord) error {
	pad := rec.RangeMax
	if pad <= 0 {
		pad = os32c.DistanceMax
	}
	points := scanPoints(rec, pad)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "OS32C Scan", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Latest Scan", Subtitle: fmt.Sprintf("frame=%s seq=%d points=%d", rec.FrameID, rec.Seq, len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("ranges", points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	return scatter.Render(buf)
}
