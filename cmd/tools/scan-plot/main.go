// Command scan-plot replays a capture through a streaming session and saves
// one scan as a PNG scatter plot in the scanner frame.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/os32c/internal/os32c"
	"github.com/banshee-data/os32c/internal/replay"
	"github.com/banshee-data/os32c/internal/scanstats"
	"github.com/banshee-data/os32c/internal/session"
)

var (
	pcapPath = flag.String("pcap", "", "Capture file to replay (required)")
	scanner  = flag.String("scanner", "", "Scanner IP in the capture (default: any sender on the I/O port)")
	ioPort   = flag.Int("port", 2222, "UDP port measurement datagrams are sent from")
	index    = flag.Int("scan", 0, "Index of the scan to plot, counting from 0")
	output   = flag.String("out", "scan.png", "Output PNG path")
)

func main() {
	flag.Parse()
	if *pcapPath == "" {
		log.Fatal("-pcap is required")
	}

	rec, err := readScan(context.Background(), *pcapPath, *scanner, *ioPort, *index)
	if err != nil {
		log.Fatalf("failed to read scan %d: %v", *index, err)
	}
	log.Printf("scan %d: %s", *index, scanstats.Summarize(&rec))

	title := fmt.Sprintf("Scan %d (count %d)", *index, rec.Header.ScanCount)
	if err := plotScan(rec, title, *output); err != nil {
		log.Fatalf("failed to plot scan: %v", err)
	}
	log.Printf("wrote %s", *output)
}

// readScan streams the capture and returns the n'th assembled scan. Scans that
// fail to decode are skipped and not counted.
func readScan(ctx context.Context, path, scannerIP string, port, n int) (os32c.ScanRecord, error) {
	t := replay.NewTransport(path, replay.Options{Port: port, Scanner: scannerIP})
	s := session.New(t, session.Options{KeepaliveInterval: -1})
	defer s.Close(ctx)

	if err := s.Open(ctx, path); err != nil {
		return os32c.ScanRecord{}, err
	}
	if err := s.Configure(ctx, os32c.RangeTimeOfFlight4ps, os32c.ReflectivityTOTEncoded, os32c.AngleMax, os32c.AngleMin); err != nil {
		return os32c.ScanRecord{}, err
	}
	if _, err := s.StartStreaming(ctx); err != nil {
		return os32c.ScanRecord{}, err
	}

	for seen := 0; ; {
		rec, err := s.ReceiveStreamScan(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return os32c.ScanRecord{}, fmt.Errorf("capture holds %d scans", seen)
		case errors.Is(err, os32c.ErrFormat), errors.Is(err, os32c.ErrProtocol), errors.Is(err, os32c.ErrValidation):
			log.Printf("skipping datagram: %v", err)
			continue
		case err != nil:
			return os32c.ScanRecord{}, err
		}
		if seen == n {
			return rec, nil
		}
		seen++
	}
}

// cartesian converts the usable returns of rec to x/y metres.
func cartesian(rec os32c.ScanRecord) plotter.XYs {
	pts := make(plotter.XYs, 0, len(rec.Ranges))
	for i, r := range rec.Ranges {
		rng := float64(r)
		if rng <= rec.RangeMin || (rec.RangeMax > 0 && rng >= rec.RangeMax) {
			continue
		}
		a := rec.BeamAngle(i)
		pts = append(pts, plotter.XY{X: rng * math.Cos(a), Y: rng * math.Sin(a)})
	}
	return pts
}

func plotScan(rec os32c.ScanRecord, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	pts := cartesian(rec)
	if len(pts) > 0 {
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("failed to create scatter: %w", err)
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(1)
		p.Add(sc)
	}

	origin, err := plotter.NewScatter(plotter.XYs{{X: 0, Y: 0}})
	if err != nil {
		return fmt.Errorf("failed to create origin marker: %w", err)
	}
	origin.GlyphStyle.Shape = draw.CrossGlyph{}
	origin.GlyphStyle.Radius = vg.Points(4)
	p.Add(origin)
	p.Legend.Add("scanner", origin)

	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}
