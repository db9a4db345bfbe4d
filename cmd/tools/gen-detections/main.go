// Command gen-detections generates a synthetic NDJSON detection log for
// testing replay: people walking across the frame in both directions at a
// configurable rate.
package main

import (
	"bufio"
	"flag"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/gatesense/footfall/internal/vision"
	"github.com/gatesense/footfall/internal/vision/detect"
)

var (
	output  = flag.String("o", "sample-detections.ndjson", "output path")
	frames  = flag.Int("n", 600, "number of frames")
	fps     = flag.Float64("fps", 15, "synthetic frame rate")
	people  = flag.Int("people", 6, "number of walkers in the log")
	width   = flag.Float64("width", 640, "frame width in pixels")
	height  = flag.Float64("height", 480, "frame height in pixels")
	seed    = flag.Int64("seed", 1, "random seed (fixed seeds give reproducible logs)")
	dropout = flag.Float64("dropout", 0.05, "chance a walker is missed in a frame")
)

// walker is one synthetic person moving horizontally at constant speed.
type walker struct {
	startFrame int
	y          float64
	x          float64
	vx         float64 // px/frame, sign is direction
	w, h       float64
}

func main() {
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	walkers := make([]walker, 0, *people)
	for i := 0; i < *people; i++ {
		vx := 3 + rng.Float64()*4
		x := -40.0
		if i%2 == 1 {
			// Every other walker goes right-to-left.
			vx = -vx
			x = *width + 40
		}
		walkers = append(walkers, walker{
			startFrame: rng.Intn(*frames / 2),
			y:          60 + rng.Float64()*(*height-180),
			x:          x,
			vx:         vx,
			w:          40 + rng.Float64()*20,
			h:          90 + rng.Float64()*30,
		})
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	frameInterval := time.Duration(float64(time.Second) / *fps)
	start := time.Now().Add(-time.Duration(*frames) * frameInterval).UTC()

	for i := 0; i < *frames; i++ {
		frame := detect.FrameDetections{
			FrameIndex: int64(i),
			UnixNanos:  start.Add(time.Duration(i) * frameInterval).UnixNano(),
		}
		for _, wk := range walkers {
			age := i - wk.startFrame
			if age < 0 {
				continue
			}
			cx := wk.x + wk.vx*float64(age)
			if cx < -wk.w || cx > *width+wk.w {
				continue
			}
			if rng.Float64() < *dropout {
				continue
			}
			frame.Detections = append(frame.Detections, detect.Detection{
				BBox: vision.BBox{
					X1: cx - wk.w/2, Y1: wk.y - wk.h/2,
					X2: cx + wk.w/2, Y2: wk.y + wk.h/2,
				},
				Confidence: 0.6 + rng.Float64()*0.35,
				Class:      detect.ClassPerson,
			})
		}

		line, err := detect.MarshalFrame(frame)
		if err != nil {
			log.Fatalf("failed to marshal frame %d: %v", i, err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}

	log.Printf("✓ Created: %s (%d frames, %d walkers)", *output, *frames, *people)
}
