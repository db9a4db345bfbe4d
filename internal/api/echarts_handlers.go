package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleHourlyChart renders a quick bar chart (HTML) of visitors per hour
// using go-echarts. This is a debugging-only endpoint (no auth) for eyeballing
// traffic shape without a frontend.
func (ws *WebServer) handleHourlyChart(w http.ResponseWriter, r *http.Request) {
	buckets, err := ws.store.HourlyCounts(r.Context())
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load hourly counts: %v", err))
		return
	}
	if len(buckets) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no count data available")
		return
	}

	hours := make([]string, 0, len(buckets))
	data := make([]opts.BarData, 0, len(buckets))
	for _, b := range buckets {
		hours = append(hours, b.Hour)
		data = append(data, opts.BarData{Value: b.Count})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Visitors per hour", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Visitors per hour", Subtitle: fmt.Sprintf("session=%s buckets=%d", ws.runner.SessionID, len(buckets))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(hours).AddSeries("visitors", data)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
