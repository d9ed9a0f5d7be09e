package dividend

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/divvy/internal/interfaces"
)

// RenderChart draws stored dividend amounts by ex-date as a PNG.
// Years bounds the window backwards from today, default 5.
func (s *Service) RenderChart(ctx context.Context, ticker string, years int) ([]byte, error) {
	sym := strings.ToUpper(strings.TrimSpace(ticker))
	if sym == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	if years <= 0 {
		years = 5
	}

	start := s.now().AddDate(-years, 0, 0).Format("2006-01-02")
	dividends, err := s.storage.DividendStore().ListByTicker(ctx, sym, interfaces.DividendFilter{
		StartDate: start,
	})
	if err != nil {
		return nil, err
	}

	// Rows come back newest first; plot oldest to newest
	xValues := make([]time.Time, 0, len(dividends))
	yValues := make([]float64, 0, len(dividends))
	for i := len(dividends) - 1; i >= 0; i-- {
		d := dividends[i]
		exDate, err := time.Parse("2006-01-02", d.ExDividendDate)
		if err != nil {
			continue
		}
		xValues = append(xValues, exDate)
		yValues = append(yValues, d.Amount)
	}

	if len(xValues) < 2 {
		return nil, fmt.Errorf("need at least 2 dividends to chart %s, got %d", sym, len(xValues))
	}

	amountSeries := chart.TimeSeries{
		Name: fmt.Sprintf("%s dividend per share", sym),
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"), // blue-600
			StrokeWidth: 2.0,
			DotColor:    drawing.ColorFromHex("2563eb"),
			DotWidth:    4.0,
		},
		XValues: xValues,
		YValues: yValues,
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s Dividend History", sym),
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("Jan 06")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.2f", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			amountSeries,
		},
	}

	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}
