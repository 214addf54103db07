package brain

import (
	"time"

	"basegraph.app/scambait/internal/model"
)

const burstWindow = 120 * time.Second

// Timing is the pacing summary handed to the model. The model never computes
// time differences itself.
type Timing struct {
	NowTS                 string   `json:"now_ts"`
	SecsSinceLastInbound  *int64   `json:"secs_since_last_inbound"`
	SecsSinceLastOutbound *int64   `json:"secs_since_last_outbound"`
	InboundBurstCount120s int      `json:"inbound_burst_count_120s"`
	AvgInboundLatencyS    *float64 `json:"avg_inbound_latency_s"`
}

// ComputeTiming derives the timing block from a timeline in order.
// Inbound latency is measured from each outbound event to the next inbound one.
func ComputeTiming(events []model.Event, now time.Time) Timing {
	t := Timing{NowTS: now.UTC().Format(time.RFC3339)}

	var (
		lastInbound     time.Time
		lastOutbound    time.Time
		pendingOutbound *time.Time
		latencySum      float64
		latencyCount    int
	)
	for _, e := range events {
		at := e.At()
		switch {
		case e.IsInbound():
			lastInbound = at
			if now.Sub(at) >= 0 && now.Sub(at) <= burstWindow {
				t.InboundBurstCount120s++
			}
			if pendingOutbound != nil {
				if d := at.Sub(*pendingOutbound); d >= 0 {
					latencySum += d.Seconds()
					latencyCount++
				}
				pendingOutbound = nil
			}
		case e.IsOutbound():
			lastOutbound = at
			if pendingOutbound == nil {
				pendingOutbound = &at
			}
		}
	}

	if !lastInbound.IsZero() {
		secs := int64(now.Sub(lastInbound).Seconds())
		t.SecsSinceLastInbound = &secs
	}
	if !lastOutbound.IsZero() {
		secs := int64(now.Sub(lastOutbound).Seconds())
		t.SecsSinceLastOutbound = &secs
	}
	if latencyCount > 0 {
		avg := latencySum / float64(latencyCount)
		t.AvgInboundLatencyS = &avg
	}
	return t
}
