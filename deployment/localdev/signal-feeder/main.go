// Command signal-feeder posts synthetic observations into a locally
// running engine so the dashboard endpoints have data to show.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"
)

type observation struct {
	SignalID  string    `json:"signalId"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Magnitude float64   `json:"magnitude"`
	Sentiment float64   `json:"sentiment"`
}

type feed struct {
	signalID  string
	source    string
	base      float64
	amplitude float64
	drift     float64 // magnitude points per tick
	sentiment float64
}

func main() {
	var (
		target   string
		interval time.Duration
	)
	flag.StringVar(&target, "target", "http://127.0.0.1:8090", "Engine base URL")
	flag.DurationVar(&interval, "interval", 2*time.Second, "Delay between ticks")
	flag.Parse()

	feeds := []feed{
		{signalID: "api-rate-limit-complaints", source: "Reddit", base: 45, amplitude: 10, drift: 0.15, sentiment: -0.6},
		{signalID: "checkout-crash-reports", source: "Bug Reports", base: 60, amplitude: 6, drift: 0.05, sentiment: -0.8},
		{signalID: "p99-latency-regression", source: "Internal Telemetry", base: 35, amplitude: 12, drift: 0.1, sentiment: -0.3},
		{signalID: "dark-mode-requests", source: "Twitter", base: 25, amplitude: 8, drift: 0, sentiment: 0.4},
	}

	logger := log.New(log.Writer(), "signal-feeder ", log.LstdFlags|log.Lmicroseconds)
	client := &http.Client{Timeout: 5 * time.Second}
	endpoint := target + "/api/v1/observations"

	logger.Printf("feeding %d signals to %s every %s", len(feeds), endpoint, interval)
	for tick := 0; ; tick++ {
		for _, f := range feeds {
			obs := observation{
				SignalID:  f.signalID,
				Source:    f.source,
				Timestamp: time.Now().UTC(),
				Magnitude: clamp(f.base+f.drift*float64(tick)+f.amplitude*math.Sin(float64(tick)/5)+rand.Float64()*4-2, 0, 100),
				Sentiment: clamp(f.sentiment+rand.Float64()*0.2-0.1, -1, 1),
			}
			if err := post(client, endpoint, obs); err != nil {
				logger.Printf("post %s: %v", f.signalID, err)
			}
		}
		time.Sleep(interval)
	}
}

func post(client *http.Client, endpoint string, obs observation) error {
	payload, err := json.Marshal(obs)
	if err != nil {
		return err
	}
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &httpError{status: resp.StatusCode}
	}
	return nil
}

type httpError struct {
	status int
}

func (e *httpError) Error() string {
	return http.StatusText(e.status)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
