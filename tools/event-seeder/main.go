// Command event-seeder generates synthetic telematics safety events and
// submits them to a running engine's ingest endpoint. Useful for local
// development and load checks.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gopkg.in/yaml.v3"
)

type scenario struct {
	Name     string   `yaml:"name"`
	Tenants  []string `yaml:"tenants"`
	Events   int      `yaml:"events"`
	RatePerS int      `yaml:"rate_per_second"`
	// DuplicateRatio is the fraction of events re-submitted with the same
	// provider event id, to exercise the dedupe gate.
	DuplicateRatio float64  `yaml:"duplicate_ratio"`
	EventTypes     []string `yaml:"event_types"`
	Severities     []string `yaml:"severities"`
}

func defaultScenario() scenario {
	return scenario{
		Name:           "default",
		Tenants:        []string{"fleet-acme", "fleet-globex"},
		Events:         100,
		RatePerS:       10,
		DuplicateRatio: 0.1,
		EventTypes: []string{
			"harsh_braking", "harsh_acceleration", "harsh_cornering",
			"speeding", "distracted_driving", "forward_collision_warning",
			"seatbelt_violation", "drowsiness",
		},
		Severities: []string{"low", "medium", "high", "critical"},
	}
}

type ingestRequest struct {
	TenantID        string          `json:"tenant_id"`
	Source          string          `json:"source"`
	ProviderEventID string          `json:"provider_event_id"`
	EventType       string          `json:"event_type"`
	Description     string          `json:"description"`
	VehicleID       string          `json:"vehicle_id"`
	DriverID        string          `json:"driver_id"`
	Severity        string          `json:"severity"`
	OccurredAt      time.Time       `json:"occurred_at"`
	RawPayload      json.RawMessage `json:"raw_payload"`
}

func main() {
	target := flag.String("target", "http://localhost:8090", "engine base URL")
	scenarioPath := flag.String("scenario", "", "path to scenario YAML file")
	seed := flag.Int64("seed", 0, "random seed (0 uses current time)")
	flag.Parse()

	sc := defaultScenario()
	if *scenarioPath != "" {
		data, err := os.ReadFile(*scenarioPath)
		if err != nil {
			log.Fatalf("Failed to read scenario: %v", err)
		}
		if err := yaml.Unmarshal(data, &sc); err != nil {
			log.Fatalf("Failed to parse scenario: %v", err)
		}
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	gofakeit.Seed(*seed)
	rng := rand.New(rand.NewSource(*seed))

	client := &http.Client{Timeout: 10 * time.Second}
	interval := time.Second / time.Duration(sc.RatePerS)

	log.Printf("Seeding %d events to %s (scenario %q, seed %d)",
		sc.Events, *target, sc.Name, *seed)

	var sent, dupes, failed int
	var lastEvent *ingestRequest
	for i := 0; i < sc.Events; i++ {
		var ev *ingestRequest
		if lastEvent != nil && rng.Float64() < sc.DuplicateRatio {
			ev = lastEvent
			dupes++
		} else {
			ev = makeEvent(rng, sc)
			lastEvent = ev
		}

		if err := post(client, *target+"/api/v1/events", ev); err != nil {
			failed++
			log.Printf("event %d failed: %v", i, err)
		} else {
			sent++
		}
		time.Sleep(interval)
	}

	log.Printf("Done: %d sent (%d duplicates), %d failed", sent, dupes, failed)
}

func makeEvent(rng *rand.Rand, sc scenario) *ingestRequest {
	payload, _ := json.Marshal(map[string]interface{}{
		"speed_kph":     gofakeit.Float64Range(20, 140),
		"g_force":       gofakeit.Float64Range(0.2, 1.4),
		"latitude":      gofakeit.Latitude(),
		"longitude":     gofakeit.Longitude(),
		"camera_id":     gofakeit.UUID(),
		"firmware":      gofakeit.AppVersion(),
		"street":        gofakeit.Street(),
		"weather":       gofakeit.RandomString([]string{"clear", "rain", "fog", "snow"}),
		"video_offset":  gofakeit.Number(0, 120),
		"trip_distance": gofakeit.Float64Range(0.5, 600),
	})

	return &ingestRequest{
		TenantID:        sc.Tenants[rng.Intn(len(sc.Tenants))],
		Source:          "telematics-sim",
		ProviderEventID: gofakeit.UUID(),
		EventType:       sc.EventTypes[rng.Intn(len(sc.EventTypes))],
		Description:     gofakeit.Sentence(8),
		VehicleID:       fmt.Sprintf("veh-%04d", rng.Intn(500)),
		DriverID:        fmt.Sprintf("drv-%04d", rng.Intn(300)),
		Severity:        sc.Severities[rng.Intn(len(sc.Severities))],
		OccurredAt:      time.Now().UTC().Add(-time.Duration(rng.Intn(300)) * time.Second),
		RawPayload:      payload,
	}
}

func post(client *http.Client, url string, ev *ingestRequest) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
