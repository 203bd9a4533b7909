// simulate fires concurrent bookings at a running api-server and checks the
// two invariants that only show up under contention: no slot ever exceeds its
// capacity, and queue numbers per (doctor, date) form a contiguous sequence.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

type simConfig struct {
	baseURL  string
	doctorID string
	date     string
	times    []string
	workers  int
	requests int
}

type bookingReply struct {
	Appointment struct {
		ID          string `json:"id"`
		QueueNumber int    `json:"queue_number"`
		Time        string `json:"time"`
	} `json:"appointment"`
	Sync struct {
		Status string `json:"status"`
	} `json:"sync"`
}

type errorReply struct {
	Error string `json:"error"`
}

type outcome struct {
	queueNumber int
	slotTime    string
	status      int
	errCode     string
	latency     time.Duration
}

func main() {
	cfg := parseFlags()

	log.SetFlags(log.LstdFlags)
	log.Printf("simulating %d bookings with %d workers against %s", cfg.requests, cfg.workers, cfg.baseURL)

	jobs := make(chan int)
	results := make(chan outcome, cfg.requests)

	var wg sync.WaitGroup
	client := &http.Client{Timeout: 30 * time.Second}

	for w := 0; w < cfg.workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := range jobs {
				results <- bookOnce(client, cfg, worker, i)
			}
		}(w)
	}

	start := time.Now()
	for i := 0; i < cfg.requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	report(results, cfg, time.Since(start))
}

func parseFlags() simConfig {
	var cfg simConfig
	var times string

	flag.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "api-server base URL")
	flag.StringVar(&cfg.doctorID, "doctor-id", "", "doctor UUID to book against (required)")
	flag.StringVar(&cfg.date, "date", time.Now().AddDate(0, 0, 1).Format("2006-01-02"), "visit date")
	flag.StringVar(&times, "times", "08:00,08:30,09:00,09:30", "comma-separated visit times")
	flag.IntVar(&cfg.workers, "workers", 16, "concurrent workers")
	flag.IntVar(&cfg.requests, "requests", 200, "total booking attempts")
	flag.Parse()

	if cfg.doctorID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg.times = splitComma(times)
	return cfg
}

func splitComma(s string) []string {
	var out []string
	for _, part := range bytes.Split([]byte(s), []byte(",")) {
		if len(part) > 0 {
			out = append(out, string(part))
		}
	}
	return out
}

func bookOnce(client *http.Client, cfg simConfig, worker, seq int) outcome {
	slotTime := cfg.times[rand.Intn(len(cfg.times))]

	body, _ := json.Marshal(map[string]any{
		"patient": map[string]any{
			"national_id": fmt.Sprintf("9%06d%09d", worker, seq),
			"full_name":   fmt.Sprintf("Sim Patient %d-%d", worker, seq),
			"phone":       fmt.Sprintf("+62812%08d", seq),
		},
		"doctor_id": cfg.doctorID,
		"date":      cfg.date,
		"time":      slotTime,
		"mode":      "in_person",
		"fee":       50000,
	})

	start := time.Now()
	resp, err := client.Post(cfg.baseURL+"/bookings", "application/json", bytes.NewReader(body))
	latency := time.Since(start)
	if err != nil {
		return outcome{slotTime: slotTime, status: 0, errCode: err.Error(), latency: latency}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusCreated {
		var reply bookingReply
		_ = json.Unmarshal(raw, &reply)
		return outcome{
			queueNumber: reply.Appointment.QueueNumber,
			slotTime:    slotTime,
			status:      resp.StatusCode,
			latency:     latency,
		}
	}

	var reply errorReply
	_ = json.Unmarshal(raw, &reply)
	return outcome{slotTime: slotTime, status: resp.StatusCode, errCode: reply.Error, latency: latency}
}

func report(results <-chan outcome, cfg simConfig, elapsed time.Duration) {
	var (
		booked, full, conflicts, failures int
		queueNumbers                      []int
		perSlot                           = map[string]int{}
		latencies                         []time.Duration
	)

	for r := range results {
		latencies = append(latencies, r.latency)
		switch {
		case r.status == http.StatusCreated:
			booked++
			queueNumbers = append(queueNumbers, r.queueNumber)
			perSlot[r.slotTime]++
		case r.errCode == "slot_full":
			full++
		case r.status == http.StatusConflict:
			conflicts++
		default:
			failures++
			log.Printf("unexpected failure: status=%d error=%s", r.status, r.errCode)
		}
	}

	log.Printf("done in %s: booked=%d slot_full=%d conflicts=%d failures=%d", elapsed, booked, full, conflicts, failures)
	for slot, n := range perSlot {
		log.Printf("slot %s: %d booked", slot, n)
	}

	sort.Ints(queueNumbers)
	for i, q := range queueNumbers {
		if q != i+1 {
			log.Printf("INVARIANT VIOLATION: queue numbers not contiguous at position %d (got %d)", i, q)
			os.Exit(1)
		}
	}
	log.Printf("queue numbers contiguous 1..%d", len(queueNumbers))

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	if len(latencies) > 0 {
		p50 := latencies[len(latencies)*50/100]
		p95 := latencies[min(len(latencies)*95/100, len(latencies)-1)]
		log.Printf("latency p50=%s p95=%s max=%s", p50, p95, latencies[len(latencies)-1])
	}
}
