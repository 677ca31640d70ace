package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/packetverifier/internal/logger"
	"github.com/punchamoorthee/packetverifier/internal/models"
	"go.uber.org/zap"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	batchSize   int
	totalOrgs   int
)

var (
	totalRequests  uint64
	validPackets   uint64
	invalidPackets uint64
	failOther      uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&batchSize, "batch", 100, "Reports per request")
	flag.IntVar(&totalOrgs, "orgs", 1000, "Organizations seeded (OUIs 1..n)")
}

func main() {
	flag.Parse()
	log, err := logger.New("development", "info")
	if err != nil {
		panic(err)
	}
	log.Info("starting benchmark",
		zap.String("workload", workload),
		zap.Int("workers", concurrency),
		zap.Duration("duration", duration),
		zap.Int("batch", batchSize))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, i)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, id int) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	seq := 0

	for time.Since(start) < duration {
		req := models.ReportBatchRequest{Reports: make([]models.PacketReport, batchSize)}
		for i := range req.Reports {
			seq++
			hash := sha256.Sum256([]byte(fmt.Sprintf("bench-%d-%d", id, seq)))
			req.Reports[i] = models.PacketReport{
				OUI:         generateOUI(),
				Timestamp:   time.Now().UnixMilli(),
				PayloadSize: uint32(rand.Intn(96) + 1),
				PayloadHash: hash[:],
				PacketType:  "uplink",
				Gateway:     fmt.Sprintf("bench-gw-%d", id),
			}
		}
		body, _ := json.Marshal(req)

		resp, err := client.Post(targetURL+"/api/v1/reports", "application/json", bytes.NewBuffer(body))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		if resp.StatusCode != http.StatusOK {
			atomic.AddUint64(&failOther, 1)
			resp.Body.Close()
			continue
		}
		var out models.ReportBatchResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			atomic.AddUint64(&failOther, 1)
		} else {
			atomic.AddUint64(&validPackets, uint64(len(out.Valid)))
			atomic.AddUint64(&invalidPackets, uint64(len(out.Invalid)))
		}
		resp.Body.Close()
	}
}

func generateOUI() uint64 {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to OUI 1, draining its payer first.
		if rand.Float32() < 0.90 {
			return 1
		}
	}
	return uint64(rand.Intn(totalOrgs) + 1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	valid := atomic.LoadUint64(&validPackets)
	invalid := atomic.LoadUint64(&invalidPackets)
	fErr := atomic.LoadUint64(&failOther)

	packets := valid + invalid
	var invalidRate float64
	if packets > 0 {
		invalidRate = float64(invalid) / float64(packets) * 100
	}

	results := map[string]interface{}{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"requests_per_sec": float64(total) / d.Seconds(),
		"packets_per_sec":  float64(packets) / d.Seconds(),
		"valid_packets":    valid,
		"invalid_packets":  invalid,
		"invalid_rate_pct": invalidRate,
		"errors":           fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
