// docpipe-bench floods a running docpipe server with jobs and reports
// throughput once every submitted job reaches a terminal state.
// Usage: go run ./cmd/docpipe-bench -addr http://localhost:8080 -jobs 500 -kind parse
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/docpipe/internal/model"
)

// samplePayloads holds one well-formed document payload per job type.
var samplePayloads = map[string]string{
	"parse":    `{"content":"# Bench\n\nA short document body.\n\n## Details\n\nMore text for the parser to chew on."}`,
	"render":   `{"content":"# Bench\n\nParagraph one.\n\n- item a\n- item b"}`,
	"index":    `{"doc_id":"bench-doc","title":"Bench Document","content":"api reference guide for the benchmark run"}`,
	"generate": `{"title":"Bench API","doc_kind":"reference","summary":"scaffold generated during benchmarking","sections":["Overview","Usage"]}`,
	"convert":  `{"content":"---\ntitle: Bench\n---\n\n# Bench\n\nBody text.","target":"text"}`,
	"validate": `{"metadata":{"title":"Bench Document","category":"reference","tags":["bench"]}}`,
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "base URL of the docpipe server")
	jobs := flag.Int("jobs", 100, "number of jobs to submit")
	kind := flag.String("kind", "parse", "job type to submit")
	priority := flag.String("priority", "normal", "priority for every job")
	timeout := flag.Duration("timeout", 60*time.Second, "overall deadline for the run")
	flag.Parse()

	payload, ok := samplePayloads[*kind]
	if !ok {
		log.Fatalf("no sample payload for job type %q", *kind)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	base := strings.TrimRight(*addr, "/")

	before, err := fetchStats(client, base)
	if err != nil {
		log.Fatalf("fetch stats: %v", err)
	}

	body := fmt.Sprintf(`{"type":%q,"priority":%q,"payload":%s}`, *kind, *priority, payload)

	start := time.Now()
	for i := 0; i < *jobs; i++ {
		resp, err := client.Post(base+"/v1/jobs", "application/json", strings.NewReader(body))
		if err != nil {
			log.Fatalf("submit job %d: %v", i, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			log.Fatalf("submit job %d: status %d", i, resp.StatusCode)
		}
	}
	submitTime := time.Since(start)

	// Poll until everything submitted here is terminal and the pipeline
	// is idle again.
	target := before.TotalJobs + int64(*jobs)
	deadline := time.Now().Add(*timeout)
	var stats model.StatsSnapshot
	for {
		stats, err = fetchStats(client, base)
		if err != nil {
			log.Fatalf("fetch stats: %v", err)
		}
		if stats.TotalJobs >= target && stats.QueueLength == 0 && stats.ActiveJobs == 0 {
			break
		}
		if time.Now().After(deadline) {
			log.Fatalf("run timed out: %d of %d jobs terminal", stats.TotalJobs-before.TotalJobs, *jobs)
		}
		time.Sleep(50 * time.Millisecond)
	}
	totalTime := time.Since(start)

	fmt.Printf("\ndocpipe-bench: %d %s jobs at %s priority against %s\n\n", *jobs, *kind, *priority, base)
	fmt.Printf("  submit time:    %v\n", submitTime.Round(time.Millisecond))
	fmt.Printf("  total time:     %v\n", totalTime.Round(time.Millisecond))
	fmt.Printf("  throughput:     %.1f jobs/s\n", float64(*jobs)/totalTime.Seconds())
	fmt.Printf("  successful:     %d\n", stats.SuccessfulJobs-before.SuccessfulJobs)
	fmt.Printf("  failed:         %d\n", stats.FailedJobs-before.FailedJobs)
	fmt.Printf("  avg processing: %.2f ms\n", stats.AverageProcessingTimeMS)
}

func fetchStats(client *http.Client, base string) (model.StatsSnapshot, error) {
	var stats model.StatsSnapshot
	resp, err := client.Get(base + "/v1/stats")
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, err
	}
	return stats, nil
}
