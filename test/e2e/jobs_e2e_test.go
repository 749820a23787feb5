package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

// waitForTerminal polls the job status endpoint until the job reports
// completed or failed.
func waitForTerminal(t *testing.T, url, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/v1/jobs/" + id)
		if err != nil {
			t.Fatalf("GET /v1/jobs/%s: %v", id, err)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			resp.Body.Close()
			t.Fatalf("decode response: %v", err)
		}
		resp.Body.Close()
		if s, _ := body["status"].(string); s == "completed" || s == "failed" {
			return body
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("job %s never reached a terminal status", id)
	return nil
}

func TestSubmitJobRunsToCompletion(t *testing.T) {
	binary := getBinary(t)
	sp := startServer(t, binary)

	payload := `{"type":"parse","priority":"high","payload":{"content":"# Guide\n\nIntro text.\n\n## Setup\n\nSteps here."}}`
	resp, err := http.Post(sp.url+"/v1/jobs", "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 202 {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var job map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	id, ok := job["id"].(string)
	if !ok || len(id) != 26 {
		t.Fatalf("id = %v, expected 26-char ULID", job["id"])
	}

	body := waitForTerminal(t, sp.url, id)
	if body["status"] != "completed" {
		t.Fatalf("status = %v, want completed\nbody: %v", body["status"], body)
	}

	record, ok := body["record"].(map[string]any)
	if !ok {
		t.Fatal("record missing from terminal job response")
	}
	output, ok := record["output"].(map[string]any)
	if !ok {
		t.Fatal("record output missing or not an object")
	}
	if output["title"] != "Guide" {
		t.Errorf("output title = %v, want Guide", output["title"])
	}
	headings, ok := output["headings"].([]any)
	if !ok || len(headings) != 2 {
		t.Errorf("headings = %v, want 2 entries", output["headings"])
	}
	if attempts, _ := record["attempts"].(float64); int(attempts) != 1 {
		t.Errorf("attempts = %v, want 1", record["attempts"])
	}
}

func TestSyncRunReturnsResult(t *testing.T) {
	binary := getBinary(t)
	sp := startServer(t, binary)

	payload := `{"type":"convert","payload":{"content":"---\ntitle: Note\n---\n\n# Note\n\nBody.","target":"text"}}`
	resp, err := http.Post(sp.url+"/v1/jobs/sync", "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("POST /v1/jobs/sync: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if res["success"] != true {
		t.Fatalf("success = %v, want true (error: %v)", res["success"], res["error"])
	}
	output, ok := res["output"].(map[string]any)
	if !ok {
		t.Fatal("output missing or not an object")
	}
	content, _ := output["content"].(string)
	if !strings.Contains(content, "Note") {
		t.Errorf("converted content = %q, want it to keep the document text", content)
	}
	if strings.Contains(content, "---") {
		t.Errorf("converted content = %q, want front matter stripped", content)
	}
	if _, ok := res["duration_ms"]; !ok {
		t.Error("duration_ms missing from sync response")
	}
}

func TestFailedJobRecordsError(t *testing.T) {
	binary := getBinary(t)
	sp := startServer(t, binary)

	// Empty content is an engine error, so the job fails terminally.
	payload := `{"type":"parse","payload":{"content":""}}`
	resp, err := http.Post(sp.url+"/v1/jobs/sync", "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("POST /v1/jobs/sync: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res["success"] != false {
		t.Fatal("success = true for a job with no content, want false")
	}
	errMsg, _ := res["error"].(string)
	if !strings.Contains(errMsg, "no content") {
		t.Errorf("error = %q, want it to mention the missing content", errMsg)
	}

	// The failure is also recorded in history.
	id, _ := res["job_id"].(string)
	body := waitForTerminal(t, sp.url, id)
	if body["status"] != "failed" {
		t.Errorf("status = %v, want failed", body["status"])
	}
}

func TestJobHistoryAndStats(t *testing.T) {
	binary := getBinary(t)
	sp := startServer(t, binary)

	// One success and one failure.
	for _, payload := range []string{
		`{"type":"parse","payload":{"content":"# Doc\n\nText."}}`,
		`{"type":"parse","payload":{"content":""}}`,
	} {
		resp, err := http.Post(sp.url+"/v1/jobs/sync", "application/json", bytes.NewBufferString(payload))
		if err != nil {
			t.Fatalf("POST /v1/jobs/sync: %v", err)
		}
		resp.Body.Close()
	}

	listResp, err := http.Get(sp.url + "/v1/jobs")
	if err != nil {
		t.Fatalf("GET /v1/jobs: %v", err)
	}
	defer listResp.Body.Close()

	var list map[string]any
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if total, _ := list["total"].(float64); int(total) != 2 {
		t.Errorf("total = %v, want 2", list["total"])
	}

	statsResp, err := http.Get(sp.url + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer statsResp.Body.Close()

	var stats map[string]any
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats response: %v", err)
	}
	if total, _ := stats["total_jobs"].(float64); int(total) != 2 {
		t.Errorf("total_jobs = %v, want 2", stats["total_jobs"])
	}
	if ok, _ := stats["successful_jobs"].(float64); int(ok) != 1 {
		t.Errorf("successful_jobs = %v, want 1", stats["successful_jobs"])
	}
	if failed, _ := stats["failed_jobs"].(float64); int(failed) != 1 {
		t.Errorf("failed_jobs = %v, want 1", stats["failed_jobs"])
	}

	history, ok := stats["history_by_status"].(map[string]any)
	if !ok {
		t.Fatal("history_by_status missing from stats")
	}
	if n, _ := history["completed"].(float64); int(n) != 1 {
		t.Errorf("history completed = %v, want 1", history["completed"])
	}
	if n, _ := history["failed"].(float64); int(n) != 1 {
		t.Errorf("history failed = %v, want 1", history["failed"])
	}
}

func TestCancelUnknownJob(t *testing.T) {
	binary := getBinary(t)
	sp := startServer(t, binary)

	req, _ := http.NewRequest("DELETE", sp.url+"/v1/jobs/nonexistent", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /v1/jobs/nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEventStreamDeliversJobEvents(t *testing.T) {
	binary := getBinary(t)
	sp := startServer(t, binary)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", sp.url+"/v1/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// Subscription is live once headers arrive.
	subResp, err := http.Post(sp.url+"/v1/jobs", "application/json",
		bytes.NewBufferString(`{"type":"parse","payload":{"content":"# Doc\n\nText."}}`))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	subResp.Body.Close()

	var names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
			if name == "job:completed" || name == "job:failed" {
				break
			}
		}
	}

	if len(names) < 2 {
		t.Fatalf("got %d events, want started and completed: %v", len(names), names)
	}
	if names[0] != "job:started" {
		t.Errorf("first event = %q, want job:started", names[0])
	}
	if last := names[len(names)-1]; last != "job:completed" {
		t.Errorf("last event = %q, want job:completed", last)
	}
}
