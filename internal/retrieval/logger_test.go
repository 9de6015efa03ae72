package retrieval

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestQueryLogger_ThreadSafety(t *testing.T) {
	var buf bytes.Buffer
	logger := NewQueryLogger(&buf)

	concurrency := 50
	iterations := 100
	var wg sync.WaitGroup

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				logger.Log(QueryLogEntry{
					Query:    "test",
					Duration: time.Millisecond,
				})
			}
		}()
	}
	wg.Wait()

	// Verify output is valid JSON stream
	decoder := json.NewDecoder(&buf)
	count := 0
	for decoder.More() {
		var entry QueryLogEntry
		err := decoder.Decode(&entry)
		if err != nil {
			t.Fatalf("Failed to decode entry %d: %v", count, err)
		}
		count++
	}

	expected := concurrency * iterations
	if count != expected {
		t.Errorf("Expected %d entries, got %d", expected, count)
	}
}

func TestQueryLogger_EntryFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewQueryLogger(&buf)

	logger.Log(QueryLogEntry{
		Query:      "breach notification",
		NumResults: 3,
		Duration:   25 * time.Millisecond,
	})

	var entry QueryLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode entry: %v", err)
	}
	if entry.Query != "breach notification" {
		t.Errorf("Expected query to round-trip, got %q", entry.Query)
	}
	if entry.NumResults != 3 {
		t.Errorf("Expected 3 results, got %d", entry.NumResults)
	}
	if entry.LatencyMs != 25 {
		t.Errorf("Expected 25ms latency, got %d", entry.LatencyMs)
	}
	if entry.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}
