package provider

import (
	"testing"
	"time"
)

func TestMonitorAccumulation(t *testing.T) {
	m := NewProviderMonitor()

	m.RecordRequest(100 * time.Millisecond)

	stats := m.GetStats()
	if stats.Requests != 1 {
		t.Errorf("Expected 1 request, got %d", stats.Requests)
	}

	for i := 0; i < 100; i++ {
		m.RecordRequest(50 * time.Millisecond)
	}

	stats = m.GetStats()
	if stats.Requests != 101 {
		t.Errorf("Expected 101 requests, got %d", stats.Requests)
	}
	if stats.AverageLatency != 50*time.Millisecond {
		t.Errorf("Expected latency window to slide to 50ms, got %v", stats.AverageLatency)
	}
}

func TestMonitorThrottleStatus(t *testing.T) {
	m := NewProviderMonitor()

	for i := 0; i < 6; i++ {
		m.RecordThrottle(429, "30")
	}
	if got := m.CheckProviderStatus(); got != StatusThrottled {
		t.Errorf("Expected throttled, got %v", got)
	}
	if ra := m.GetRetryAfter(); ra <= 0 || ra > 30*time.Second {
		t.Errorf("Expected retry-after within 30s, got %v", ra)
	}

	m.RecordThrottle(403, "")
	if got := m.CheckProviderStatus(); got != StatusBlocked {
		t.Errorf("Expected blocked, got %v", got)
	}
}

func TestMonitorDegradedOnSlowResponses(t *testing.T) {
	m := NewProviderMonitor()
	for i := 0; i < 11; i++ {
		m.RecordRequest(4 * time.Second)
	}
	if got := m.CheckProviderStatus(); got != StatusDegraded {
		t.Errorf("Expected degraded, got %v", got)
	}
}

func TestDetectThrottlePattern(t *testing.T) {
	m := NewProviderMonitor()
	if !m.DetectThrottlePattern("Project Rate Limit reached") {
		t.Error("expected throttle pattern match")
	}
	if m.DetectThrottlePattern("nonce too low") {
		t.Error("unexpected throttle pattern match")
	}
}
