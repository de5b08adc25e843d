package protocol

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServerStats is the decoded payload of a STATS response.
type ServerStats struct {
	Keys          uint64  `json:"keys"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Puts          uint64  `json:"puts"`
	Gets          uint64  `json:"gets"`
	Dels          uint64  `json:"dels"`
	Expirations   uint64  `json:"expirations"`
	Evictions     uint64  `json:"evictions"`
	MemoryBytes   uint64  `json:"memory_bytes"`
	HitRatio      float64 `json:"hit_ratio"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
}

// DecodeStats decodes the JSON payload of a STATS response.
func DecodeStats(resp *Response) (*ServerStats, error) {
	if resp.Type != RespStats {
		return nil, fmt.Errorf("expected stats response, got %s", resp.Type)
	}
	stats := &ServerStats{}
	if err := json.Unmarshal(resp.Value, stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats payload: %w", err)
	}
	return stats, nil
}

// DecodeMetrics decodes the JSON payload of a METRICS response into a
// flat name -> value map. Servers are free to add metrics over time, so
// the shape is intentionally open.
func DecodeMetrics(resp *Response) (map[string]float64, error) {
	if resp.Type != RespStats && resp.Type != RespValue {
		return nil, fmt.Errorf("expected metrics response, got %s", resp.Type)
	}
	result := make(map[string]float64)
	if err := json.Unmarshal(resp.Value, &result); err != nil {
		return nil, fmt.Errorf("failed to decode metrics payload: %w", err)
	}
	return result, nil
}
