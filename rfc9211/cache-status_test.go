package rfc9211

import "testing"

func TestCacheStatusString(t *testing.T) {
	tests := []struct {
		status   func() CacheStatus
		expected string
	}{
		{func() CacheStatus { cs := CacheStatus{}; cs.Hit(); return cs }, "Offline-Cache; hit"},
		{func() CacheStatus { cs := CacheStatus{}; cs.Forward(FwdReasonBypass); return cs }, "Offline-Cache; fwd=bypass"},
		{func() CacheStatus {
			cs := CacheStatus{FwdStatus: 200, Stored: true}
			cs.Forward(FwdReasonUriMiss)
			return cs
		}, "Offline-Cache; fwd=uri-miss; fwd-status=200; stored"},
		{func() CacheStatus {
			cs := CacheStatus{Detail: "offline"}
			cs.Forward(FwdReasonMiss)
			return cs
		}, "Offline-Cache; fwd=miss; detail=offline"},
	}
	for _, tt := range tests {
		if s := tt.status().String(); s != tt.expected {
			t.Fatalf("Cache-Status is %q, expected %q", s, tt.expected)
		}
	}
}
