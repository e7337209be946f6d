package events

import "testing"

func TestResolveRoutingKey(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{TypeOrderCreatedV1, "orders.created.v1"},
		{TypeOrderCompletedV1, "orders.completed.v1"},
		{TypeOrderFailedV1, "orders.failed.v1"},
		{"PaymentSettled.v1", "orders.unknown"},
		{"", "orders.unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			if got := ResolveRoutingKey(tt.eventType); got != tt.want {
				t.Fatalf("ResolveRoutingKey(%q) = %q, want %q", tt.eventType, got, tt.want)
			}
		})
	}
}
