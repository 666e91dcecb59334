package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Detection
	}{
		{"plain text", "hello there", Detection{Kind: KindNone}},
		{"alert prefix", "ALERT: nightly-etl failed with exit 1", Detection{Kind: KindAlert, Identifier: "nightly-etl"}},
		{"firing prefix", "[FIRING:2] HighErrorRate on api-gateway", Detection{Kind: KindAlert, Identifier: "HighErrorRate"}},
		{"delay prefix", "DELAY: billing-export running 45m late", Detection{Kind: KindDelayedAlert, Identifier: "billing-export"}},
		{"delayed bracket", "[DELAYED] warehouse-sync", Detection{Kind: KindDelayedAlert, Identifier: "warehouse-sync"}},
		{"alert mid-message ignored", "talking about ALERT: things inline", Detection{Kind: KindNone}},
		{"multiline alert", "monitoring update\nALERT: db-backup failed", Detection{Kind: KindAlert, Identifier: "db-backup"}},
		{"identifier with path chars", "ALERT: jobs/nightly.etl-v2 failed", Detection{Kind: KindAlert, Identifier: "jobs/nightly.etl-v2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.text))
		})
	}
}
