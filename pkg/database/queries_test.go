package database

import (
	"reflect"
	"testing"
	"time"

	"reliability-tracker/pkg/models"
	"reliability-tracker/pkg/reliability"
)

func TestConditions(t *testing.T) {
	cutoff := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		filter reliability.TestFilter
		want   []condition
	}{
		{
			name:   "Empty filter",
			filter: reliability.TestFilter{},
			want:   nil,
		},
		{
			name: "Sweep filter",
			filter: reliability.TestFilter{
				Status:        models.StatusPending,
				StartedBefore: cutoff,
			},
			want: []condition{
				{"status = ?", []interface{}{"pending"}},
				{"start_time < ?", []interface{}{cutoff}},
			},
		},
		{
			name: "Successful within window",
			filter: reliability.TestFilter{
				MSISDN:            "+237600000001",
				Status:            models.StatusSuccess,
				MaxRoutingLatency: 300 * time.Second,
			},
			want: []condition{
				{"msisdn = ?", []interface{}{"+237600000001"}},
				{"status = ?", []interface{}{"success"}},
				{"sms_routed_time IS NOT NULL AND sms_received_time IS NOT NULL AND sms_routed_time - sms_received_time <= make_interval(secs => ?)", []interface{}{300.0}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := conditions(tt.filter)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("conditions() = %v, want %v", got, tt.want)
			}
		})
	}
}
