package internaldefs

import (
	"github.com/MrEthical07/authgate"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricSignUpSuccess, Name: "authgate_sign_up_success_total", Help: "Successful sign-ups."},
	{ID: authgate.MetricSignUpFailure, Name: "authgate_sign_up_failure_total", Help: "Failed sign-ups."},
	{ID: authgate.MetricSignInSuccess, Name: "authgate_sign_in_success_total", Help: "Successful sign-ins."},
	{ID: authgate.MetricSignInFailure, Name: "authgate_sign_in_failure_total", Help: "Failed sign-ins."},
	{ID: authgate.MetricSignOut, Name: "authgate_sign_out_total", Help: "Sign-out calls."},
	{ID: authgate.MetricSessionLookup, Name: "authgate_session_lookup_total", Help: "Session lookups."},
	{ID: authgate.MetricServedRemote, Name: "authgate_served_remote_total", Help: "Calls answered by the remote backend."},
	{ID: authgate.MetricServedBackup, Name: "authgate_served_backup_total", Help: "Calls answered by the in-process backup store."},
	{ID: authgate.MetricFailover, Name: "authgate_failover_total", Help: "Remote transport failures served by the backup store."},
	{ID: authgate.MetricOfflineRejected, Name: "authgate_offline_rejected_total", Help: "Calls rejected because the host was offline."},
	{ID: authgate.MetricProbeSuccess, Name: "authgate_probe_success_total", Help: "Reachability probes that found the remote backend."},
	{ID: authgate.MetricProbeFailure, Name: "authgate_probe_failure_total", Help: "Reachability probes that failed."},
}

// HistogramDefs lists every histogram.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricRemoteLatency, Name: "authgate_remote_latency_seconds", Help: "Remote backend call latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the latency buckets.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside metric
// names.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
