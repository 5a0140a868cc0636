// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics registers the Prometheus counters for the gateway's
// error kinds (spec §7) and its flow-install/replication activity,
// following the counter-registration style of the teacher's eBPF metrics
// package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus counter the gateway's three workers
// update.
type Metrics struct {
	// Data-plane counters (NF worker).
	FlowsInserted     prometheus.Counter
	FlowInsertDup     prometheus.Counter
	FlowInsertFull    prometheus.Counter
	FlowLookupMiss    prometheus.Counter
	FramesMalformed   prometheus.Counter
	FramesTransmitted prometheus.Counter
	TransmitFailures  prometheus.Counter
	RingFullDrops     prometheus.Counter

	// Control-plane counters (Manager master/slave).
	ProbesSent        prometheus.Counter
	ProbeRepliesSent  prometheus.Counter
	BackupPushesSent  prometheus.Counter
	BackupPushesApplied prometheus.Counter
	ControlFramesDropped prometheus.Counter
}

// New registers a fresh Metrics set against reg. Passing a nil registry
// is valid for tests: the counters are still usable, just unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FlowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_flows_inserted_total",
			Help: "Total number of flows installed by the NF worker on a SYN.",
		}),
		FlowInsertDup: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_flow_insert_duplicate_total",
			Help: "Total number of SYN inserts rejected because the key already existed.",
		}),
		FlowInsertFull: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_flow_insert_full_total",
			Help: "Total number of SYN inserts rejected because the flow table was full.",
		}),
		FlowLookupMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_flow_lookup_miss_total",
			Help: "Total number of non-SYN packets dropped for lack of flow state.",
		}),
		FramesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_frames_malformed_total",
			Help: "Total number of frames dropped for being short, bad IHL, or unsupported EtherType/proto.",
		}),
		FramesTransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_frames_transmitted_total",
			Help: "Total number of frames successfully transmitted.",
		}),
		TransmitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_transmit_failures_total",
			Help: "Total number of frames a burst-transmit call failed to send.",
		}),
		RingFullDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_ring_full_drops_total",
			Help: "Total number of NF-to-Manager ring enqueue failures.",
		}),
		ProbesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_probes_sent_total",
			Help: "Total number of ECMP probe requests transmitted by the Manager slave.",
		}),
		ProbeRepliesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_probe_replies_sent_total",
			Help: "Total number of ECMP probe replies transmitted by the Manager master.",
		}),
		BackupPushesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_backup_pushes_sent_total",
			Help: "Total number of state-backup push frames transmitted.",
		}),
		BackupPushesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_backup_pushes_applied_total",
			Help: "Total number of state-backup pushes applied to the local flow table.",
		}),
		ControlFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecmpgw_control_frames_dropped_total",
			Help: "Total number of malformed or unrecognized control-queue frames dropped.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FlowsInserted, m.FlowInsertDup, m.FlowInsertFull, m.FlowLookupMiss,
			m.FramesMalformed, m.FramesTransmitted, m.TransmitFailures, m.RingFullDrops,
			m.ProbesSent, m.ProbeRepliesSent, m.BackupPushesSent, m.BackupPushesApplied,
			m.ControlFramesDropped,
		)
	}
	return m
}
