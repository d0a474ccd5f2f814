// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relaymetrics registers the Prometheus series exposed at /metrics
// alongside C9's status endpoints.
package relaymetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ApprovalsTotal counts approveWithdrawal transactions submitted, by
	// target chain.
	ApprovalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_approvals_total",
		Help: "Number of approveWithdrawal transactions submitted.",
	}, []string{"network"})

	// UnapprovalsTotal counts unapproveWithdrawal transactions submitted,
	// by target chain.
	UnapprovalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_unapprovals_total",
		Help: "Number of unapproveWithdrawal transactions submitted.",
	}, []string{"network"})

	// AnchorsTotal counts anchor transactions submitted, by target chain.
	AnchorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_anchors_total",
		Help: "Number of anchor transactions submitted.",
	}, []string{"network"})

	// NonceResyncsTotal counts nonce resyncs triggered by a "nonce too
	// low" rejection, by chain.
	NonceResyncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_nonce_resyncs_total",
		Help: "Number of nonce resyncs performed after a nonce-too-low rejection.",
	}, []string{"network"})

	// FlushHoldersProcessed counts holders withdrawn by the flush
	// pipeline, by chain.
	FlushHoldersProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_flush_holders_processed",
		Help: "Number of holders withdrawn to the home chain during a flush.",
	}, []string{"network"})

	// PendingSize reports the current size of a network's pending-approval
	// LRU.
	PendingSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_pending_size",
		Help: "Current number of entries in the pending-approval LRU.",
	}, []string{"network"})
)

func init() {
	prometheus.MustRegister(ApprovalsTotal, UnapprovalsTotal, AnchorsTotal, NonceResyncsTotal, FlushHoldersProcessed, PendingSize)
}
