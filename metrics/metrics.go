// Package metrics exposes the Prometheus counters and gauges the Vendor
// and Issuer services publish, grounded on the promauto registration style
// used elsewhere in the payment-channel corpus: package-level metrics
// created once via promauto, mutated from call sites with no extra
// plumbing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChannelsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanomoni_channels_opened_total",
		Help: "Total number of channels opened, across all modes.",
	})

	ChannelsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanomoni_channels_closed_total",
		Help: "Total number of channels closed.",
	})

	PaymentsAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanomoni_payments_accepted_total",
		Help: "Total number of payments accepted, by mode.",
	}, []string{"mode"})

	PaymentsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanomoni_payments_rejected_total",
		Help: "Total number of payments rejected, by mode and reason.",
	}, []string{"mode", "reason"})

	ChannelCumulativeOwed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nanomoni_channel_cumulative_owed",
		Help: "Cumulative owed amount of the most recently accepted payment per channel.",
	}, []string{"channel_id"})

	IssuerKeyRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanomoni_issuer_key_refresh_total",
		Help: "Total number of Issuer public key cache refreshes, by outcome.",
	}, []string{"outcome"})
)
