// Copyright 2026 The btcsign Authors
// This file is part of the btcsign library.
//
// The btcsign library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The btcsign library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the btcsign library. If not, see <http://www.gnu.org/licenses/>.

package usbwallet

import (
	"errors"
	"time"

	"github.com/btcsign/btcsign/accounts"
	"github.com/btcsign/btcsign/signer/txsign"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	signSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btcsign",
			Subsystem: "usbwallet",
			Name:      "sign_sessions_total",
			Help:      "Number of signing sessions run on hardware wallets, by outcome.",
		},
		[]string{"outcome"},
	)

	signDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "btcsign",
			Subsystem: "usbwallet",
			Name:      "sign_duration_seconds",
			Help:      "Wall time of signing sessions, user confirmations included.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	hidBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btcsign",
			Subsystem: "usbwallet",
			Name:      "hid_bytes_total",
			Help:      "Bytes exchanged with hardware wallets in HID reports.",
		},
		[]string{"direction"},
	)

	heartbeatFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "btcsign",
			Subsystem: "usbwallet",
			Name:      "heartbeat_failures_total",
			Help:      "Number of wallets torn down after a failed health check.",
		},
	)
)

// RegisterMetrics registers the hardware wallet metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{signSessions, signDuration, hidBytes, heartbeatFailures} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// outcome classifies the result of a signing session for metrics.
func outcome(err error) string {
	var auth *accounts.AuthNeededError
	switch {
	case err == nil:
		return "signed"
	case errors.Is(err, txsign.ErrCancelled):
		return "cancelled"
	case errors.As(err, &auth):
		return "auth_needed"
	case errors.Is(err, txsign.ErrDevice):
		return "device_failure"
	case errors.Is(err, txsign.ErrProtocolViolation), errors.Is(err, txsign.ErrDuplicateSignature):
		return "protocol_violation"
	case errors.Is(err, txsign.ErrUnknownPrevTx):
		return "unknown_prevtx"
	case errors.Is(err, txsign.ErrIncompleteSignatures):
		return "incomplete"
	}
	return "error"
}

func observeSession(elapsed time.Duration, err error) {
	signSessions.WithLabelValues(outcome(err)).Inc()
	signDuration.Observe(elapsed.Seconds())
}
