package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ogacraft_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ogacraft_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	SocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ogacraft_socket_connections",
			Help: "Currently open socket connections",
		},
	)

	SocketEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ogacraft_socket_events_total",
			Help: "Inbound socket events by name and outcome",
		},
		[]string{"event", "outcome"}, // outcome: "ok", "error", "unknown"
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ogacraft_notifications_total",
			Help: "Outbound socket events by target kind and result",
		},
		[]string{"target", "result"}, // target: "user", "room"; result: "delivered", "offline", "dropped"
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ogacraft_online_users",
			Help: "Users bound to a live socket connection",
		},
	)

	Rooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ogacraft_job_rooms",
			Help: "Job rooms known to this process",
		},
	)

	ProposalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ogacraft_proposal_transitions_total",
			Help: "Proposal status writes by resulting status",
		},
		[]string{"status"},
	)
)
