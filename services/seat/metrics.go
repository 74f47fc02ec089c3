package seat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	seatGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licensing_seat_grants_total",
		Help: "Seat acquisitions granted, by kind (new or resumed).",
	}, []string{"kind"})

	seatDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "licensing_seat_denials_total",
		Help: "Seat acquisitions denied because the quota was exhausted.",
	})

	seatTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licensing_seat_terminations_total",
		Help: "Seats terminated, by end reason.",
	}, []string{"reason"})
)
