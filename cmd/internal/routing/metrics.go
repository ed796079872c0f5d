package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_presence_registrations_total",
		Help: "Connection registrations by outcome.",
	}, []string{"result"})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_presence_removals_total",
		Help: "Connections removed from the presence registry during registration.",
	}, []string{"reason"})

	routedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_router_routed_total",
		Help: "Messages and notifications persisted and fanned out.",
	}, []string{"resource", "send_type"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_router_deliveries_total",
		Help: "Events queued to live connections.",
	}, []string{"resource"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_router_failures_total",
		Help: "Rejected client requests by reply code.",
	}, []string{"kind", "code"})

	groupMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_group_mutations_total",
		Help: "Group create, update and delete operations by outcome.",
	}, []string{"op", "result"})

	roomOpFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_room_op_failures_total",
		Help: "Best-effort room joins and leaves that failed.",
	}, []string{"op"})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
