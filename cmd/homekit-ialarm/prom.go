package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "homekit_ialarm"

var armStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "state",
	Help:      "Panel status as reported by the panel (0=away, 1=disarmed, 2=stay, 3=cancel, 4=triggered, 5=arming, 6=unavailable, 8=partial)",
})

var openGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "open",
	Help:      "Whether the zone is open",
}, []string{"name"})

var lowBatteryGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "low_battery",
	Help:      "Whether the zone or wireless device reports a low battery",
}, []string{"type", "name"})

var lostGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "lost",
	Help:      "Whether the panel lost contact with the zone",
}, []string{"name"})

var bypassedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "bypassed",
	Help:      "Whether the zone is bypassed",
}, []string{"name"})

var tamperGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "tamper",
	Help:      "Whether the wireless device reports tampering",
}, []string{"name"})

var requestCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "requests_total",
	Help:      "Operation group attempts against the panel",
})

var requestErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "request_errors_total",
	Help:      "Failed operation group attempts against the panel",
})

var eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "push",
	Name:      "events_total",
	Help:      "Alarm events pushed by the panel",
}, []string{"cid"})

var reconnectCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "push",
	Name:      "reconnects_total",
	Help:      "Times the push listener lost its connection",
})

var listenerStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "push",
	Name:      "state",
	Help:      "Push listener state (0=idle, 1=connecting, 2=paired, 3=listening, 4=reconnecting, 5=cancelled)",
})
