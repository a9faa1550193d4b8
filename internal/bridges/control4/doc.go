// Package control4 bridges Control4 thermostats, fans and contact sensors
// onto the Gray Logic MQTT bus.
//
// Each configured device owns a typed attribute store. The store is seeded
// from a director snapshot and afterwards changed only by a pure reducer
// applied to push messages:
//
//	snapshot ──► store ──► normalized state ──► MQTT / history / telemetry
//	               ▲
//	push message ──┘ (ReduceClimate, ReduceFan, ReduceContact)
//
// Commands travel the other way: a normalized request (hvac mode "heat",
// fan percentage 50) is validated against the current normalized state,
// translated through the vendor mode tables and sent over a command
// channel obtained fresh for every call. Commands never write to the
// store; the director's push stream reports the result.
//
// MQTT topics (see the mqtt package for the full scheme):
//
//	graylogic/command/control4/{device_id}   commands in
//	graylogic/ack/control4/{device_id}       acknowledgements out
//	graylogic/state/control4/{device_id}     retained normalized state
//	graylogic/request/control4/{request_id}  read_state, resync
//	graylogic/response/control4/{request_id}
//	graylogic/health/control4                retained bridge health
package control4
