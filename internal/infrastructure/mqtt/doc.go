// Package mqtt provides MQTT connectivity for the Control4 bridge.
//
// The bridge talks to the rest of Gray Logic over the internal broker:
//
//	Control4 Director ↔ c4bridge ↔ MQTT broker ↔ Gray Logic Core / UIs
//
// This package manages:
//   - Connection with auto-reconnect and subscription restoration
//   - Publishing with payload and QoS validation
//   - Last Will and Testament on the process status topic
//   - Topic builders for the flat bridge scheme
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.BridgeState("control4", "123")
//	err = client.PublishRetained(topic, payload)
//
// Use TLS (cfg.Broker.TLS) and broker ACLs outside local development.
package mqtt
