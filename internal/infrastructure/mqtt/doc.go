// Package mqtt provides the broker connection used by Nexlytix Core.
//
// This package manages:
//   - Connection to the broker with paho's bounded-backoff auto-reconnect
//   - Wildcard subscriptions that are restored after every reconnect
//   - Publishing, used by the telemetry seeder
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// Devices publish to <namespace>/<org>/<device>/telemetry. The ingestion
// listener subscribes to <namespace>/+/+/telemetry; see Topics.
//
// # Reconnection
//
// The initial connection is a single attempt bounded by the caller's
// context. Once connected, paho reconnects on its own, backing off from
// reconnect.initial_delay up to reconnect.max_delay. Recovering from a
// failed initial connection is the caller's job (ingest.Listener restarts
// the whole session).
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Namespace: cfg.MQTT.Namespace}
//	err = client.Subscribe(topics.AllTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        return pipeline.Handle(ctx, topic, payload)
//	    })
package mqtt
