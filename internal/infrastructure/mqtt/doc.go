// Package mqtt provides MQTT client connectivity for Vigil Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Vigil uses MQTT as the device bus connecting the core to physical alarm
// controllers. Controllers publish events and telemetry on shared topics;
// the core addresses each controller through its own command and config
// topics and collects token-correlated replies.
//
//	Vigil Core ↔ MQTT Broker ↔ Alarm Controllers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Collect every controller reply
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceReplies(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a command
//	topic := mqtt.Topics{}.DeviceCommand("alarm-gate-01")
//	client.Publish(topic, []byte(`{"command":"arm"}`), 1, false)
package mqtt
