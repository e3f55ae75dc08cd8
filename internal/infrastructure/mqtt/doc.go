// Package mqtt provides MQTT client connectivity for the EasyWallbox bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnects
//   - Last Will and Testament on {topic_base}/availability
//
// # Architecture
//
// The broker is the bridge's only northbound interface: dashboards write
// to command topics and read retained state topics.
//
//	Home Assistant ↔ MQTT Broker ↔ easywallbox bridge ↔ BLE ↔ Wallbox
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not on the host
//   - Pass credentials through MQTT_USERNAME / MQTT_PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetOnConnect(coordinator.OnMQTTConnect)
//	err = client.Subscribe("easywallbox/set/+", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
