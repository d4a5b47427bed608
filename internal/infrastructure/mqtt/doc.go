// Package mqtt provides the MQTT connection used to drive the broker's
// dynamic-security control plane.
//
// This package manages:
//   - Connection to the Mosquitto broker with auto-reconnect
//   - Publishing control batches at QoS 2
//   - Process-lifetime subscriptions, restored after every reconnect
//   - Panic-safe message handler dispatch
//
// The dynsec package builds its request/response protocol on top of
// Publish and Subscribe; nothing here knows about correlation IDs.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.TopicDynSecResponse, 2,
//	    func(topic string, payload []byte) error {
//	        return correlator.HandleMessage(topic, payload)
//	    })
//
// Handlers run on paho's delivery goroutine and must not block.
package mqtt
