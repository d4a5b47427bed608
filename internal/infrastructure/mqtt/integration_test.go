//go:build integration

package mqtt

import (
	"testing"
	"time"

	"github.com/nerrad567/mqtt-access/internal/infrastructure/config"
)

// Integration tests require a Mosquitto broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 2,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestIntegration_PublishSubscribeQoS2(t *testing.T) {
	client, err := Connect(integrationConfig("mqtt-access-int-pubsub"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := "mqtt-access/int/echo"
	received := make(chan []byte, 1)
	if err := client.Subscribe(topic, 2, func(_ string, payload []byte) error {
		received <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Error("subscription should be tracked for reconnect")
	}

	if err := client.Publish(topic, []byte(`{"ok":true}`), 2, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"ok":true}` {
			t.Errorf("payload = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
