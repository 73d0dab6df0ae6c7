package mqtt

import (
	"path/filepath"
	"testing"
)

func TestBrokerURL(t *testing.T) {
	t.Setenv("MQTT_URL", "")
	if got := BrokerURL(""); got != "tcp://localhost:1883" {
		t.Errorf("default = %q", got)
	}

	t.Setenv("MQTT_URL", "tcp://broker:1883")
	if got := BrokerURL(""); got != "tcp://broker:1883" {
		t.Errorf("env = %q", got)
	}
	if got := BrokerURL("ssl://cfg:8883"); got != "ssl://cfg:8883" {
		t.Errorf("configured = %q", got)
	}
}

func TestTimeoutErrors(t *testing.T) {
	if (&PublishTimeoutError{Topic: "a/b"}).Error() != "mqtt publish timeout: a/b" {
		t.Error("unexpected publish timeout message")
	}
	if (&SubscribeTimeoutError{Topic: "a/b"}).Error() != "mqtt subscribe timeout: a/b" {
		t.Error("unexpected subscribe timeout message")
	}
}

func TestNewClientResolvesCredentials(t *testing.T) {
	t.Setenv("SMOKERS_MQTT_USER", "table")
	t.Setenv("SMOKERS_MQTT_PASS", "")
	t.Setenv("SMOKERS_MQTT_PASS_FILE", filepath.Join(t.TempDir(), "missing"))

	if _, err := NewClient(Options{ClientID: "t"}); err == nil {
		t.Fatal("expected error for unreadable SMOKERS_MQTT_PASS_FILE")
	}

	// Explicit credentials skip the environment.
	c, err := NewClient(Options{ClientID: "t", Username: "u", Password: "p", WillTopic: AvailabilityTopic("smokers")})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.IsConnected() {
		t.Error("new client should not be connected")
	}
	if c.will != "smokers/availability" {
		t.Errorf("will = %q", c.will)
	}
}
