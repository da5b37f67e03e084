package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
)

const (
	connectTimeout      = 10 * time.Second
	opTimeout           = 5 * time.Second
	disconnectQuiesceMs = 1000
	keepAlive           = 60 * time.Second

	maxPayload = 1 << 20
)

// clientOptions maps the mqtt section of config.yaml onto paho options.
// The session is clean: subscriptions are replayed by the client itself.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	addr := net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port))

	opts := pahomqtt.NewClientOptions().
		AddBroker(scheme + "://" + addr).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay)).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetBinaryWill(Topics{}.SystemStatus(),
			presencePayload(cfg.Broker.ClientID, "offline", "connection lost"), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// presence is the retained body of graylogic/system/status.
type presence struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func presencePayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(presence{ //nolint:errcheck // plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}
