package mqtt

import "fmt"

// Publish sends payload to topic and waits for the broker to accept it.
// Payloads over 1 MiB are refused with ErrPayloadTooLarge.
//
//	err := client.Publish(mqtt.Topics{}.WorkspaceBroadcast("doorbell"), []byte("front"), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayload)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(c.conn.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}
	return nil
}
