package mqtt

import "fmt"

// Subscribe routes messages matching topic (which may hold + and #
// wildcards) to handler. Subscribing to a topic again replaces its handler.
// The subscription survives reconnects until Unsubscribe.
//
// Handlers run on paho's router goroutine and should return quickly.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	prev, had := c.subs[topic]
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := wait(c.conn.Subscribe(topic, qos, c.dispatch(handler)), ErrSubscribeFailed); err != nil {
		c.mu.Lock()
		if had {
			c.subs[topic] = prev
		} else {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops the subscription to topic. Messages already in flight
// may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	return wait(c.conn.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// SubscriptionCount returns how many topics are subscribed. It is reported
// on /metrics.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
