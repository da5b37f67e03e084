// Package mqtt links the block engine to the building's MQTT broker.
//
// mqtt blocks publish and subscribe through Client, remote broadcasts
// arrive on graylogic/workspace/broadcast/{key}, and block notifications
// go out on graylogic/ui/workspace/notification. The hub's presence is kept
// retained on graylogic/system/status; the broker's will message flips it
// to offline when the hub vanishes without closing the link.
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log.Component("mqtt")))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllWorkspaceBroadcasts(), 1,
//	    func(topic string, payload []byte) error {
//	        key, _ := mqtt.Topics{}.BroadcastKey(topic)
//	        return engine.Broadcast(ctx, key, string(payload))
//	    })
//
// Use TLS (broker.tls in config.yaml) anywhere but a development bench.
package mqtt
