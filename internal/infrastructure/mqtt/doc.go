// Package mqtt provides MQTT broker connectivity for softbus.
//
// The client carries group traffic between softbus nodes (see package
// transport/mqttbridge) and publishes a retained node status with a Last
// Will so peers notice a node that disappears.
//
// # Topics
//
//	softbus/group/{group}    group messages (CloudEvents JSON)
//	softbus/event/{stage}    dispatch events
//	softbus/system/status    retained online/offline status
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllGroupMessages(), client.QoS(),
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
//
// Broker tests live behind the integration build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
