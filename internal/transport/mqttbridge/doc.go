// Package mqttbridge relays asynchronous group sends between softbus nodes
// over MQTT.
//
// Each group message is published as a structured-mode JSON CloudEvent on
// {prefix}/group/{group}:
//
//	{
//	  "specversion": "1.0",
//	  "id": "6f0c...",
//	  "source": "node-a",
//	  "type": "io.softbus.group.message",
//	  "subject": "room1_devices",
//	  "datacontenttype": "text/plain",
//	  "kind": "command",
//	  "priority": "normal",
//	  "data": "status_check"
//	}
//
// Inbound events are injected into the local engine, which delivers them to
// the multicast inbox device. Events carrying this node's own source are
// ignored so a node does not process its own broadcasts twice.
package mqttbridge
