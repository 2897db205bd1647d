// Package influxdb writes softbus dispatch metrics to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Each dispatch event
// becomes one point in the "dispatch" measurement, tagged by stage, target,
// kind, priority and status, with the handling duration as a field. Queue
// depth samples go to the "queue" measurement.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDispatchMetric(influxdb.DispatchMetric{Stage: "sent", Target: "led_light"})
//
// Writes are non-blocking and batched per batch_size / flush_interval.
// Asynchronous write failures are reported through SetOnError.
package influxdb
