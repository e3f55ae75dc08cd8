// Package influxdb writes wallbox telemetry to InfluxDB v2.
//
// Every confirmed numeric value the bridge reads back from the wallbox
// (current limits, DPM mode, supply voltage) becomes one point in the
// "easywallbox" measurement, tagged by device and field.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDeviceMetric("AA:BB:CC:DD:EE:FF", "user_limit", 16)
//
// Writes are non-blocking and batched (batch_size, flush_interval); batch
// errors are delivered to the SetOnError callback.
package influxdb
