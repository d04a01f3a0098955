// Package influxdb records auth activity in InfluxDB.
//
// Each auth event becomes one point in the auth_activity measurement,
// tagged by event type, outcome and role, so operators can chart failed
// logins and refresh volume over time. Writes are batched and never block
// the request path; failures surface through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // integration switched off
//	}
//	defer client.Close()
//
//	client.WriteAuthActivity(influxdb.AuthActivity{Event: "login", Outcome: "success"})
package influxdb
