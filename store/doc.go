// Package store persists in-flight QoS 1/2 MQTT messages in SQLite.
//
// It implements paho.mqtt.golang's Store interface, so a crash or restart
// in the middle of a QoS>0 exchange does not lose the unacknowledged
// packets: paho replays them from the store on the next connect with the
// same client ID and a persistent session.
//
// The paho Store contract reports no errors, so failures here are logged
// and the affected operation degrades to the behaviour of an empty store.
// Pass a Store to transport.Options.Store to wire it in:
//
//	st, err := store.New(store.Config{Path: "/var/lib/glmqtt/inflight.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Shutdown()
//
//	factory, err := transport.NewFactory(transport.Options{
//	    Host:     "broker.local",
//	    Port:     1883,
//	    ClientID: "glmqtt-1",
//	    Store:    st,
//	})
package store
