// Package bus provides the in-memory space hub behind the inmemory
// transport and the websocket relay.
//
// Members attach to a Hub, declare the complete set of spaces they want,
// and receive every payload published to any of those spaces on a
// buffered channel. Publish never blocks: a member whose buffer is full
// misses the delivery and a warning is logged.
//
//	hub := bus.NewHub(logger)
//	sub := hub.Attach(ctx)
//	sub.Subscribe("lobby", "ops")
//	hub.Publish("lobby", payload)
//	d := <-sub.C()
package bus
