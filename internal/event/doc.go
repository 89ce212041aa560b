// Package event carries engine activity to observers.
//
// Every phase transition, metrics sample, bridge message, watchdog action and
// heartbeat is published as an [Event] on a [Bus]. Observers (the kiosk UI
// transport, the operator console, the session history recorder) each hold a
// [Subscription] with a small bounded queue. Publishing never blocks: when a
// queue is full its oldest event is discarded.
//
// # Topics
//
// Events are routed by topic "<type>.<phase>", for example
// "state.qr_display" or "metrics.human_detect". Subscriptions filter topics
// with gobwas/glob patterns using '.' as the separator:
//
//	bus := event.NewBus()
//	states, _ := bus.Subscribe("state.*", 8)
//	all := bus.SubscribeAll(4)
//	defer bus.Unsubscribe(all)
//
//	for e := range states.C {
//		fmt.Println(e.Phase)
//	}
package event
