// Package rosnode implements a node on a ROS1-style message bus.
//
// A Node registers its subscriptions and publications with a registrar,
// negotiates a streaming transport with every publisher of a subscribed
// topic, and serves the negotiation API that lets other nodes connect to the
// topics it publishes.
//
// Subscribe never blocks on the network. Registration and the per-publisher
// negotiations run in the background, and each one re-checks that the node
// and the subscription are still alive before opening a stream or adding a
// link. Shutdown is the only cancellation signal:
//
//	n, err := rosnode.New(rosnode.NewConfig("/listener", rosnode.MasterURIFromEnv()))
//	if err != nil { ... }
//	if err := n.Start(); err != nil { ... }
//	defer n.Shutdown("done")
//
//	sub, err := n.Subscribe(rosnode.SubscribeOptions{Topic: "/chatter", Type: "std_msgs/String"})
//	for msg := range sub.Messages() { ... }
package rosnode
