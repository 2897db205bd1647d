// Package multicast implements the softbus group transport over UDP
// multicast.
//
// Every node joins the same IPv4 group (239.0.0.1:45678 by default). An
// asynchronous group send writes the message content as one datagram; every
// node that receives it re-injects it into its local bus addressed to the
// reserved "multicast" device as a normal-priority Command.
//
// The group name of a send is not carried on the wire. Receivers cannot tell
// which group a datagram was addressed to, so the multicast inbox device sees
// every group's traffic.
//
// Usage:
//
//	tr, err := multicast.Open(ctx, cfg.Multicast, engine, log)
//	if err != nil {
//	    return err
//	}
//	defer tr.Close()
//	engine.SetTransport(tr)
package multicast
