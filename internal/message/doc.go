// Package message defines the unit of delivery on the bus and the per-target
// priority queue that holds it.
//
// # Ordering
//
// A Queue hands out messages highest priority first. Among equal priorities
// the earliest timestamp wins, and insertion order breaks exact ties. The
// index is a B-tree (github.com/google/btree), so insert, remove-first and
// peek are all O(log n).
//
// # Ownership
//
// Each message carries a Payload with a single owner at any time:
//
//	m, _ := message.New("led", message.KindCommand, message.PriorityHigh, "set_brightness:75")
//	q.Insert(m)              // queue owns m and its payload
//	m, _ = q.PopMin()        // caller owns m
//	p := m.TakePayload()     // caller owns the payload, m no longer references it
//	handle(p.Bytes())
//	p.Release()
//
// Closing a queue releases every payload still resident.
package message
