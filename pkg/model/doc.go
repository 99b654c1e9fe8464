// Package model defines the entities exchanged between the forwarding
// engine components: messages, rules, destinations, forward records and
// per-day statistics.
package model
