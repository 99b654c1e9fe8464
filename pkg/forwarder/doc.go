// Package forwarder is the orchestration facade of the forwarding engine.
//
// For every inbound message the Engine walks one state machine:
//
//	RECEIVED -> (no rule matched)  -> IGNORED
//	RECEIVED -> (rule matched)     -> IN_PROGRESS -> FORWARDED
//	                                  IN_PROGRESS -> FAILED (retries exhausted or permanent failure)
//
// IN_PROGRESS is protected by a ledger lease, so a message is executed by at
// most one caller at a time. Each terminal transition produces exactly one
// ledger commit followed by one statistics update.
package forwarder
