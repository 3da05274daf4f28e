// Package connection recovers a Channel Access backend after an exception.
//
// A Manager wraps a ConnectFunc. Once connected, NotifyConnectionLost moves
// it to RECONNECTING and the reconnect loop retries the ConnectFunc with
// exponential backoff until it succeeds or the manager is closed:
//
//  1. Initial delay: 1 second
//  2. Doubling: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Reset to 1s after a successful attempt
//
// Each delay gets up to 25% random jitter added so that many clients
// restarting against one IOC do not retry in lockstep.
//
// Supervise binds a Manager to a device: the ConnectFunc opens the device
// and activates async reads, and the device's exception callback reports
// the connection lost.
package connection
