// Package correlation matches controller command replies to the requests
// that produced them.
//
// Every outbound device command carries a unique token. The controller
// echoes the token in its reply topic, and the Tracker routes the reply
// back to the goroutine waiting on it. Replies carrying unknown or
// already-expired tokens are discarded.
//
// Send fans a command out to a batch of devices in parallel and always
// returns one Result per device: either the controller's reply or an
// unresponsive marker once the wait window closes. Callers therefore
// never need to reconcile partial batches themselves.
//
// Thread Safety: Tracker is safe for concurrent use; Send may be called
// from multiple goroutines and HandleReply is designed to be invoked
// from the broker client's callback goroutine.
package correlation
