// Package resolver holds the master/replica topology of the store and
// selects the endpoint for new connections.
//
// Selection is a pure function of a caller supplied index
// (masters[index mod len]), so any number of goroutines can share one
// Resolver without coordination. The topology is replaced wholesale with
// ResetMasters and ResetSlaves, for example when a failover notification
// arrives; an empty master list is rejected.
package resolver
