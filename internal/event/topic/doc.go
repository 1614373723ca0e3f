// Package topic defines the hierarchical topic names used by the message bus.
//
// Topics use dot notation:
//
//	profile.switched
//	selection.changed
//	rpc.call.export.generate
//
// Broadcast topics announce facts; capability topics name request/response
// endpoints. The bus treats both the same way, the difference is only in how
// callers use them.
//
// Subscriptions may use wildcard patterns:
//
//	profile.*    - exactly one segment after "profile"
//	rpc.call.**  - zero or more segments after "rpc.call"
package topic
