// Package ipc is the request/reply transport between the framework and
// the processes it manages (ability schedulers, form providers, form
// hosts).
//
// A Parcel is an ordered list of protobuf structpb values. Every request
// starts with an interface descriptor; the receiving stub checks it with
// EnforceInterface and rejects mismatches as an invalid-state error.
//
// A RemoteObject is anything that accepts SendRequest: an in-process
// LocalObject wrapping a Handler, or a proxy over a gRPC Conn. Each
// remote object reports its own death exactly once to the recipients
// registered with AddDeathRecipient.
package ipc
