// Package contracts provides the collaborator types shared by the interception pipeline,
// the object runtime and the transports.
//
// This package defines the data and interfaces that flow between the layers:
//   - IOR, Profile, TaggedComponent: object addressing
//   - ServiceContext, ServiceContexts: out-of-band request and reply annotations
//   - SystemException, UserException: invocation failures
//   - ReplyMessage: the reply produced by the server side and consumed by the client side
//   - MessageMediator, ContactInfo, ContactInfoIterator: per-request transport metadata
//   - ObjectAdapter, Servant, Policy: server-side dispatch targets
//   - DynamicRequest, Parameter: dynamic invocation data
//
// Nothing in this package performs I/O. Transports implement MessageMediator and the object
// runtime implements ObjectAdapter.
package contracts
