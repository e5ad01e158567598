// Package api defines the RPC surface of the file store: the messages
// exchanged between clients, the coordinator and the participants, the gRPC
// codec that carries them, and the service descriptors for the FileStore
// and Participant services.
//
// Messages are encoded in protobuf wire format. Clients created by this
// package select the codec per call through the "rfs" content subtype, so a
// plain grpc.ClientConn can be used.
package api
