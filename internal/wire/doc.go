// Package wire holds the small set of protobuf wire-format helpers shared by
// the transaction log encoding and the RPC messages. Messages are encoded by
// hand with protowire, so no generated code is involved.
package wire
