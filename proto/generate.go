// Package proto holds the uploader service contract. The Go bindings are
// generated from upload.proto; regenerate after changing the schema.
package proto

//go:generate protoc --go_out=. --go_opt=paths=source_relative --go-grpc_out=. --go-grpc_opt=paths=source_relative upload.proto
