// Package mocks provides gomock implementations of the auth ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the port interfaces.
// Hand-written doubles with simpler semantics live in internal/mocks/auth.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	audit := mocks.NewMockAuditSink(ctrl)
//	audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)
package mocks

// Generate mocks for the ports consumed by the auth service:
// Storage (Get, SetMany, Delete), RefreshClient (Refresh), AuditSink (Append, Entries).
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/target/rolefusion/internal/ports Storage,RefreshClient,AuditSink
