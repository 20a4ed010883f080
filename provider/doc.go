// Package provider supplies sockets to the client supervisor. A provider
// owns address selection and dialing policy only; the connection lifecycle
// (handshake, I/O, teardown) belongs to the client.
//
// Key Components:
//
//   - ISocketProvider: the single entry point the reconnector calls with the
//     current retry number and the last observed error.
//
//   - SingleSocketProvider: dials one fixed address, used for the
//     one-instance deployment model.
//
//   - RoundRobinSocketProvider: cycles through a refreshable address set,
//     used by the cluster overlay whose discovery task may replace the
//     member list at runtime.
//
// Providers distinguish transient dial failures (the reconnector keeps
// retrying) from fatal ones (the client closes permanently) via
// TransientError.
package provider
