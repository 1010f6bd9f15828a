// Package server provides a scripted writing backend that speaks the session
// websocket protocol.
//
// The backend exists so the sync client can be exercised end to end without
// a real generation service. Every session runs the same plan: each step
// emits task_start, a series of step_progress events and either
// task_complete or task_approval_needed. Steps that need approval block
// until a client sends approve_task.
//
// # Endpoints
//
//   - GET /ws - websocket protocol endpoint
//   - GET /healthz - liveness and connection counts
//   - GET /metrics - Prometheus metrics for the backend
//
// # Protocol
//
// Clients send connect, ping, subscribe, start, pause, resume, stop,
// approve_task and feedback. Control events need a session_id; failures are
// reported with an error frame carrying a message.
package server
