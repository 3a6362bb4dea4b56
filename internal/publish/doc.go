// Package publish fans emitted transcripts out to secondary consumers. Every
// type here implements [transcript.Publisher]:
//
//   - [NATS] publishes each transcript as JSON on a subject.
//   - [Hub] streams transcripts to connected WebSocket clients.
//   - [History] appends transcripts to a [memory.SessionStore].
//
// Publishers are best-effort. A failing publisher never blocks or suppresses
// the primary stdout output.
package publish
