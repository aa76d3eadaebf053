// Package tracing wires Langfuse trace collection into the eino callback
// chain. Every model call made through the completion client (enrichment,
// expansion, HyDE, reranking) is traced once the handler is registered.
//
// Tracing is opt-in: it activates only when LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are present. The config package exports YAML tracing
// values into these env vars, so either configuration surface works.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is used when LANGFUSE_HOST is unset; it matches a local
// docker-compose Langfuse deployment.
const defaultHost = "http://localhost:3000"

// Setup initialises the Langfuse callback handler when the env keys are
// present. The returned flush must be called before process exit so queued
// traces are delivered; ok reports whether tracing is active.
func Setup() (handler callbacks.Handler, flush func(), ok bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
	})
	return handler, flush, true
}
