// Package transport implements the request/response channel between a
// database façade and a worker-hosted engine instance.
//
// The Proxy owns one Worker and correlates replies to calls by id. Replies
// may arrive in any order; each pending call resolves only on the reply
// carrying its own id. A worker-level fault is terminal for the proxy: all
// pending calls are rejected and a new proxy must be created.
package transport

// Wire method names understood by engine workers.
const (
	MethodInit         = "init"
	MethodExecute      = "execute"
	MethodExecuteRaw   = "executeRaw"
	MethodNodeCount    = "nodeCount"
	MethodEdgeCount    = "edgeCount"
	MethodExport       = "export"
	MethodImport       = "import"
	MethodSchema       = "schema"
	MethodClear        = "clear"
	MethodStorageStats = "storageStats"
	MethodClose        = "close"
)

// Request is one call sent to the worker. IDs are unique and strictly
// increasing within one proxy's lifetime.
type Request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Response is the worker's reply to exactly one Request. Result and Error
// are mutually exclusive.
type Response struct {
	ID     int64  `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Worker is a bidirectional structured-message channel hosting an engine.
// Implementations deliver requests via Send, emit replies on Responses, and
// report transport-level faults (not per-request errors) on Faults.
type Worker interface {
	// Send delivers a request to the worker. A send failure is a
	// transport fault.
	Send(req *Request) error

	// Responses yields the worker's replies.
	Responses() <-chan *Response

	// Faults yields worker-level failures. A fault is terminal.
	Faults() <-chan error

	// Terminate stops the worker and releases its resources. Idempotent.
	Terminate()
}
