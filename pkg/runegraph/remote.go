package runegraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/orneryd/runegraph/pkg/engine"
	"github.com/orneryd/runegraph/pkg/storage"
	"github.com/orneryd/runegraph/pkg/transport"
)

// remoteBackend delegates every operation to a worker-hosted engine over the
// transport proxy. Persistence runs on the worker side, where the engine
// lives; the backend only forwards the wire method set.
type remoteBackend struct {
	proxy *transport.Proxy
}

func (r *remoteBackend) execute(ctx context.Context, q string) ([]engine.Row, error) {
	res, err := r.proxy.Call(ctx, transport.MethodExecute, q)
	if err != nil {
		return nil, err
	}
	return toRows(res)
}

func (r *remoteBackend) executeRaw(ctx context.Context, q string) (*engine.RawResult, error) {
	res, err := r.proxy.Call(ctx, transport.MethodExecuteRaw, q)
	if err != nil {
		return nil, err
	}
	raw, ok := res.(*engine.RawResult)
	if !ok {
		return nil, fmt.Errorf("unexpected executeRaw reply type %T", res)
	}
	return raw, nil
}

// executeWithLanguage validates the language token proxy-side; the wire
// protocol itself only carries execute.
func (r *remoteBackend) executeWithLanguage(ctx context.Context, q, language string) ([]engine.Row, error) {
	if !strings.EqualFold(language, "cypher") {
		return nil, fmt.Errorf("%w: %q", engine.ErrUnsupportedLanguage, language)
	}
	return r.execute(ctx, q)
}

func (r *remoteBackend) nodeCount(ctx context.Context) (int, error) {
	res, err := r.proxy.Call(ctx, transport.MethodNodeCount)
	if err != nil {
		return 0, err
	}
	return toInt(res)
}

func (r *remoteBackend) edgeCount(ctx context.Context) (int, error) {
	res, err := r.proxy.Call(ctx, transport.MethodEdgeCount)
	if err != nil {
		return 0, err
	}
	return toInt(res)
}

func (r *remoteBackend) schema(ctx context.Context) (map[string]any, error) {
	res, err := r.proxy.Call(ctx, transport.MethodSchema)
	if err != nil {
		return nil, err
	}
	schema, ok := res.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected schema reply type %T", res)
	}
	return schema, nil
}

func (r *remoteBackend) export(ctx context.Context) (*engine.Snapshot, error) {
	res, err := r.proxy.Call(ctx, transport.MethodExport)
	if err != nil {
		return nil, err
	}
	snap, ok := res.(*engine.Snapshot)
	if !ok {
		return nil, fmt.Errorf("unexpected export reply type %T", res)
	}
	return snap, nil
}

func (r *remoteBackend) importSnapshot(ctx context.Context, data []byte) error {
	_, err := r.proxy.Call(ctx, transport.MethodImport, data)
	return err
}

func (r *remoteBackend) clear(ctx context.Context) error {
	_, err := r.proxy.Call(ctx, transport.MethodClear)
	return err
}

func (r *remoteBackend) storageStats(ctx context.Context) (*storage.Usage, error) {
	res, err := r.proxy.Call(ctx, transport.MethodStorageStats)
	if err != nil {
		return nil, err
	}
	usage, ok := res.(*storage.Usage)
	if !ok {
		return nil, fmt.Errorf("unexpected storageStats reply type %T", res)
	}
	return usage, nil
}

// close forwards a single close request; the worker flushes its own
// persistence before replying, and the proxy terminates the worker after.
func (r *remoteBackend) close(ctx context.Context) error {
	return r.proxy.Close(ctx)
}

func toRows(res any) ([]engine.Row, error) {
	if res == nil {
		return nil, nil
	}
	rows, ok := res.([]engine.Row)
	if !ok {
		return nil, fmt.Errorf("unexpected execute reply type %T", res)
	}
	return rows, nil
}

func toInt(res any) (int, error) {
	switch v := res.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("unexpected count reply type %T", res)
	}
}

var _ backend = (*remoteBackend)(nil)
