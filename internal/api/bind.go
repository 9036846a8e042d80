package api

import (
	"context"
	"encoding/json"

	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/rpc"
)

// Bind registers every control operation on the RPC server.
func Bind(srv *rpc.Server, s *Service) {
	srv.Handle("ping", noParams(s.Ping))
	srv.Handle("list_repos", noParams(s.ListRepos))
	srv.Handle("daemon_status", noParams(s.DaemonStatus))

	srv.Handle("index_status", withParams(s.IndexStatus))
	srv.Handle("hybrid_search", withParams(s.HybridSearch))
	srv.Handle("doc_search", withParams(s.DocSearch))
	srv.Handle("symbol_lookup", withParams(s.SymbolLookup))
	srv.Handle("symbol_context", withParams(s.SymbolContext))
	srv.Handle("callers", withParams(s.Callers))
	srv.Handle("callees", withParams(s.Callees))
	srv.Handle("list_tags", withParams(s.ListTags))
	srv.Handle("tag_entity", withParams(s.TagEntity))
	srv.Handle("enqueue_reindex_file", withParams(s.EnqueueReindexFile))
	srv.Handle("enqueue_reindex_many", withParams(s.EnqueueReindexMany))
}

// noParams adapts an operation that ignores params.
func noParams[R any](fn func(ctx context.Context) (R, error)) rpc.HandlerFunc {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return fn(ctx)
	}
}

// withParams adapts an operation taking a typed params struct. The
// struct's own Validate runs inside the operation; decoding failures
// surface as invalid params.
func withParams[P any, R any](fn func(ctx context.Context, p *P) (R, error)) rpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		p := new(P)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, p); err != nil {
				return nil, rmerr.Wrap(rmerr.KindValidation, err, "decode params")
			}
		}
		return fn(ctx, p)
	}
}
