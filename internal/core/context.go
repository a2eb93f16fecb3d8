package core

import "context"

type contextKey string

const (
	ctxKeyClientIP  contextKey = "client_ip"
	ctxKeyUserAgent contextKey = "user_agent"
)

// Metadata keys recorded for every upload in addition to caller metadata.
const (
	MetaClientIP    = "client_ip"
	MetaUserAgent   = "user_agent"
	MetaPublishedBy = "published_by"
)

// ContextWithClientIP records the uploader's address for import metadata.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// ContextWithUserAgent records the uploader's User-Agent for import metadata.
func ContextWithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

func clientIPFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyClientIP).(string)
	return v
}

func userAgentFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserAgent).(string)
	return v
}

// requestMetadata merges caller metadata with what the request context
// carries. Caller keys win.
func requestMetadata(ctx context.Context, meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta)+2)
	if ip := clientIPFromContext(ctx); ip != "" {
		out[MetaClientIP] = ip
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		out[MetaUserAgent] = ua
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}
