package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates every record with request, population and grant
// attributes carried on the context, so call sites log events without
// re-stating where they are.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if pd, ok := ctx.Value(populationDataKey{}).(*PopulationData); ok {
		r.AddAttrs(slog.Group("pop",
			slog.String("name", pd.Name),
			slog.String("storage", pd.StorageBinding),
		))
	}

	if gd, ok := ctx.Value(grantDataKey{}).(*GrantData); ok {
		r.AddAttrs(slog.Group("grant",
			slog.String("type", gd.GrantType),
			slog.String("client_id", gd.ClientID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type populationDataKey struct{}

type PopulationData struct {
	Name           string
	StorageBinding string
}

func WithPopulationData(ctx context.Context, data *PopulationData) context.Context {
	return context.WithValue(ctx, populationDataKey{}, data)
}

type grantDataKey struct{}

type GrantData struct {
	GrantType string
	ClientID  string
}

func WithGrantData(ctx context.Context, data *GrantData) context.Context {
	return context.WithValue(ctx, grantDataKey{}, data)
}
