package router

import (
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/avapigw/core/internal/config"
	"github.com/avapigw/core/internal/predicate"
	"github.com/avapigw/core/internal/reqctx"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	filters, err := predicate.NewFilterEngine()
	require.NoError(t, err)
	metrics := NewMetrics(prometheus.NewRegistry(), "test")
	return New(filters, nil, metrics, nil)
}

func newTestCtx(t *testing.T, method, host, uri, remoteAddr string) *reqctx.Context {
	t.Helper()
	return reqctx.New(method, host, uri, remoteAddr, nil, url.Values{}, nil)
}

func TestDispatch_LiteralRoute(t *testing.T) {
	rt := newTestRouter(t)

	var matchedRoute string
	rt.RegisterHandler("widgets", func(ctx *reqctx.Context, route *config.Route) {
		matchedRoute = route.Name
	})

	rt.Rebuild(&config.RouteSnapshot{
		Routes: []*config.Route{
			{Name: "widgets", Paths: []string{"/v1/widgets"}, Methods: []string{"GET"}, Priority: 10},
		},
		ConfVersion: 1,
	})

	ctx := newTestCtx(t, "GET", "example.com", "/v1/widgets", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/v1/widgets", DispatchOptions{Method: "GET", Host: "example.com", RemoteAddr: "10.0.0.1:1111"}, ctx)
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "widgets", matchedRoute)
}

func TestDispatch_MethodMismatchFallsThrough(t *testing.T) {
	rt := newTestRouter(t)

	var matchedRoute string
	rt.RegisterHandler("widgets-get", func(ctx *reqctx.Context, route *config.Route) { matchedRoute = route.Name })
	rt.RegisterHandler("widgets-post", func(ctx *reqctx.Context, route *config.Route) { matchedRoute = route.Name })

	rt.Rebuild(&config.RouteSnapshot{
		Routes: []*config.Route{
			{Name: "widgets-get", Paths: []string{"/v1/widgets"}, Methods: []string{"GET"}, Priority: 10},
			{Name: "widgets-post", Paths: []string{"/v1/widgets"}, Methods: []string{"POST"}, Priority: 5},
		},
		ConfVersion: 1,
	})

	ctx := newTestCtx(t, "POST", "example.com", "/v1/widgets", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/v1/widgets", DispatchOptions{Method: "POST"}, ctx)
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "widgets-post", matchedRoute)
}

func TestDispatch_ParamSegment(t *testing.T) {
	rt := newTestRouter(t)

	var gotID string
	rt.RegisterHandler("widget-by-id", func(ctx *reqctx.Context, route *config.Route) {
		gotID, _ = ctx.Var("uri")
	})

	rt.Rebuild(&config.RouteSnapshot{
		Routes: []*config.Route{
			{Name: "widget-by-id", Paths: []string{"/v1/widgets/:id"}, Priority: 10},
		},
		ConfVersion: 1,
	})

	ctx := newTestCtx(t, "GET", "example.com", "/v1/widgets/42", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/v1/widgets/42", DispatchOptions{Method: "GET"}, ctx)
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "/v1/widgets/42", gotID)
}

func TestDispatch_WildcardFallsBackBehindMoreSpecificLiteral(t *testing.T) {
	rt := newTestRouter(t)

	var matchedRoute string
	rt.RegisterHandler("widgets-specific", func(ctx *reqctx.Context, route *config.Route) { matchedRoute = route.Name })
	rt.RegisterHandler("catch-all", func(ctx *reqctx.Context, route *config.Route) { matchedRoute = route.Name })

	rt.Rebuild(&config.RouteSnapshot{
		Routes: []*config.Route{
			{Name: "widgets-specific", Paths: []string{"/v1/widgets"}, Priority: 100},
			{Name: "catch-all", Paths: []string{"/v1/*"}, Priority: 1},
		},
		ConfVersion: 1,
	})

	ctx := newTestCtx(t, "GET", "example.com", "/v1/widgets", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/v1/widgets", DispatchOptions{Method: "GET"}, ctx)
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "widgets-specific", matchedRoute)

	matched, err = rt.Dispatch("/v1/anything-else", DispatchOptions{Method: "GET"}, ctx)
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "catch-all", matchedRoute)
}

func TestDispatch_PluginRoutesInsertedFirst(t *testing.T) {
	rt := newTestRouter(t)

	var matchedRoute string
	rt.RegisterHandler("plugin-route", func(ctx *reqctx.Context, route *config.Route) { matchedRoute = route.Name })
	rt.RegisterHandler("user-route", func(ctx *reqctx.Context, route *config.Route) { matchedRoute = route.Name })

	rt.Rebuild(&config.RouteSnapshot{
		Routes:       []*config.Route{{Name: "user-route", Paths: []string{"/v1/widgets"}, Priority: 5}},
		PluginRoutes: []*config.Route{{Name: "plugin-route", Paths: []string{"/v1/widgets"}, Priority: 5}},
		ConfVersion:  1,
	})

	ctx := newTestCtx(t, "GET", "example.com", "/v1/widgets", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/v1/widgets", DispatchOptions{Method: "GET"}, ctx)
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "plugin-route", matchedRoute)
}

func TestDispatch_VarsConjunctionMustAllHold(t *testing.T) {
	rt := newTestRouter(t)

	var matchedRoute string
	rt.RegisterHandler("internal-only", func(ctx *reqctx.Context, route *config.Route) { matchedRoute = route.Name })

	rt.Rebuild(&config.RouteSnapshot{
		Routes: []*config.Route{
			{
				Name:  "internal-only",
				Paths: []string{"/v1/widgets"},
				Vars: []predicate.VarPredicate{
					{Name: "request_method", Operator: "==", Operand: "GET"},
					{Name: "host", Operator: "==", Operand: "internal.example.com"},
				},
				Priority: 10,
			},
		},
		ConfVersion: 1,
	})

	ctxWrongHost := newTestCtx(t, "GET", "public.example.com", "/v1/widgets", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/v1/widgets", DispatchOptions{Method: "GET"}, ctxWrongHost)
	require.Error(t, err)
	require.False(t, matched)
	require.Empty(t, matchedRoute)

	ctxRightHost := newTestCtx(t, "GET", "internal.example.com", "/v1/widgets", "10.0.0.1:1111")
	matched, err = rt.Dispatch("/v1/widgets", DispatchOptions{Method: "GET"}, ctxRightHost)
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "internal-only", matchedRoute)
}

func TestDispatch_FilterFunSkipsUnmatching(t *testing.T) {
	rt := newTestRouter(t)

	var matchedRoute string
	rt.RegisterHandler("admins-only", func(ctx *reqctx.Context, route *config.Route) { matchedRoute = route.Name })

	rt.Rebuild(&config.RouteSnapshot{
		Routes: []*config.Route{
			{Name: "admins-only", Paths: []string{"/v1/admin"}, FilterFun: `host == "admin.example.com"`, Priority: 10},
		},
		ConfVersion: 1,
	})

	ctx := newTestCtx(t, "GET", "public.example.com", "/v1/admin", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/v1/admin", DispatchOptions{Method: "GET"}, ctx)
	require.Error(t, err)
	require.False(t, matched)
	require.Empty(t, matchedRoute)
}

func TestDispatch_UnparsableFilterFunSkipsOnlyThatRoute(t *testing.T) {
	rt := newTestRouter(t)

	var matchedRoute string
	rt.RegisterHandler("backup", func(ctx *reqctx.Context, route *config.Route) { matchedRoute = route.Name })

	rt.Rebuild(&config.RouteSnapshot{
		Routes: []*config.Route{
			{Name: "broken", Paths: []string{"/v1/widgets"}, FilterFun: "((( not valid cel", Priority: 100},
			{Name: "backup", Paths: []string{"/v1/widgets"}, Priority: 1},
		},
		ConfVersion: 1,
	})

	ctx := newTestCtx(t, "GET", "example.com", "/v1/widgets", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/v1/widgets", DispatchOptions{Method: "GET"}, ctx)
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "backup", matchedRoute)
}

func TestRebuild_IgnoresStaleConfVersion(t *testing.T) {
	rt := newTestRouter(t)

	var matchedRoute string
	rt.RegisterHandler("v2", func(ctx *reqctx.Context, route *config.Route) { matchedRoute = route.Name })

	rt.Rebuild(&config.RouteSnapshot{
		Routes:      []*config.Route{{Name: "v2", Paths: []string{"/v1/widgets"}, Priority: 1}},
		ConfVersion: 5,
	})
	require.EqualValues(t, 5, rt.buildVersion)

	rt.Rebuild(&config.RouteSnapshot{
		Routes:      []*config.Route{{Name: "stale", Paths: []string{"/v1/widgets"}, Priority: 1}},
		ConfVersion: 3,
	})
	require.EqualValues(t, 5, rt.buildVersion, "an older conf_version must not replace a newer trie")

	ctx := newTestCtx(t, "GET", "example.com", "/v1/widgets", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/v1/widgets", DispatchOptions{Method: "GET"}, ctx)
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "v2", matchedRoute)
}

func TestDispatch_NoMatchUsesDefaultHandler(t *testing.T) {
	filters, err := predicate.NewFilterEngine()
	require.NoError(t, err)

	var defaulted bool
	rt := New(filters, func(ctx *reqctx.Context, route *config.Route) { defaulted = true }, NewMetrics(prometheus.NewRegistry(), "test"), nil)

	rt.Rebuild(&config.RouteSnapshot{ConfVersion: 1})

	ctx := newTestCtx(t, "GET", "example.com", "/nowhere", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/nowhere", DispatchOptions{Method: "GET"}, ctx)
	require.NoError(t, err)
	require.True(t, matched)
	require.True(t, defaulted)
}

func TestDispatch_NoMatchNoDefaultReturnsRouteNotFound(t *testing.T) {
	rt := newTestRouter(t)
	rt.Rebuild(&config.RouteSnapshot{ConfVersion: 1})

	ctx := newTestCtx(t, "GET", "example.com", "/nowhere", "10.0.0.1:1111")
	matched, err := rt.Dispatch("/nowhere", DispatchOptions{Method: "GET"}, ctx)
	require.Error(t, err)
	require.False(t, matched)
}
