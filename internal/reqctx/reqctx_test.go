package reqctx

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	vars map[string]string
	set  map[string]string
}

func (f *fakeTransport) Var(name string) (string, bool) {
	v, ok := f.vars[name]
	return v, ok
}

func (f *fakeTransport) SetVar(name, value string) {
	if f.set == nil {
		f.set = make(map[string]string)
	}
	f.set[name] = value
}

func TestContext_VarResolutionOrder(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{vars: map[string]string{"args_foo": "from-transport"}}
	headers := map[string][]string{"X-Request-Id": {"abc123"}}
	query := url.Values{"foo": []string{"bar"}}

	ctx := New("GET", "example.com", "/v1/widgets", "10.0.0.1", headers, query, transport)
	ctx.Cookies = map[string]string{"session": "xyz"}

	method, ok := ctx.Var("method")
	require.True(t, ok)
	assert.Equal(t, "GET", method)

	cookie, ok := ctx.Var("cookie_session")
	require.True(t, ok)
	assert.Equal(t, "xyz", cookie)

	header, ok := ctx.Var("http_x_request_id")
	require.True(t, ok)
	assert.Equal(t, "abc123", header)

	remote, ok := ctx.Var("remote_addr")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", remote)

	arg, ok := ctx.Var("arg_foo")
	require.True(t, ok)
	assert.Equal(t, "bar", arg)

	_, ok = ctx.Var("cookie_missing")
	assert.False(t, ok)
}

func TestContext_VarMemoization(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{vars: map[string]string{"custom": "first"}}
	ctx := New("GET", "h", "/", "", nil, url.Values{}, transport)

	v1, ok := ctx.Var("custom")
	require.True(t, ok)
	assert.Equal(t, "first", v1)

	transport.vars["custom"] = "second"

	v2, ok := ctx.Var("custom")
	require.True(t, ok)
	assert.Equal(t, "first", v2, "memoized value must not change mid-request")
}

func TestContext_SetWritableVar(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	ctx := New("GET", "h", "/", "", nil, url.Values{}, transport)

	ctx.Set("upstream_host", "backend.internal")
	assert.Equal(t, "backend.internal", transport.set["upstream_host"])

	v, ok := ctx.Var("upstream_host")
	require.True(t, ok)
	assert.Equal(t, "backend.internal", v)
}

func TestContext_SetNonWritableVarDoesNotFanOut(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	ctx := New("GET", "h", "/", "", nil, url.Values{}, transport)

	ctx.Set("some_internal_var", "value")
	_, propagated := transport.set["some_internal_var"]
	assert.False(t, propagated)
}
