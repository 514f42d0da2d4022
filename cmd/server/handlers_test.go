package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal"
	"github.com/lychee-technology/ria/internal/httpclient"
	"github.com/lychee-technology/ria/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const typeDir = "../../internal/testdata/types"

type testServer struct {
	*httptest.Server
	registry ria.TypeRegistry
	store    *internal.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	registry, err := internal.NewFileTypeRegistry(typeDir)
	require.NoError(t, err)
	store := internal.NewMemoryStore()
	service := internal.NewDomainService(registry, store, internal.NewSchemaValidator())
	registerBuiltins(service)

	server := NewServer(service)
	server.RegisterRoutes()
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, registry: registry, store: store}
}

func (ts *testServer) client() *httpclient.Client {
	cfg := ria.DefaultConfig().Client
	cfg.BaseURL = ts.URL
	cfg.Retry.MaxAttempts = 1
	return httpclient.New(&cfg, ts.registry)
}

func (ts *testServer) domainContext() ria.DomainContext {
	return internal.NewDomainContext(ts.client(), internal.DomainContextOptions{})
}

func (ts *testServer) post(t *testing.T, path, body string) (*http.Response, wire.ErrorResponse) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var errResp wire.ErrorResponse
	if resp.StatusCode >= 400 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	}
	return resp, errResp
}

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not complete")
	}
}

func loadCustomers(t *testing.T, dc ria.DomainContext) []*ria.Entity {
	t.Helper()
	op := dc.Load(context.Background(), &ria.EntityQuery{EntityType: "Customer"}, ria.LoadMergeIntoCurrent, nil, nil)
	waitFor(t, op.Done())
	require.NoError(t, op.Error())
	return op.Entities()
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body struct {
		Status string   `json:"status"`
		Types  []string `json:"types"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, []string{"Customer", "Order"}, body.Types)
}

func TestHandlers_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		code   int
		status ria.OperationErrorStatus
	}{
		{name: "unknown type", path: "/Invoice/query/All", body: `{}`, code: http.StatusNotFound, status: ria.StatusNotFound},
		{name: "unknown query", path: "/Customer/query/ByRegion", body: `{}`, code: http.StatusNotFound, status: ria.StatusNotFound},
		{name: "unknown invoke", path: "/invoke/Archive", body: `{}`, code: http.StatusNotFound, status: ria.StatusNotFound},
		{name: "malformed body", path: "/submit", body: `{"changeSet":`, code: http.StatusBadRequest, status: ria.StatusServerError},
		{name: "empty change set", path: "/submit", body: `{"changeSet":[]}`, code: http.StatusBadRequest, status: ria.StatusServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, errResp := ts.post(t, tt.path, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, tt.status, errResp.Error.Status)
			assert.NotEmpty(t, errResp.Error.Message)
			assert.Empty(t, errResp.Error.StackTrace)
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		payload ria.ErrorPayload
		want    int
	}{
		{ria.ErrorPayload{Status: ria.StatusNotFound}, http.StatusNotFound},
		{ria.ErrorPayload{Status: ria.StatusUnauthorized}, http.StatusUnauthorized},
		{ria.ErrorPayload{Status: ria.StatusNotSupported}, http.StatusNotImplemented},
		{ria.ErrorPayload{Status: ria.StatusConflicts}, http.StatusConflict},
		{ria.ErrorPayload{Status: ria.StatusValidationFailed}, http.StatusUnprocessableEntity},
		{ria.ErrorPayload{Status: ria.StatusServerError}, http.StatusInternalServerError},
		{ria.ErrorPayload{Status: ria.StatusNotFound, Fatal: true}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatus(tt.payload), tt.payload.Status)
	}
}

func TestRoundTrip_LoadSubmitConflict(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	customer, err := ts.registry.GetEntityType("Customer")
	require.NoError(t, err)

	writer := ts.domainContext()
	added := ria.NewEntity(customer, map[string]any{"name": "Ada", "email": "ada@example.com"})
	require.NoError(t, writer.Container().Add(added))
	op := writer.SubmitChanges(ctx, nil, nil)
	waitFor(t, op.Done())
	require.NoError(t, op.Error())
	assert.Equal(t, ria.EntityStateUnmodified, added.State())
	assert.NotEmpty(t, added.Get("id"), "server generates the key")
	assert.Equal(t, 1, added.Get("version"))
	assert.Equal(t, "standard", added.Get("tier"))

	first := ts.domainContext()
	second := ts.domainContext()
	a := loadCustomers(t, first)
	b := loadCustomers(t, second)
	require.Len(t, a, 1)
	require.Len(t, b, 1)

	require.NoError(t, a[0].Set("name", "Ada Lovelace"))
	op = first.SubmitChanges(ctx, nil, nil)
	waitFor(t, op.Done())
	require.NoError(t, op.Error())
	assert.Equal(t, 2, a[0].Get("version"))

	require.NoError(t, b[0].Set("email", "countess@example.com"))
	op = second.SubmitChanges(ctx, nil, nil)
	waitFor(t, op.Done())
	var soe *ria.SubmitOperationError
	require.ErrorAs(t, op.Error(), &soe)
	assert.Equal(t, ria.StatusConflicts, soe.Status)
	require.NotNil(t, b[0].Conflict())
	members, err := b[0].Conflict().PropertyNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, members)

	require.NoError(t, b[0].Conflict().Resolve())
	op = second.SubmitChanges(ctx, nil, nil)
	waitFor(t, op.Done())
	require.NoError(t, op.Error())
	assert.Equal(t, "Ada", b[0].Get("name"), "the resolved entity keeps its local values")
	assert.Equal(t, "countess@example.com", b[0].Get("email"))
	assert.Equal(t, 3, b[0].Get("version"))
}

func TestRoundTrip_ValidationFailed(t *testing.T) {
	ts := newTestServer(t)
	customer, err := ts.registry.GetEntityType("Customer")
	require.NoError(t, err)

	dc := ts.domainContext()
	bad := ria.NewEntity(customer, map[string]any{"name": "Ada", "email": "not-an-email"})
	require.NoError(t, dc.Container().Add(bad))
	op := dc.SubmitChanges(context.Background(), nil, nil)
	waitFor(t, op.Done())

	var soe *ria.SubmitOperationError
	require.ErrorAs(t, op.Error(), &soe)
	assert.Equal(t, ria.StatusValidationFailed, soe.Status)
	assert.Equal(t, []*ria.Entity{bad}, soe.EntitiesInError())
	assert.Contains(t, bad.ValidationErrors().MembersInError(), "email")
	assert.Equal(t, ria.EntityStateNew, bad.State())
}

func TestRoundTrip_CustomMethod(t *testing.T) {
	ts := newTestServer(t)
	customer, err := ts.registry.GetEntityType("Customer")
	require.NoError(t, err)

	dc := ts.domainContext()
	require.NoError(t, dc.Container().Add(ria.NewEntity(customer, map[string]any{"name": "Ada"})))
	op := dc.SubmitChanges(context.Background(), nil, nil)
	waitFor(t, op.Done())
	require.NoError(t, op.Error())

	editor := ts.domainContext()
	loaded := loadCustomers(t, editor)
	require.Len(t, loaded, 1)
	entity := loaded[0]
	require.NoError(t, entity.InvokeAction("Promote", "gold"))
	assert.Equal(t, ria.EntityStateModified, entity.State())

	op = editor.SubmitChanges(context.Background(), nil, nil)
	waitFor(t, op.Done())
	require.NoError(t, op.Error())
	assert.Equal(t, ria.EntityStateUnmodified, entity.State())
	assert.Empty(t, entity.Actions())
	assert.Equal(t, 2, entity.Get("version"))
}

func TestRoundTrip_CountInvoke(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.store.Apply(ctx, []internal.Mutation{
		{Kind: internal.MutationInsert, Record: &internal.EntityRecord{TypeName: "Order", Key: "{o1}", Version: 1, Values: map[string]any{"id": "o1", "customerId": "c1", "version": 1}}},
		{Kind: internal.MutationInsert, Record: &internal.EntityRecord{TypeName: "Order", Key: "{o2}", Version: 1, Values: map[string]any{"id": "o2", "customerId": "c1", "version": 1}}},
	}))
	client := ts.client()

	res, err := client.Invoke(ctx, &ria.InvokeArgs{OperationName: CountOperation, Parameters: map[string]any{"entityType": "Order"}})
	require.NoError(t, err)
	assert.Empty(t, res.ValidationErrors)
	raw, ok := res.ReturnValue.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `2`, string(raw))

	res, err = client.Invoke(ctx, &ria.InvokeArgs{OperationName: CountOperation})
	require.NoError(t, err)
	require.Len(t, res.ValidationErrors, 1)
	assert.Equal(t, []string{"entityType"}, res.ValidationErrors[0].MemberNames)

	_, err = client.Invoke(ctx, &ria.InvokeArgs{OperationName: CountOperation, Parameters: map[string]any{"entityType": "Invoice"}})
	var doe *ria.DomainOperationError
	require.ErrorAs(t, err, &doe)
	assert.Equal(t, ria.StatusNotFound, doe.Status)
}

func TestRoundTrip_QueryPaging(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	var muts []internal.Mutation
	for _, id := range []string{"c1", "c2", "c3"} {
		muts = append(muts, internal.Mutation{Kind: internal.MutationInsert, Record: &internal.EntityRecord{
			TypeName: "Customer", Key: "{" + id + "}", Version: 1,
			Values: map[string]any{"id": id, "name": id, "tier": "standard", "version": 1},
		}})
	}
	require.NoError(t, ts.store.Apply(ctx, muts))

	res, err := ts.client().Query(ctx, &ria.EntityQuery{EntityType: "Customer", Skip: 1, Take: 1, IncludeTotalCount: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "c2", res.Entities[0].Get("id"))
}
