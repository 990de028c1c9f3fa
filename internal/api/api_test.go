package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librescoot/metalfsm"
	"github.com/librescoot/metalfsm/internal/api"
	"github.com/librescoot/metalfsm/internal/conductor"
	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/driver/fake"
	"github.com/librescoot/metalfsm/internal/logger"
	"github.com/librescoot/metalfsm/internal/node"
	"github.com/librescoot/metalfsm/states"
)

type testAPI struct {
	srv *httptest.Server
	drv *fake.Driver
}

func newTestAPI(t *testing.T, opts ...api.Option) *testAPI {
	t.Helper()
	drv := fake.New()
	c, err := conductor.New(node.NewMemoryStore(), driver.NewRegistry(drv.Driver()),
		conductor.WithLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	opts = append([]api.Option{api.WithLogger(logger.Discard())}, opts...)
	srv := httptest.NewServer(api.NewHandler(c, opts...).Router())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, drv: drv}
}

func (a *testAPI) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) enroll(t *testing.T) node.Node {
	t.Helper()
	var n node.Node
	code := a.do(t, http.MethodPost, "/v1/nodes", `{"name":"n0","driver":"fake","ports":["p1"]}`, &n)
	require.Equal(t, http.StatusCreated, code)
	return n
}

func TestRootDocument(t *testing.T) {
	a := newTestAPI(t)

	var doc api.RootDocument
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1", "", &doc))
	assert.Equal(t, "v1", doc.ID)
	assert.Equal(t, "application/json", doc.MediaTypes[0].Base)
	assert.NotEmpty(t, doc.Links)

	var versions map[string]any
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/", "", &versions))
	assert.Contains(t, versions, "default_version")
}

func TestGraph(t *testing.T) {
	a := newTestAPI(t)

	var d metalfsm.Description
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/graph", "", &d))
	assert.Equal(t, states.NoState, d.Start)
	assert.Len(t, d.States, 10)
	assert.Len(t, d.Transitions, 20)
}

func TestNodeLifecycle(t *testing.T) {
	a := newTestAPI(t)
	n := a.enroll(t)
	assert.Equal(t, states.NoState, n.ProvisionState)
	base := "/v1/nodes/" + n.UUID.String()

	var st api.NodeStates
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, base+"/states", "", &st))
	assert.Equal(t, []string{conductor.TargetActive}, st.AvailableTargets)

	require.Equal(t, http.StatusAccepted, a.do(t, http.MethodPut, base+"/states/provision", `{"target":"active"}`, &st))
	assert.Equal(t, states.Active, st.ProvisionState)
	assert.Equal(t, []string{conductor.TargetDeleted, conductor.TargetRebuild}, st.AvailableTargets)

	var list struct {
		Nodes []node.Node `json:"nodes"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/nodes", "", &list))
	require.Len(t, list.Nodes, 1)
	assert.Equal(t, states.Active, list.Nodes[0].ProvisionState)

	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodDelete, base, "", nil))

	require.Equal(t, http.StatusAccepted, a.do(t, http.MethodPut, base+"/states/provision", `{"target":"deleted"}`, &st))
	assert.Equal(t, states.NoState, st.ProvisionState)

	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, base, "", nil))
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, base, "", nil))
}

func TestDeployCallback(t *testing.T) {
	a := newTestAPI(t)
	a.drv.Set(func(d *fake.Driver) { d.DeployStatus = driver.DeployWaiting })
	n := a.enroll(t)
	base := "/v1/nodes/" + n.UUID.String()

	var st api.NodeStates
	require.Equal(t, http.StatusAccepted, a.do(t, http.MethodPut, base+"/states/provision", `{"target":"active"}`, &st))
	assert.Equal(t, states.DeployWait, st.ProvisionState)
	assert.Equal(t, states.DeployDone, st.TargetProvisionState)

	require.Equal(t, http.StatusAccepted, a.do(t, http.MethodPost, base+"/callback", "", &st))
	assert.Equal(t, states.Active, st.ProvisionState)

	// A second callback finds nothing waiting.
	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, base+"/callback", "", nil))
}

func TestPowerAndBootDevice(t *testing.T) {
	a := newTestAPI(t)
	n := a.enroll(t)
	base := "/v1/nodes/" + n.UUID.String()

	var st api.NodeStates
	require.Equal(t, http.StatusAccepted, a.do(t, http.MethodPut, base+"/states/power", `{"target":"on"}`, &st))
	assert.Equal(t, states.PowerOn, st.PowerState)

	require.Equal(t, http.StatusAccepted, a.do(t, http.MethodPut, base+"/states/power", `{"target":"off"}`, &st))
	assert.Equal(t, states.PowerOff, st.PowerState)

	require.Equal(t, http.StatusAccepted, a.do(t, http.MethodPut, base+"/states/power", `{"target":"reboot"}`, &st))
	assert.Equal(t, states.PowerOn, st.PowerState)

	// Internal power state names are not API targets.
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, base+"/states/power", `{"target":"power on"}`, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, base+"/states/power", `{"target":"sideways"}`, nil))

	assert.Equal(t, http.StatusNoContent,
		a.do(t, http.MethodPut, base+"/management/boot_device", `{"boot_device":"pxe","persistent":true}`, nil))
	assert.Equal(t, http.StatusBadRequest,
		a.do(t, http.MethodPut, base+"/management/boot_device", `{"boot_device":"floppy"}`, nil))
}

func TestRefreshPowerState(t *testing.T) {
	a := newTestAPI(t)
	n := a.enroll(t)
	base := "/v1/nodes/" + n.UUID.String()

	var st api.NodeStates
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, base+"/states", "", &st))
	assert.Equal(t, states.PowerUnknown, st.PowerState)
	assert.NotContains(t, a.drv.Calls(), "power_state")

	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, base+"/states?refresh=true", "", &st))
	assert.Equal(t, states.PowerOff, st.PowerState)
	assert.Contains(t, a.drv.Calls(), "power_state")

	a.drv.Set(func(f *fake.Driver) { f.PowerErr = errors.New("bmc unreachable") })
	assert.Equal(t, http.StatusInternalServerError, a.do(t, http.MethodGet, base+"/states?refresh=1", "", nil))

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, base+"/states?refresh=maybe", "", nil))
}

func TestBadRequests(t *testing.T) {
	a := newTestAPI(t)
	n := a.enroll(t)
	base := "/v1/nodes/" + n.UUID.String()

	var body struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/nodes/not-a-uuid", "", &body))
	assert.Equal(t, http.StatusBadRequest, body.Code)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/nodes", `{"name":"x"}`, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/nodes", `{"driver":"ipmi"}`, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/nodes", `{"driver":"fake","bogus":1}`, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, base+"/states/provision", `{"target":"sideways"}`, nil))
	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPut, base+"/states/provision", `{"target":"deleted"}`, nil))
}

func TestHealthChecks(t *testing.T) {
	notReady := errors.New("redis down")
	a := newTestAPI(t, api.WithReadinessCheck(func(context.Context) error { return notReady }))

	resp, err := http.Get(a.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(a.srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServerRunStopsOnCancel(t *testing.T) {
	s := api.NewServer("127.0.0.1:0", api.WithServerLogger(logger.Discard()), api.WithShutdownTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, http.NotFoundHandler()) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, s.Shutdown(context.Background()))
}
