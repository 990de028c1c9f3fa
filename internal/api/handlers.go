package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/librescoot/metalfsm"
	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/node"
	"github.com/librescoot/metalfsm/states"
)

// Link points at a related resource.
type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

// MediaTypeInfo names a media type the API speaks.
type MediaTypeInfo struct {
	Base string `json:"base"`
	Type string `json:"type"`
}

// RootDocument describes an API version.
type RootDocument struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Links      []Link          `json:"links"`
	MediaTypes []MediaTypeInfo `json:"media_types"`
	Nodes      []Link          `json:"nodes"`
}

// CreateNodeRequest is the body of POST /v1/nodes.
type CreateNodeRequest struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	DriverInfo map[string]string `json:"driver_info"`
	Ports      []string          `json:"ports"`
}

// TargetRequest is the body of the state change endpoints.
type TargetRequest struct {
	Target string `json:"target"`
}

// BootDeviceRequest is the body of PUT .../management/boot_device.
type BootDeviceRequest struct {
	BootDevice string `json:"boot_device"`
	Persistent bool   `json:"persistent"`
}

// NodeStates is the state summary of a node.
type NodeStates struct {
	ProvisionState       metalfsm.StateID  `json:"provision_state"`
	TargetProvisionState metalfsm.StateID  `json:"target_provision_state,omitempty"`
	PowerState           states.PowerState `json:"power_state"`
	LastError            string            `json:"last_error,omitempty"`
	ProvisionUpdatedAt   time.Time         `json:"provision_updated_at,omitzero"`
	AvailableTargets     []string          `json:"available_targets"`
}

type nodeList struct {
	Nodes []*node.Node `json:"nodes"`
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (h *Handler) versions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"name":        "metalfsm",
		"description": "Bare metal node provisioning service",
		"default_version": map[string]any{
			"id":    Version,
			"links": []Link{{Href: baseURL(r) + "/" + Version + "/", Rel: "self"}},
		},
	})
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r)
	h.writeJSON(w, http.StatusOK, RootDocument{
		ID:     Version,
		Status: "CURRENT",
		Links: []Link{
			{Href: base + "/" + Version + "/", Rel: "self"},
			{Href: base + "/" + Version + "/graph", Rel: "describedby"},
		},
		MediaTypes: []MediaTypeInfo{{
			Base: MediaType,
			Type: "application/vnd.metalfsm.v1+json",
		}},
		Nodes: []Link{
			{Href: base + "/" + Version + "/nodes/", Rel: "self"},
			{Href: base + "/nodes/", Rel: "bookmark"},
		},
	})
}

func (h *Handler) graph(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.conductor.Machine().Describe())
}

func (h *Handler) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.conductor.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []*node.Node{}
	}
	h.writeJSON(w, http.StatusOK, nodeList{Nodes: nodes})
}

func (h *Handler) createNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Driver == "" {
		h.writeError(w, r, fmt.Errorf("%w: driver is required", ErrInvalidBody))
		return
	}
	n, err := h.conductor.Enroll(r.Context(), req.Name, req.Driver, req.DriverInfo, req.Ports)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", baseURL(r)+"/"+Version+"/nodes/"+n.UUID.String())
	h.writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.conductor.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

func (h *Handler) deleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.conductor.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) nodeStates(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	refresh := false
	if v := r.URL.Query().Get("refresh"); v != "" {
		if refresh, err = strconv.ParseBool(v); err != nil {
			h.writeError(w, r, fmt.Errorf("%w: refresh must be a boolean, got %q", ErrInvalidBody, v))
			return
		}
	}

	var n *node.Node
	if refresh {
		n, err = h.conductor.RefreshPowerState(r.Context(), id)
	} else {
		n, err = h.conductor.Get(r.Context(), id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.statesOf(n))
}

func (h *Handler) statesOf(n *node.Node) NodeStates {
	return NodeStates{
		ProvisionState:       n.ProvisionState,
		TargetProvisionState: n.TargetProvisionState,
		PowerState:           n.PowerState,
		LastError:            n.LastError,
		ProvisionUpdatedAt:   n.ProvisionUpdatedAt,
		AvailableTargets:     h.conductor.AvailableTargets(n),
	}
}

// setProvisionState drives the node synchronously. The run is detached from
// the request so a disconnecting client does not leave the node half way.
func (h *Handler) setProvisionState(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req TargetRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.conductor.Provision(context.WithoutCancel(r.Context()), id, req.Target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, h.statesOf(n))
}

func (h *Handler) deployCallback(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.conductor.Continue(context.WithoutCancel(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, h.statesOf(n))
}

// powerTargets maps the power targets accepted by the API to power states.
var powerTargets = map[string]states.PowerState{
	"on":     states.PowerOn,
	"off":    states.PowerOff,
	"reboot": states.Reboot,
}

func (h *Handler) setPowerState(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req TargetRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	target, ok := powerTargets[req.Target]
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: unknown power state %q", driver.ErrInvalidParameter, req.Target))
		return
	}
	n, err := h.conductor.SetPowerState(r.Context(), id, target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, h.statesOf(n))
}

func (h *Handler) setBootDevice(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req BootDeviceRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.conductor.SetBootDevice(r.Context(), id, driver.BootDevice(req.BootDevice), req.Persistent); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nodeID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidUUID, err)
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, errorBody{Error: err.Error(), Code: status})
}
