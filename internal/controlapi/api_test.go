package controlapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/registry"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

func init() {
	_ = logging.Initialize(logging.Config{Level: "error", Format: "text"})
}

func newServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Config{}, nil)
	_, err := reg.AddChip("test", "g1", "emulator-5554", wire.ChipDecl{Kind: wire.ChipKindBluetooth, ID: "bt0"})
	if err != nil {
		t.Fatalf("seed chip failed: %v", err)
	}
	return New(reg), reg
}

func TestListDevices(t *testing.T) {
	s, _ := newServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/devices", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	var scene registry.Scene
	if err := json.Unmarshal(w.Body.Bytes(), &scene); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(scene.Devices) != 1 || scene.Devices[0].Name != "emulator-5554" {
		t.Fatalf("unexpected scene: %+v", scene)
	}
}

func TestPatchDevice(t *testing.T) {
	s, reg := newServer(t)

	body := `{"name":"emulator-5554","device":{"visible":false,"position":{"x":1,"y":2,"z":3}}}`
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/v1/devices", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	dev := reg.List().Devices[0]
	if dev.Visible {
		t.Error("visible not patched")
	}
	if dev.Position.X != 1 || dev.Position.Y != 2 || dev.Position.Z != 3 {
		t.Errorf("position not patched: %+v", dev.Position)
	}
}

func TestPatchRadioStateByName(t *testing.T) {
	s, _ := newServer(t)

	body := `{"name":"5554","device":{"chips":[{"name":"bt0","low_energy":{"state":"OFF"}}]}}`
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/v1/devices", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestPatchUnknownDevice(t *testing.T) {
	s, _ := newServer(t)

	body := `{"name":"nope","device":{"visible":false}}`
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/v1/devices", strings.NewReader(body)))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestPatchMissingName(t *testing.T) {
	s, _ := newServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/v1/devices", strings.NewReader(`{"device":{}}`)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestReset(t *testing.T) {
	s, reg := newServer(t)

	visible := false
	if err := reg.PatchDevice("emulator-5554", registry.DevicePatch{Visible: &visible}); err != nil {
		t.Fatalf("patch failed: %v", err)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/v1/devices/reset", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if !reg.List().Devices[0].Visible {
		t.Error("reset did not restore visibility")
	}
}
