package mesh_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/mesh/hub"
	"github.com/tailored-agentic-units/mesh/mesh"
	"github.com/tailored-agentic-units/mesh/messaging"
)

func noopFactory(ctx context.Context, parent *hub.Hub, node mesh.Node, addr messaging.Address) (*hub.Hub, error) {
	return hub.New(ctx, addr, parent.Config()), nil
}

func TestCatalog_TableThenFactories(t *testing.T) {
	var calls []string
	c := mesh.NewCatalog(mesh.WithFactories(
		func(kind, id string) (mesh.Node, bool) {
			calls = append(calls, "first")
			return mesh.Node{}, false
		},
		mesh.KindFactory("workspace", mesh.Node{ModuleReference: "workspace"}),
		func(kind, id string) (mesh.Node, bool) {
			calls = append(calls, "never")
			return mesh.Node{AddressKind: kind, AddressID: id}, true
		},
	))

	registered := mesh.Node{AddressKind: "workspace", AddressID: "orders", ModuleReference: "static"}
	if err := c.Update(registered); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, ok, _ := c.GetNode(context.Background(), "workspace", "orders")
	if !ok || got != registered {
		t.Errorf("GetNode() = %v, %v, want registered node", got, ok)
	}
	if len(calls) != 0 {
		t.Errorf("factories consulted on table hit: %v", calls)
	}

	got, ok, _ = c.GetNode(context.Background(), "workspace", "products")
	want := mesh.Node{AddressKind: "workspace", AddressID: "products", ModuleReference: "workspace"}
	if !ok || got != want {
		t.Errorf("GetNode() = %v, %v, want %v", got, ok, want)
	}
	if diff := cmp.Diff([]string{"first"}, calls); diff != "" {
		t.Errorf("factory order mismatch (-want +got):\n%s", diff)
	}
}

func TestCatalog_Miss(t *testing.T) {
	c := mesh.NewCatalog()
	if _, ok, _ := c.GetNode(context.Background(), "nothing", "here"); ok {
		t.Error("GetNode() on empty catalog should miss")
	}
}

func TestCatalog_UpdateReplaces(t *testing.T) {
	c := mesh.NewCatalog()
	_ = c.Update(mesh.Node{AddressKind: "a", AddressID: "1", BasePath: "/v1"})
	_ = c.Update(mesh.Node{AddressKind: "a", AddressID: "1", BasePath: "/v2"})

	got, _, _ := c.GetNode(context.Background(), "a", "1")
	if got.BasePath != "/v2" {
		t.Errorf("BasePath = %q, want /v2", got.BasePath)
	}
	if len(c.Nodes()) != 1 {
		t.Errorf("Nodes() len = %d, want 1", len(c.Nodes()))
	}

	if err := c.Update(mesh.Node{AddressKind: "a"}); !errors.Is(err, mesh.ErrInvalidNode) {
		t.Errorf("Update() error = %v, want ErrInvalidNode", err)
	}
}

func TestCatalog_Initialize(t *testing.T) {
	loader := mesh.NewLoader()
	_ = loader.Provide("orders", mesh.ModuleFunc(func(r *mesh.Registration) error {
		r.AddNode(mesh.Node{AddressKind: "workspace", AddressID: "orders"})
		r.AddNode(mesh.Node{AddressKind: "workspace", AddressID: "archive", ModuleReference: "cold"})
		return r.AddHubFactory("workspace", noopFactory)
	}))

	c := mesh.NewCatalog()
	if err := c.Initialize(context.Background(), loader, "orders"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	want := []mesh.Node{
		{AddressKind: "workspace", AddressID: "archive", ModuleReference: "cold"},
		{AddressKind: "workspace", AddressID: "orders", ModuleReference: "orders"},
	}
	if diff := cmp.Diff(want, c.Nodes()); diff != "" {
		t.Errorf("Nodes() mismatch (-want +got):\n%s", diff)
	}

	if err := c.Initialize(context.Background(), loader, "missing"); err != nil {
		t.Errorf("second Initialize() error = %v, want first result", err)
	}
}

func TestCatalog_GetNodeWaitsForInitialize(t *testing.T) {
	release := make(chan struct{})
	loader := mesh.NewLoader()
	_ = loader.Provide("slow", mesh.ModuleFunc(func(r *mesh.Registration) error {
		<-release
		r.AddNode(mesh.Node{AddressKind: "workspace", AddressID: "orders"})
		return nil
	}))

	c := mesh.NewCatalog()
	initialized := make(chan error, 1)
	go func() { initialized <- c.Initialize(context.Background(), loader, "slow") }()

	// Once the module blocks inside Initialize, a short lookup gives up.
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, _, err := c.GetNode(ctx, "workspace", "orders")
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}

	found := make(chan bool, 1)
	go func() {
		_, ok, _ := c.GetNode(context.Background(), "workspace", "orders")
		found <- ok
	}()
	close(release)

	select {
	case ok := <-found:
		if !ok {
			t.Error("GetNode() during Initialize missed the declared node")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetNode() did not return after Initialize")
	}
	if err := <-initialized; err != nil {
		t.Errorf("Initialize() error = %v", err)
	}
}

func TestCatalog_InitializeMissingModule(t *testing.T) {
	c := mesh.NewCatalog()
	err := c.Initialize(context.Background(), mesh.NewLoader(), "ghost")
	if !errors.Is(err, mesh.ErrModuleNotFound) {
		t.Errorf("Initialize() error = %v, want ErrModuleNotFound", err)
	}
}

func TestLoader_LoadsOnceUnderConcurrency(t *testing.T) {
	loader := mesh.NewLoader()
	var registrations atomic.Int32
	_ = loader.Provide("slow", mesh.ModuleFunc(func(r *mesh.Registration) error {
		registrations.Add(1)
		time.Sleep(10 * time.Millisecond)
		return r.AddHubFactory("thing", noopFactory)
	}))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := loader.Load(context.Background(), "slow")
			if err != nil {
				t.Errorf("Load() error = %v", err)
				return
			}
			if _, ok := m.HubFactory("thing"); !ok {
				t.Error("HubFactory(thing) missing")
			}
		}()
	}
	wg.Wait()

	if registrations.Load() != 1 {
		t.Errorf("registrations = %d, want 1", registrations.Load())
	}
	if loader.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", loader.Loads())
	}
}

func TestLoader_FailuresAreNotCached(t *testing.T) {
	loader := mesh.NewLoader()
	var attempts atomic.Int32
	_ = loader.Provide("flaky", mesh.ModuleFunc(func(r *mesh.Registration) error {
		if attempts.Add(1) == 1 {
			return errors.New("disk on fire")
		}
		return nil
	}))

	if _, err := loader.Load(context.Background(), "flaky"); !errors.Is(err, mesh.ErrModuleLoad) {
		t.Fatalf("Load() error = %v, want ErrModuleLoad", err)
	}
	if _, err := loader.Load(context.Background(), "flaky"); err != nil {
		t.Errorf("second Load() error = %v, want success", err)
	}
}

func TestLoader_ProvideAndFactories(t *testing.T) {
	loader := mesh.NewLoader()
	if err := loader.Provide("a", mesh.ModuleFunc(func(r *mesh.Registration) error { return nil })); err != nil {
		t.Fatalf("Provide() error = %v", err)
	}
	if err := loader.Provide("a", mesh.ModuleFunc(func(r *mesh.Registration) error { return nil })); !errors.Is(err, mesh.ErrDuplicateModule) {
		t.Errorf("Provide() duplicate error = %v, want ErrDuplicateModule", err)
	}

	_ = loader.Provide("dup", mesh.ModuleFunc(func(r *mesh.Registration) error {
		_ = r.AddHubFactory("k", noopFactory)
		return r.AddHubFactory("k", noopFactory)
	}))
	if _, err := loader.Load(context.Background(), "dup"); !errors.Is(err, mesh.ErrDuplicateFactory) {
		t.Errorf("Load(dup) error = %v, want ErrDuplicateFactory", err)
	}

	_ = loader.Provide("proxy", mesh.ModuleFunc(func(r *mesh.Registration) error {
		r.AddDefaultHubFactory(noopFactory)
		return nil
	}))
	m, err := loader.Load(context.Background(), "proxy")
	if err != nil {
		t.Fatalf("Load(proxy) error = %v", err)
	}
	if _, ok := m.HubFactory("anything"); !ok {
		t.Error("default factory should serve any kind")
	}

	a, _ := loader.Load(context.Background(), "a")
	if _, ok := a.HubFactory("anything"); ok {
		t.Error("module without factories should not serve kinds")
	}
	if diff := cmp.Diff([]string{"a", "dup", "proxy"}, loader.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

const nodesHCL = `
node "workspace" "orders" {
  module       = "workspace"
  content_path = "${env.DATA_DIR}/orders.json"
}

node "remote" "billing" {
  module    = "remote"
  base_path = "http://billing.internal:8080"
}
`

func TestParseNodesHCL(t *testing.T) {
	nodes, err := mesh.ParseNodesHCL([]byte(nodesHCL), "nodes.hcl", map[string]string{"DATA_DIR": "/data"})
	if err != nil {
		t.Fatalf("ParseNodesHCL() error = %v", err)
	}

	want := []mesh.Node{
		{AddressKind: "workspace", AddressID: "orders", ModuleReference: "workspace", ContentPath: "/data/orders.json"},
		{AddressKind: "remote", AddressID: "billing", ModuleReference: "remote", BasePath: "http://billing.internal:8080"},
	}
	if diff := cmp.Diff(want, nodes); diff != "" {
		t.Errorf("ParseNodesHCL() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseNodesHCL_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `node "a" {`},
		{"unknown env", `node "a" "b" { module = env.MISSING }`},
		{"duplicate", "node \"a\" \"b\" {}\nnode \"a\" \"b\" {}"},
		{"unknown attribute", `node "a" "b" { colour = "red" }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := mesh.ParseNodesHCL([]byte(tt.src), "bad.hcl", nil); err == nil {
				t.Error("ParseNodesHCL() should fail")
			}
		})
	}
}

func TestLoadNodesHCL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.hcl")
	if err := os.WriteFile(path, []byte(nodesHCL), 0o644); err != nil {
		t.Fatal(err)
	}

	nodes, err := mesh.LoadNodesHCL(path, map[string]string{"DATA_DIR": "/srv"})
	if err != nil {
		t.Fatalf("LoadNodesHCL() error = %v", err)
	}
	if len(nodes) != 2 || nodes[0].ContentPath != "/srv/orders.json" {
		t.Errorf("LoadNodesHCL() = %v", nodes)
	}

	if _, err := mesh.LoadNodesHCL(filepath.Join(t.TempDir(), "missing.hcl"), nil); err == nil {
		t.Error("LoadNodesHCL() on missing file should fail")
	}
}
