package pipeline

import (
	"testing"

	"github.com/saiset-co/sai-pipeline/types"
)

func TestRegisterDuplicateName(t *testing.T) {
	chain := NewChain(newTestLogger(), nil)

	if err := chain.Register(&types.MiddlewareEntry{Name: "audit", Logic: passLogic}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}

	err := chain.Register(&types.MiddlewareEntry{Name: "audit", Logic: passLogic})
	if !types.IsError(err, types.ErrMiddlewareDuplicateName) {
		t.Fatalf("expected duplicate name error, got %v", err)
	}

	count := 0
	for _, entry := range chain.Snapshot() {
		if entry.Name == "audit" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("chain holds %d audit entries, want 1", count)
	}
}

func TestRegisterRequiresLogic(t *testing.T) {
	chain := NewChain(newTestLogger(), nil)

	err := chain.Register(&types.MiddlewareEntry{Name: "empty"})
	if !types.IsError(err, types.ErrMiddlewareLogicIsNil) {
		t.Fatalf("expected logic-is-nil error, got %v", err)
	}
}

func TestRegisterLogicReturnOnly(t *testing.T) {
	chain := NewChain(newTestLogger(), nil)

	entry, err := chain.RegisterLogic("detached", "/api", passLogic, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry == nil || entry.Name != "detached" {
		t.Fatalf("expected a built entry, got %+v", entry)
	}
	if len(chain.Snapshot()) != 0 {
		t.Fatal("return-only registration must not touch the chain")
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"api", "/api"},
		{"/api/", "/api"},
		{"/api//users///42", "/api/users/42"},
		{"/api?page=2", "/api"},
		{"/users/{id}", "/users/:id"},
		{"{id}", "/:id"},
		{"///", "/"},
	}

	for _, tt := range tests {
		if got := NormalizeRoute(tt.in); got != tt.want {
			t.Errorf("NormalizeRoute(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTakeInbuiltDefault(t *testing.T) {
	chain := NewChain(newTestLogger(), nil)

	entry := chain.TakeInbuilt("access", haltLogic)
	if entry.Name != "access" || entry.Route != "/" {
		t.Fatalf("unexpected default entry %+v", entry)
	}

	ctx := newTestContext("GET", "/", "10.0.0.1")
	if entry.Logic(ctx) {
		t.Fatal("default logic was not used")
	}
}

func TestTakeInbuiltOverride(t *testing.T) {
	chain := NewChain(newTestLogger(), nil)

	overridden := false
	custom := func(ctx *types.RequestContext) bool {
		overridden = true
		return true
	}

	if err := chain.Register(&types.MiddlewareEntry{Name: "access", Logic: custom}); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if err := chain.Register(&types.MiddlewareEntry{Name: "other", Logic: passLogic}); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	entry := chain.TakeInbuilt("access", haltLogic)

	ctx := newTestContext("GET", "/", "10.0.0.1")
	if !entry.Logic(ctx) || !overridden {
		t.Fatal("pre-registered logic must replace the default")
	}

	for _, remaining := range chain.Snapshot() {
		if remaining.Name == "access" {
			t.Fatal("taken entry must be removed from the chain")
		}
	}
	if len(chain.Snapshot()) != 1 {
		t.Fatalf("chain holds %d entries, want 1", len(chain.Snapshot()))
	}
}
