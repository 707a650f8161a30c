package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/desertthunder/narada/internal/shared"
)

func init() {
	Register("registry_test.noop", func(ctx context.Context, wfctx, config map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}, Metadata{Description: "no-op", Category: CategorySource})
}

func TestRegister_PanicsOnInvalidCategory(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an invalid category")
		}
	}()
	Register("registry_test.bad_category", func(ctx context.Context, wfctx, config map[string]any) (map[string]any, error) {
		return nil, nil
	}, Metadata{Category: "not_a_category"})
}

func TestRegister_PanicsOnDuplicateID(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a duplicate id")
		}
	}()
	Register("registry_test.noop", func(ctx context.Context, wfctx, config map[string]any) (map[string]any, error) {
		return nil, nil
	}, Metadata{Category: CategorySource})
}

func TestGet_UnknownIDReturnsNotFound(t *testing.T) {
	_, _, err := Get("registry_test.does_not_exist")
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateCriticalNodes(t *testing.T) {
	if err := ValidateCriticalNodes([]string{"registry_test.noop"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	err := ValidateCriticalNodes([]string{"registry_test.noop", "registry_test.missing"})
	if !errors.Is(err, shared.ErrDependency) {
		t.Fatalf("expected ErrDependency, got %v", err)
	}
}

func TestValidateCriticalNodes_AllProductionNodesRegistered(t *testing.T) {
	if err := ValidateCriticalNodes(CriticalNodeIDs); err != nil {
		t.Fatalf("expected every production node id to be registered, got %v", err)
	}
}

func TestListByCategory(t *testing.T) {
	nodes := ListByCategory(CategorySource)
	found := false
	for _, n := range nodes {
		if n.ID == "registry_test.noop" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected registry_test.noop among source nodes, got %+v", nodes)
	}
}
