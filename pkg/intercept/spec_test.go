package intercept

import (
	"testing"

	"github.com/Combine-Capital/cqcache/pkg/errors"
)

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{
			name: "minimal cacheable",
			spec: Spec{Kind: KindCacheable, Names: []string{"users"}},
		},
		{
			name: "cacheable with lock and ttl",
			spec: Spec{
				Kind:            KindCacheable,
				Names:           []string{"users"},
				Key:             "'profile:' + userId",
				TTL:             "30m",
				DistributedLock: true,
			},
		},
		{
			name: "put with override",
			spec: Spec{Kind: KindPut, Names: []string{"users"}, Override: true},
		},
		{
			name: "evict all entries with cascade",
			spec: Spec{
				Kind:           KindEvict,
				Names:          []string{"users"},
				AllEntries:     true,
				CascadeTargets: []string{"profiles"},
			},
		},
		{
			name:    "unknown kind",
			spec:    Spec{Kind: Kind(42), Names: []string{"users"}},
			wantErr: true,
		},
		{
			name:    "no namespaces",
			spec:    Spec{Kind: KindCacheable},
			wantErr: true,
		},
		{
			name:    "empty namespace",
			spec:    Spec{Kind: KindCacheable, Names: []string{""}},
			wantErr: true,
		},
		{
			name:    "all entries on cacheable",
			spec:    Spec{Kind: KindCacheable, Names: []string{"users"}, AllEntries: true},
			wantErr: true,
		},
		{
			name:    "before invocation on put",
			spec:    Spec{Kind: KindPut, Names: []string{"users"}, BeforeInvocation: true},
			wantErr: true,
		},
		{
			name:    "cascade on cacheable",
			spec:    Spec{Kind: KindCacheable, Names: []string{"users"}, CascadeTargets: []string{"x"}},
			wantErr: true,
		},
		{
			name:    "override on evict",
			spec:    Spec{Kind: KindEvict, Names: []string{"users"}, Override: true},
			wantErr: true,
		},
		{
			name:    "unless on evict",
			spec:    Spec{Kind: KindEvict, Names: []string{"users"}, Unless: "result == null"},
			wantErr: true,
		},
		{
			name:    "negative ttl seconds",
			spec:    Spec{Kind: KindCacheable, Names: []string{"users"}, TTLSeconds: -1},
			wantErr: true,
		},
		{
			name:    "negative lock wait",
			spec:    Spec{Kind: KindCacheable, Names: []string{"users"}, LockWait: -1},
			wantErr: true,
		},
		{
			name:    "empty cascade target",
			spec:    Spec{Kind: KindEvict, Names: []string{"users"}, CascadeTargets: []string{""}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if !errors.IsInvalidInput(err) {
					t.Errorf("expected invalid input error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestNewRegistration(t *testing.T) {
	cacheable := Spec{Kind: KindCacheable, Names: []string{"users"}}
	put := Spec{Kind: KindPut, Names: []string{"users"}}
	evict := Spec{Kind: KindEvict, Names: []string{"users"}}

	t.Run("valid composed registration", func(t *testing.T) {
		reg, err := NewRegistration("UserService.Update", ShapeSingle,
			Spec{Kind: KindEvict, Names: []string{"audit"}, BeforeInvocation: true},
			cacheable,
			put,
			evict,
		)
		if err != nil {
			t.Fatalf("NewRegistration failed: %v", err)
		}
		if reg.CallSite != "UserService.Update" {
			t.Errorf("call site = %q", reg.CallSite)
		}
		if len(reg.Specs) != 4 {
			t.Errorf("expected 4 specs, got %d", len(reg.Specs))
		}
	})

	t.Run("empty call site", func(t *testing.T) {
		if _, err := NewRegistration("", ShapeSingle, cacheable); err == nil {
			t.Fatal("expected error for empty call site")
		}
	})

	t.Run("no specs", func(t *testing.T) {
		if _, err := NewRegistration("Svc.Op", ShapeSingle); err == nil {
			t.Fatal("expected error for empty spec list")
		}
	})

	t.Run("invalid spec rejected", func(t *testing.T) {
		bad := Spec{Kind: KindCacheable}
		if _, err := NewRegistration("Svc.Op", ShapeSingle, bad); err == nil {
			t.Fatal("expected error for invalid spec")
		}
	})

	t.Run("cacheable on unbounded stream", func(t *testing.T) {
		_, err := NewRegistration("Feed.Subscribe", ShapeUnboundedStream, cacheable)
		if err == nil {
			t.Fatal("expected registration to fail")
		}
		var ucErr *UncacheableStreamError
		if !errors.As(err, &ucErr) {
			t.Fatalf("expected UncacheableStreamError, got %v", err)
		}
		if ucErr.CallSite != "Feed.Subscribe" {
			t.Errorf("call site = %q", ucErr.CallSite)
		}
	})

	t.Run("put on unbounded stream", func(t *testing.T) {
		var ucErr *UncacheableStreamError
		_, err := NewRegistration("Feed.Subscribe", ShapeUnboundedStream, put)
		if !errors.As(err, &ucErr) {
			t.Fatalf("expected UncacheableStreamError, got %v", err)
		}
	})

	t.Run("evict on unbounded stream allowed", func(t *testing.T) {
		if _, err := NewRegistration("Feed.Subscribe", ShapeUnboundedStream, evict); err != nil {
			t.Fatalf("evict-only registration should succeed: %v", err)
		}
	})

	t.Run("cacheable on finite stream allowed", func(t *testing.T) {
		if _, err := NewRegistration("Feed.List", ShapeStream, cacheable); err != nil {
			t.Fatalf("finite stream registration should succeed: %v", err)
		}
	})
}

func TestKindString(t *testing.T) {
	if KindCacheable.String() != "cacheable" || KindPut.String() != "put" || KindEvict.String() != "evict" {
		t.Error("unexpected kind names")
	}
	if ShapeSingle.String() != "single" || ShapeStream.String() != "stream" || ShapeUnboundedStream.String() != "unbounded_stream" {
		t.Error("unexpected shape names")
	}
}
