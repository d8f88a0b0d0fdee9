package services_test

import (
	"context"
	"testing"

	"kontext/internal/services"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, 42)
	ctx = services.WithChatID(ctx, 9000)
	ctx = services.WithComponent(ctx, "worker")
	ctx = services.WithRequestID(ctx, "corr-7")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("JobIDFromContext = %v, %v", id, ok)
	}
	if id, ok := services.ChatIDFromContext(ctx); !ok || id != 9000 {
		t.Fatalf("ChatIDFromContext = %v, %v", id, ok)
	}
	if component, ok := services.ComponentFromContext(ctx); !ok || component != "worker" {
		t.Fatalf("ComponentFromContext = %v, %v", component, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "corr-7" {
		t.Fatalf("RequestIDFromContext = %v, %v", rid, ok)
	}
}

func TestContextAbsentValues(t *testing.T) {
	ctx := context.Background()
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("bare context should carry no job id")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("bare context should carry no request id")
	}
}

func TestComponentBlankPreservesContext(t *testing.T) {
	ctx := services.WithComponent(context.Background(), "")
	if _, ok := services.ComponentFromContext(ctx); ok {
		t.Fatal("blank component should not be stored")
	}
}
