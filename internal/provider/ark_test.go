package provider

import (
	"context"
	"testing"
)

func TestArkProvider_MissingKey(t *testing.T) {
	t.Setenv("ARK_API_KEY", "")

	_, err := NewArkProvider(context.Background(), &ArkConfig{})
	if err == nil {
		t.Fatal("Expected error without API key")
	}
}

func TestArkProvider_MissingModel(t *testing.T) {
	t.Setenv("ARK_MODEL_ID", "")

	_, err := NewArkProvider(context.Background(), &ArkConfig{APIKey: "test-key"})
	if err == nil {
		t.Fatal("Expected error without endpoint ID")
	}
}

func TestArkProvider_Properties(t *testing.T) {
	provider, err := NewArkProvider(context.Background(), &ArkConfig{
		APIKey: "test-key",
		Model:  "ep-test-endpoint",
	})
	if err != nil {
		t.Fatalf("Failed to create ARK provider: %v", err)
	}

	if provider.ID() != "ark" {
		t.Errorf("Expected ID 'ark', got '%s'", provider.ID())
	}
	if provider.Name() != "ARK" {
		t.Errorf("Expected Name 'ARK', got '%s'", provider.Name())
	}

	models := provider.Models()
	if len(models) != 1 || models[0].ID != "ep-test-endpoint" {
		t.Errorf("Expected the endpoint as the single model, got %+v", models)
	}
}
