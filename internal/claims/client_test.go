package claims

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreatePolicyholder(t *testing.T) {
	var (
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/policyholder" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/", time.Second)
	if err := c.CreatePolicyholder(context.Background(), "tok", Policyholder{Name: "Alice Smith", Age: 20}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["name"] != "Alice Smith" || gotBody["age"] != float64(20) {
		t.Fatalf("unexpected body %v", gotBody)
	}
	if policies, ok := gotBody["policies"].([]any); !ok || len(policies) != 0 {
		t.Fatalf("expected empty policies list, got %v", gotBody["policies"])
	}
}

func TestCreatePolicyholderRequires201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if err := c.CreatePolicyholder(context.Background(), "tok", Policyholder{Name: "A B", Age: 30}); err == nil {
		t.Fatal("expected error for 200 response")
	}
}
