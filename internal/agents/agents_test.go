package agents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRegistry_FindForIntent(t *testing.T) {
	r := NewRegistry([]types.AgentRegistration{
		{Name: "billing-agent", Capabilities: []string{"payment_issue", "refund_request"}, Endpoint: "http://billing"},
		{Name: "kb-agent", Capabilities: []string{"knowledge_query"}, Endpoint: "http://kb"},
	}, testLogger())

	reg, ok := r.FindForIntent("refund_request")
	if !ok {
		t.Fatal("expected an agent for refund_request")
	}
	if reg.Name != "billing-agent" {
		t.Errorf("expected billing-agent, got %s", reg.Name)
	}

	if _, ok := r.FindForIntent("create_ticket"); ok {
		t.Error("create_ticket is local, no agent should match")
	}
}

func TestRegistry_UnhealthyAgentsSkipped(t *testing.T) {
	r := NewRegistry([]types.AgentRegistration{
		{Name: "billing-agent", Capabilities: []string{"payment_issue"}, Endpoint: "http://billing"},
	}, testLogger())

	r.SetHealth("billing-agent", false)
	if _, ok := r.FindForIntent("payment_issue"); ok {
		t.Error("unhealthy agents must not receive delegations")
	}

	r.SetHealth("billing-agent", true)
	if _, ok := r.FindForIntent("payment_issue"); !ok {
		t.Error("recovered agent should receive delegations again")
	}
}

func TestClient_Invoke(t *testing.T) {
	var received Task
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode task: %v", err)
		}
		json.NewEncoder(w).Encode(TaskResult{Response: "refund initiated"})
	}))
	defer server.Close()

	client := NewClient(time.Second, testLogger())
	result, err := client.Invoke(context.Background(), types.AgentRegistration{
		Name:     "billing-agent",
		Endpoint: server.URL,
	}, &Task{RequestID: "req-1", SessionID: "sess-1", Intent: "refund_request", Text: "refund my order"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if result.Response != "refund initiated" {
		t.Errorf("unexpected response %q", result.Response)
	}
	if received.Intent != "refund_request" {
		t.Errorf("agent should receive the resolved intent, got %q", received.Intent)
	}
}

func TestClient_InvokeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(time.Second, testLogger())
	_, err := client.Invoke(context.Background(), types.AgentRegistration{
		Name:     "billing-agent",
		Endpoint: server.URL,
	}, &Task{Intent: "refund_request"})
	if err == nil {
		t.Fatal("expected error for non-200 agent response")
	}
}

func TestClient_InvokeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(time.Second, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Invoke(ctx, types.AgentRegistration{
		Name:     "slow-agent",
		Endpoint: server.URL,
	}, &Task{Intent: "knowledge_query"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("transport failure should wrap ErrUnreachable, got %v", err)
	}
}

func TestClient_InvokeUnreachableEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listens anymore

	client := NewClient(time.Second, testLogger())
	_, err := client.Invoke(context.Background(), types.AgentRegistration{
		Name:     "gone-agent",
		Endpoint: server.URL,
	}, &Task{Intent: "refund_request"})
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("connection failure should wrap ErrUnreachable, got %v", err)
	}
}
