package arcade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m4xw311/arcadechat/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "test-key", WithWaitSeconds(0), WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient("", ""); err == nil {
		t.Error("expected error without API key")
	}
	c, err := NewClient("", "key")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want default", c.baseURL)
	}
}

func TestAuthorizeSendsBearerAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/tools/authorize" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q", got)
		}
		var body authorizeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.ToolName != "Gmail.SendEmail" || body.UserID != "me@example.com" {
			t.Errorf("unexpected body %+v", body)
		}
		writeJSON(t, w, AuthorizationResponse{ID: "auth_1", Status: StatusPending, URL: "https://example.com/oauth"})
	})

	resp, err := c.Authorize(context.Background(), "Gmail.SendEmail", "me@example.com")
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if resp.ID != "auth_1" || resp.URL != "https://example.com/oauth" || resp.Status != StatusPending {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestWaitForCompletionPollsUntilCompleted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/status" || r.URL.Query().Get("id") != "auth_1" {
			t.Errorf("unexpected request %s", r.URL)
		}
		status := StatusPending
		if atomic.AddInt32(&calls, 1) >= 3 {
			status = StatusCompleted
		}
		writeJSON(t, w, AuthorizationResponse{ID: "auth_1", Status: status})
	})

	resp, err := c.WaitForCompletion(context.Background(), "auth_1")
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", resp.Status)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 3 status requests, got %d", n)
	}
}

func TestWaitForCompletionFailedStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, AuthorizationResponse{ID: "auth_1", Status: StatusFailed})
	})

	_, err := c.WaitForCompletion(context.Background(), "auth_1")
	if !errors.Is(err, ErrAuthorizationFailed) {
		t.Errorf("expected ErrAuthorizationFailed, got %v", err)
	}
}

func TestWaitForCompletionHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, AuthorizationResponse{ID: "auth_1", Status: StatusPending})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.WaitForCompletion(ctx, "auth_1")
	if err == nil {
		t.Fatal("expected error after context deadline")
	}
}

func TestAPIErrorIsReturned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"name":"unauthorized","message":"invalid api key"}`))
	})

	_, err := c.Execute(context.Background(), "E2b.RunCode", nil, "me")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "invalid api key" {
		t.Errorf("unexpected APIError %+v", apiErr)
	}
}

func TestGetToolsDedupesAndPassesOptions(t *testing.T) {
	runCode := ToolDefinition{Name: "RunCode", QualifiedName: "E2b.RunCode", Toolkit: Toolkit{Name: "E2b"}}
	chart := ToolDefinition{Name: "CreateStaticMatplotlibChart", QualifiedName: "E2b.CreateStaticMatplotlibChart", Toolkit: Toolkit{Name: "E2b"}}
	send := ToolDefinition{
		Name:          "SendEmail",
		QualifiedName: "Gmail.SendEmail",
		Toolkit:       Toolkit{Name: "Gmail"},
		Requirements:  &Requirements{Authorization: &AuthorizationRequirement{ProviderID: "google"}},
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("user_id") != "me@example.com" {
			t.Errorf("missing user_id on %s", r.URL)
		}
		switch r.URL.Path {
		case "/v1/tools":
			if q.Get("toolkit") != "E2B" || q.Get("limit") != "25" {
				t.Errorf("unexpected list query %s", r.URL.RawQuery)
			}
			writeJSON(t, w, ToolList{Items: []ToolDefinition{runCode, chart}})
		case "/v1/tools/definition":
			switch q.Get("name") {
			case "E2b.RunCode":
				writeJSON(t, w, runCode)
			case "Gmail.SendEmail":
				writeJSON(t, w, send)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	defs, err := GetTools(context.Background(), c, GetToolsOptions{
		UserID:   "me@example.com",
		Toolkits: []string{"E2B"},
		Tools:    []string{"E2b.RunCode", "Gmail.SendEmail"},
		Limit:    25,
	})
	if err != nil {
		t.Fatalf("GetTools failed: %v", err)
	}

	var names []string
	for _, d := range defs {
		names = append(names, d.FunctionName())
	}
	want := []string{"E2b_RunCode", "E2b_CreateStaticMatplotlibChart", "Gmail_SendEmail"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
	if defs[0].RequiresAuthorization() || !defs[2].RequiresAuthorization() {
		t.Error("authorization requirements not decoded")
	}
}

func TestJSONSchema(t *testing.T) {
	def := ToolDefinition{Input: ToolInput{Parameters: []Parameter{
		{Name: "code", Required: true, Description: "Code to run", ValueSchema: ValueSchema{ValType: "string"}},
		{Name: "language", ValueSchema: ValueSchema{ValType: "string", Enum: []string{"python", "js"}}},
		{Name: "tags", ValueSchema: ValueSchema{ValType: "array", InnerValType: "string"}},
		{Name: "options", ValueSchema: ValueSchema{ValType: "json"}},
	}}}

	schema := def.JSONSchema()
	if !reflect.DeepEqual(schema["required"], []string{"code"}) {
		t.Errorf("required = %v", schema["required"])
	}
	props := schema["properties"].(map[string]interface{})
	tags := props["tags"].(map[string]interface{})
	if tags["type"] != "array" || !reflect.DeepEqual(tags["items"], map[string]interface{}{"type": "string"}) {
		t.Errorf("tags schema = %v", tags)
	}
	if props["options"].(map[string]interface{})["type"] != "object" {
		t.Errorf("options schema = %v", props["options"])
	}
	if props["code"].(map[string]interface{})["description"] != "Code to run" {
		t.Errorf("code schema = %v", props["code"])
	}
}
