package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	platformgrpc "github.com/louisbranch/formdesk/internal/platform/grpc"
	"github.com/louisbranch/formdesk/internal/platform/requestctx"
	grpcdispatch "github.com/louisbranch/formdesk/internal/services/formdesk/api/grpc/dispatch"
	"github.com/louisbranch/formdesk/internal/services/formdesk/authn"
)

const testSchema = `
version: "1"
policy:
  - role: editor
    operation: "*"
    collection: "*"
collections:
  - alias: posts
    variants:
      - alias: post
    node_editor:
      buttons:
        - default: save
      panes:
        - variant: post
          fields:
            - name: title
              rules: required
    list_view:
      buttons:
        - default: new
      pane:
        fields:
          - name: title
`

func writeSchema(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "schema.yaml")
	if err := os.WriteFile(path, []byte(testSchema), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	return path
}

// startServer serves cfg until the test ends.
func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(runCtx)
	}()
	t.Cleanup(func() {
		runCancel()
		select {
		case serveErr := <-serveDone:
			if serveErr != nil {
				t.Errorf("serve: %v", serveErr)
			}
		case <-time.After(5 * time.Second):
			t.Error("timeout waiting for server shutdown")
		}
	})
	return srv
}

func baseConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		HTTPAddr:   "127.0.0.1:0",
		GRPCAddr:   "127.0.0.1:0",
		DBPath:     filepath.Join(dir, "nested", "formdesk.db"),
		SchemaPath: writeSchema(t, dir),
		JWTSecret:  "app-secret",
		JWTIssuer:  "formdesk",
	}
}

func TestServerServesHTTPAndGRPC(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	srv := startServer(t, cfg)

	resp, err := http.Get("http://" + srv.HTTPAddr() + "/up")
	if err != nil {
		t.Fatalf("GET /up: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := platformgrpc.Dial(ctx, srv.GRPCAddr(), grpcdispatch.ServiceName, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	client := grpcdispatch.NewClient(conn)

	in, err := structpb.NewStruct(map[string]any{
		"family": "list", "action": "list", "collection": "posts", "button": "new",
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}

	_, err = client.Execute(ctx, in)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("anonymous code = %v, want PermissionDenied", status.Code(err))
	}

	verifier, err := authn.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}
	token, err := verifier.Sign(requestctx.Subject{UserID: "u1", Roles: []string{"editor"}}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	out, err := client.Execute(metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token), in)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if uri := out.GetFields()["uri"].GetStringValue(); uri != "/node/new/posts/post" {
		t.Fatalf("uri = %q", uri)
	}
}

func TestServerAnonymousMode(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.JWTSecret = ""
	cfg.AllowAnonymous = true
	srv := startServer(t, cfg)

	body := strings.NewReader(`{"action":"list","button":"new"}`)
	resp, err := http.Post("http://"+srv.HTTPAddr()+"/api/collection/posts/execute", "application/json", body)
	if err != nil {
		t.Fatalf("POST execute: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var intent map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if intent["kind"] != "navigate" {
		t.Fatalf("intent = %v", intent)
	}
}

func TestNewRejectsBadSchema(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.SchemaPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(cfg); err == nil {
		t.Fatal("expected missing schema error")
	}

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(invalid, []byte(`version: "1"`), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	cfg.SchemaPath = invalid
	if _, err := New(cfg); err == nil {
		t.Fatal("expected invalid schema error")
	}
}
