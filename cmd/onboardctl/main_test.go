package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nutrition-platform/backend/internal/onboarding/domain"
	"nutrition-platform/backend/internal/security"
)

// isolate runs the CLI from an empty directory with a clean environment.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	os.Clearenv()
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSteps(t *testing.T) {
	isolate(t)
	out, err := execute(t, "steps", "patient")
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	for _, want := range []string{"health-goals", "dietary-preferences", "REQUIRED"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if _, err := execute(t, "steps", "admin"); err == nil {
		t.Error("unknown role should fail")
	}
}

type showOutput struct {
	Source   string           `json:"source"`
	Progress *domain.Progress `json:"progress"`
}

func show(t *testing.T) showOutput {
	t.Helper()
	out, err := execute(t, "show", "u-9", "patient")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var got showOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode show output: %v\n%s", err, out)
	}
	return got
}

func TestResetAndShow(t *testing.T) {
	dir := isolate(t)
	t.Setenv("LOCAL_CACHE_PATH", filepath.Join(dir, "progress.db"))

	if got := show(t); got.Source != "none" || got.Progress != nil {
		t.Fatalf("before reset: %+v", got)
	}

	out, err := execute(t, "reset", "u-9", "patient", "--purge=false")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, "reset onboarding for u-9 (patient)") {
		t.Errorf("reset output = %q", out)
	}
	got := show(t)
	if got.Source != "local" || got.Progress == nil {
		t.Fatalf("after reset: %+v", got)
	}
	if got.Progress.CurrentStepID != "welcome" || got.Progress.CompletionPercentage != 0 {
		t.Errorf("progress = current %q, %d%%", got.Progress.CurrentStepID, got.Progress.CompletionPercentage)
	}

	if _, err := execute(t, "reset", "u-9", "patient", "--purge"); err != nil {
		t.Fatalf("reset --purge: %v", err)
	}
	if got := show(t); got.Source != "none" {
		t.Errorf("after purge: source = %q, want none", got.Source)
	}
}

func TestToken(t *testing.T) {
	isolate(t)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("JWT_PRIVATE_KEY", string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})))

	out, err := execute(t, "token", "u-7", "nutritionist")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	verifier := security.NewTokenProvider(nil, &key.PublicKey, "nutri-auth", "nutri-api", 15*time.Minute)
	id, err := verifier.ValidateAccess(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if id.UserID != "u-7" || id.Role != domain.RoleNutritionist {
		t.Errorf("identity = %+v", id)
	}

	t.Setenv("APP_ENV", "production")
	if _, err := execute(t, "token", "u-7", "nutritionist"); err == nil {
		t.Error("token minting should be refused in production")
	}
}
