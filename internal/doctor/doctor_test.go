package doctor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/basket/go-concierge/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	return &config.Config{
		HomeDir: home,
		DBPath:  filepath.Join(home, "goconcierge.db"),
	}
}

func TestRun_AllChecksReport(t *testing.T) {
	cfg := testConfig(t)

	diag := Run(context.Background(), cfg, "test")
	if len(diag.Results) != 6 {
		t.Fatalf("expected 6 check results, got %d", len(diag.Results))
	}
	seen := map[string]bool{}
	for _, res := range diag.Results {
		seen[res.Name] = true
		if res.Status == "" || res.Message == "" {
			t.Errorf("check %q reported empty status or message: %+v", res.Name, res)
		}
	}
	for _, name := range []string{"Config", "Model Key", "Database", "Permissions", "Channels", "Network"} {
		if !seen[name] {
			t.Errorf("missing check %q", name)
		}
	}
}

func TestRun_NilConfigSkipsGracefully(t *testing.T) {
	diag := Run(context.Background(), nil, "test")
	for _, res := range diag.Results {
		if res.Status == "PASS" {
			t.Errorf("check %q passed with nil config: %+v", res.Name, res)
		}
	}
}

func TestCheckDatabase_OpensAndQueries(t *testing.T) {
	result := checkDatabase(context.Background(), testConfig(t))
	if result.Status != "PASS" {
		t.Fatalf("database check = %+v", result)
	}
	if result.Detail == "" {
		t.Fatal("expected queue counts in detail")
	}
}

func TestCheckModelKey(t *testing.T) {
	cfg := testConfig(t)
	if got := checkModelKey(context.Background(), cfg); got.Status != "WARN" {
		t.Fatalf("no key: %+v", got)
	}
	cfg.Generator.APIKey = "sk-test"
	if got := checkModelKey(context.Background(), cfg); got.Status != "PASS" {
		t.Fatalf("with key: %+v", got)
	}
}

func TestCheckChannels(t *testing.T) {
	cfg := testConfig(t)

	if got := checkChannels(context.Background(), cfg); got.Status != "WARN" {
		t.Fatalf("none enabled: %+v", got)
	}

	cfg.Channels.WhatsApp.Enabled = true
	if got := checkChannels(context.Background(), cfg); got.Status != "FAIL" {
		t.Fatalf("enabled without credentials: %+v", got)
	}

	cfg.Channels.WhatsApp.AccessToken = "tok"
	cfg.Channels.WhatsApp.PhoneNumberID = "123"
	if got := checkChannels(context.Background(), cfg); got.Status != "PASS" {
		t.Fatalf("fully configured: %+v", got)
	}
}

func TestCheckNetwork_NoEndpointConfigured(t *testing.T) {
	result := checkNetwork(context.Background(), testConfig(t))
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP with nothing configured, got %+v", result)
	}
}

func TestCheckNetwork_NilConfig(t *testing.T) {
	if got := checkNetwork(context.Background(), nil); got.Status != "SKIP" {
		t.Fatalf("expected SKIP for nil config, got %s", got.Status)
	}
}
