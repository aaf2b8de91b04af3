package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/go-concierge/internal/config"
	"github.com/basket/go-concierge/internal/persistence"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkModelKey,
		checkDatabase,
		checkPermissions,
		checkChannels,
		checkNetwork,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	return CheckResult{
		Name:    "Config",
		Status:  "PASS",
		Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir),
		Detail:  cfg.Fingerprint(),
	}
}

func checkModelKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Model Key", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.Generator.APIKey != "" {
		return CheckResult{Name: "Model Key", Status: "PASS", Message: fmt.Sprintf("Key set, model %s", cfg.Generator.Model)}
	}
	return CheckResult{
		Name:    "Model Key",
		Status:  "WARN",
		Message: "OPENAI_API_KEY not set; every reply uses the template fallback",
		Detail:  "Set OPENAI_API_KEY or generator.api_key in config.yaml",
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}

	store, err := persistence.Open(cfg.DBPath, nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer store.Close()

	counts, err := store.JobCounts(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}

	return CheckResult{
		Name:    "Database",
		Status:  "PASS",
		Message: "Connection and schema valid",
		Detail: fmt.Sprintf("pending=%d processing=%d failed=%d",
			counts[persistence.JobStatusPending],
			counts[persistence.JobStatusProcessing],
			counts[persistence.JobStatusFailed]),
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkChannels(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Channels", Status: "SKIP", Message: "Config missing"}
	}

	var enabled, broken []string
	if cfg.Channels.WhatsApp.Enabled {
		enabled = append(enabled, "whatsapp")
		if cfg.Channels.WhatsApp.AccessToken == "" || cfg.Channels.WhatsApp.PhoneNumberID == "" {
			broken = append(broken, "whatsapp: access_token or phone_number_id missing")
		}
	}
	if cfg.Channels.Instagram.Enabled {
		enabled = append(enabled, "instagram")
		if cfg.Channels.Instagram.AccessToken == "" || cfg.Channels.Instagram.PageID == "" {
			broken = append(broken, "instagram: access_token or page_id missing")
		}
	}
	if cfg.Channels.Telegram.Enabled {
		enabled = append(enabled, "telegram")
		if cfg.Channels.Telegram.Token == "" || cfg.Channels.Telegram.ChatID == 0 {
			broken = append(broken, "telegram: token or chat_id missing")
		}
	}

	if len(enabled) == 0 {
		return CheckResult{
			Name:    "Channels",
			Status:  "WARN",
			Message: "No delivery channel enabled; outbound messages will fail to send",
		}
	}
	if len(broken) > 0 {
		return CheckResult{
			Name:    "Channels",
			Status:  "FAIL",
			Message: fmt.Sprintf("%d of %d enabled channels misconfigured", len(broken), len(enabled)),
			Detail:  fmt.Sprintf("%v", broken),
		}
	}
	return CheckResult{Name: "Channels", Status: "PASS", Message: fmt.Sprintf("Enabled: %v", enabled)}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Config missing"}
	}

	// Probe the first endpoint the daemon actually needs.
	host := ""
	switch {
	case cfg.Channels.WhatsApp.Enabled || cfg.Channels.Instagram.Enabled:
		host = "graph.facebook.com"
	case cfg.Generator.APIKey != "":
		host = "api.openai.com"
	case cfg.Channels.Telegram.Enabled:
		host = "api.telegram.org"
	}
	if host == "" {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "No external endpoint configured"}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}

	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
	}
}
