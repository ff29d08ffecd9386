package app_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxfix/internal/app"
	"github.com/MrWong99/voxfix/internal/config"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/transcript"
)

// wholeTokenizer returns its input as a single token.
type wholeTokenizer struct{}

func (wholeTokenizer) Cut(text string) []string {
	if text == "" {
		return nil
	}
	return []string{text}
}

// testConfig returns a config rooted in a temp dir with the given rule file
// content. An empty content leaves the rule file absent.
func testConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Hotwords.RuleFile = filepath.Join(dir, "keywords")
	cfg.Hotwords.CacheDir = filepath.Join(dir, "cache")
	cfg.Hotwords.BackupDir = filepath.Join(dir, "backups")
	cfg.Hotwords.WatchInterval = 20 * time.Millisecond
	cfg.Server.ShutdownTimeout = 2 * time.Second
	if content != "" {
		if err := os.WriteFile(cfg.Hotwords.RuleFile, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func testOptions(t *testing.T, extra ...app.Option) []app.Option {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts := []app.Option{
		app.WithMetrics(m),
		app.WithTokenizerFactory(func([]string) (transcript.Tokenizer, error) {
			return wholeTokenizer{}, nil
		}),
	}
	return append(opts, extra...)
}

func newApp(t *testing.T, cfg *config.Config, extra ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, testOptions(t, extra...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func waitHealthy(t *testing.T, url string) {
	t.Helper()
	eventually(t, func() bool {
		resp, err := http.Get(url + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "server never became healthy")
}

func TestNew_LoadsRules(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t, "心智控制区 心智控制取\n"))

	st := a.Corrector().Status()
	if !st.Loaded || st.Rules != 1 {
		t.Errorf("status = %+v, want 1 loaded rule", st)
	}

	rec := serve(t, a.Handler(), "POST", "/v1/correct", `{"text":"心智控制取"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Text != "心智控制区" {
		t.Errorf("text = %q, want 心智控制区", got.Text)
	}
}

func TestNew_WritesCaches(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "心智控制区 心智控制取\n")
	newApp(t, cfg)

	for _, p := range []string{cfg.Hotwords.CachePath(), cfg.Hotwords.DictionaryPath()} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		wantCode int
	}{
		{"rules loaded", "心智控制区\n", http.StatusOK},
		{"no rule file", "", http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := newApp(t, testConfig(t, tc.content))
			rec := serve(t, a.Handler(), "GET", "/readyz", "")
			if rec.Code != tc.wantCode {
				t.Errorf("code = %d, want %d (%s)", rec.Code, tc.wantCode, rec.Body)
			}
		})
	}
}

func TestHandler_NoMetricsRouteWithInjectedMetrics(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t, "心智控制区\n"))
	rec := serve(t, a.Handler(), "GET", "/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestRun_ServesAndStops(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, "心智控制区 心智控制取\n")
	a := newApp(t, cfg, app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitHealthy(t, "http://"+ln.Addr().String())

	// Rule file edits are picked up by the watcher.
	tmp := cfg.Hotwords.RuleFile + ".tmp"
	if err := os.WriteFile(tmp, []byte("心智控制区 心智控制取\n主宰 主在\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, cfg.Hotwords.RuleFile); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		return a.Corrector().CorrectText(context.Background(), "主在") == "主宰"
	}, "watcher did not reload the edited rule file")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ConfigReloadChangesLogLevel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, "心智控制区\n")
	cfgPath := filepath.Join(t.TempDir(), "voxfix.yaml")
	writeConfig := func(level string) {
		t.Helper()
		y := "server:\n  log_level: " + level + "\nhotwords:\n  rule_file: " + cfg.Hotwords.RuleFile + "\n  watch_interval: 20ms\n"
		tmp := cfgPath + ".tmp"
		if err := os.WriteFile(tmp, []byte(y), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, cfgPath); err != nil {
			t.Fatal(err)
		}
	}
	writeConfig("info")

	lv := new(slog.LevelVar)
	a := newApp(t, cfg, app.WithListener(ln), app.WithConfigPath(cfgPath), app.WithLogLevel(lv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Watchers start before the server accepts connections.
	waitHealthy(t, "http://"+ln.Addr().String())
	writeConfig("debug")
	eventually(t, func() bool { return lv.Level() == slog.LevelDebug }, "log level was not updated")

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := app.SlogLevel(tc.in); got != tc.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t, "心智控制区\n"))
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
