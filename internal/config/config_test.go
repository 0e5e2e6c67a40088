package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/siswrap/internal/logger"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadConfigTOML(t *testing.T) {
	p := writeFile(t, "siswrap.toml", `
[app]
perl = "/usr/bin/perl"
qc_bin = "/opt/sisyphus/qualityControl.pl"
report_bin = "/opt/sisyphus/quickReport.pl"
runfolder_root = "/data/runfolders"
sender = "a@example.org"
receiver = "b@example.org"

[server]
host = "127.0.0.1"
port = 8080
framework = "echo"

[log]
level = "debug"
format = "json"

[jobs]
log_dir = "/var/log/siswrap"
max_backups = 4
output_limit = 4096
env = ["LANG=C"]

[history]
enabled = true
dsn = "sqlite://:memory:"
`)
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Addr() != "127.0.0.1:8080" || c.Server.Framework != "echo" {
		t.Fatalf("unexpected server config: %+v", c.Server)
	}
	// defaults survive partial tables
	if c.Server.BasePath != "/api/1.0" || c.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("defaults not applied: %+v", c.Server)
	}
	if c.History.Timeout != 2*time.Second || !c.Metrics.Enabled || c.Metrics.Path != "/metrics" {
		t.Fatalf("defaults not applied: %+v %+v", c.History, c.Metrics)
	}
	if v, err := c.Setting(KeyQCBin); err != nil || v != "/opt/sisyphus/qualityControl.pl" {
		t.Fatalf("Setting(qc_bin)=%q,%v", v, err)
	}
	if c.Jobs.OutputLimit != 4096 || c.JobLog().Dir != "/var/log/siswrap" || c.JobLog().MaxBackups != 4 {
		t.Fatalf("unexpected jobs config: %+v", c.Jobs)
	}
	lo := c.LoggerOptions()
	if lo.Level != "debug" || lo.Format != logger.FormatJSON {
		t.Fatalf("unexpected logger options: %+v", lo)
	}
}

func TestLoadConfigLegacyFlatJSON(t *testing.T) {
	p := writeFile(t, "app.config", `{
  "perl": "/usr/bin/perl",
  "report_bin": "/opt/sisyphus/quickReport.pl",
  "runfolder_root": "/data",
  "port": 10901
}`)
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 10901 {
		t.Fatalf("legacy port ignored: %d", c.Server.Port)
	}
	if v, _ := c.Setting(KeyPerl); v != "/usr/bin/perl" {
		t.Fatalf("legacy perl ignored: %q", v)
	}
	_, err = c.Setting(KeySender)
	if !errors.Is(err, ErrMissingSetting) {
		t.Fatalf("expected ErrMissingSetting, got %v", err)
	}
	if !strings.Contains(err.Error(), "sender") || !strings.Contains(err.Error(), p) {
		t.Fatalf("error should name key and file: %v", err)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SISWRAP_SERVER_PORT", "9999")
	t.Setenv("SISWRAP_LOG_LEVEL", "warn")
	p := writeFile(t, "siswrap.yaml", "server:\n  port: 8080\napp:\n  perl: /usr/bin/perl\n")
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 9999 || c.Log.Level != "warn" {
		t.Fatalf("env override not applied: port=%d level=%s", c.Server.Port, c.Log.Level)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	cases := map[string]string{
		"port.toml":      "[server]\nport = 70000\n",
		"framework.toml": "[server]\nframework = \"martini\"\n",
		"history.toml":   "[history]\nenabled = true\n",
		"broken.toml":    "[server\nport = 1\n",
	}
	for name, data := range cases {
		if _, err := LoadConfig(writeFile(t, name, data)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestStaticAndSetting(t *testing.T) {
	app := map[string]string{KeyPerl: " /usr/bin/perl ", KeySender: "   "}
	c := Static(app)
	app[KeyPerl] = "changed"
	if v, err := c.Setting(KeyPerl); err != nil || v != "/usr/bin/perl" {
		t.Fatalf("Setting should trim and copy: %q %v", v, err)
	}
	if _, err := c.Setting(KeySender); !errors.Is(err, ErrMissingSetting) {
		t.Fatalf("blank setting should be missing: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("static config should validate: %v", err)
	}
	if c.JobEnv() != nil {
		t.Fatal("JobEnv should inherit when unset")
	}
}

func TestJobEnv(t *testing.T) {
	t.Setenv("SISYPHUS_HOME", "/opt/sisyphus")
	c := Static(nil)
	c.Jobs.Env = []string{"PERL5LIB=${SISYPHUS_HOME}/lib"}
	found := false
	for _, kv := range c.JobEnv() {
		if kv == "PERL5LIB=/opt/sisyphus/lib" {
			found = true
		}
	}
	if !found {
		t.Fatalf("PERL5LIB not expanded: %v", c.JobEnv())
	}
}
