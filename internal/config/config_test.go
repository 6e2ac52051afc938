package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"MODE", "HTTP_ADDR", "DB_DRIVER", "REDIS_URL", "TX_MAX_ATTEMPTS", "INACTIVITY_DYNAMIC", "CORS_ORIGINS", "LOG_MODE", "SESSION_FINISHED_GRACE"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.Mode != ModeOffline || c.HTTPAddr != ":8080" || c.DBDriver != "sqlite" || c.RedisURL != "" {
		t.Fatalf("defaults: %+v", c)
	}
	if c.TxMaxAttempts != 5 || c.InstanceRetryDelay != 1500*time.Millisecond || c.LogMode != "dev" {
		t.Fatalf("defaults: %+v", c)
	}
	if c.InactivityFixed || !c.InactivityDynamic || c.InactivityLive {
		t.Fatalf("inactivity defaults: %+v", c)
	}
	if len(c.CORSOrigins) != 2 {
		t.Fatalf("cors: %v", c.CORSOrigins)
	}
	if c.SessionFinishedGrace != 5*time.Minute {
		t.Fatalf("finished grace: %v", c.SessionFinishedGrace)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MODE", "online")
	t.Setenv("TX_MAX_ATTEMPTS", "9")
	t.Setenv("GRACE_WINDOW", "45")
	t.Setenv("TICK_INTERVAL", "250ms")
	t.Setenv("INACTIVITY_LIVE", "yes")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	c := FromEnv()
	if c.LogMode != "prod" || c.TxMaxAttempts != 9 {
		t.Fatalf("overrides: %+v", c)
	}
	if c.GraceWindow != 45*time.Second || c.TickInterval != 250*time.Millisecond || !c.InactivityLive {
		t.Fatalf("overrides: %+v", c)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(c.CORSOrigins, want) {
		t.Fatalf("cors: %v", c.CORSOrigins)
	}
}

func TestEnvParsers(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", time.Minute},
		{"2s", 2 * time.Second},
		{"90", 90 * time.Second},
		{"-5s", time.Minute},
		{"soon", time.Minute},
	}
	for _, tc := range tests {
		t.Setenv("X_DUR", tc.val)
		if got := envDuration("X_DUR", time.Minute); got != tc.want {
			t.Fatalf("envDuration(%q) = %v, want %v", tc.val, got, tc.want)
		}
	}
	t.Setenv("X_INT", "0")
	if envInt("X_INT", 3) != 3 {
		t.Fatalf("non-positive int accepted")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("REDIS_CHANNEL=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REDIS_CHANNEL", "")
	os.Unsetenv("REDIS_CHANNEL")
	if c := Load(path); c.RedisChannel != "from-file" {
		t.Fatalf("channel: %q", c.RedisChannel)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	if (Config{Timezone: "Mars/Olympus"}).Location() != time.UTC {
		t.Fatalf("bad zone not rejected")
	}
}
