package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GREETING_ROOMS", "")
	t.Setenv("BOT_TIMEZONE", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("WEATHER_ROOMS", "")
	t.Setenv("ROOM_PACING", "")
	t.Setenv("RATE_LIMIT_CALLS", "")
	t.Setenv("RATE_LIMIT_WINDOW", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TimeZone != "Asia/Tokyo" || cfg.Location == nil {
		t.Errorf("expected Asia/Tokyo location, got %q", cfg.TimeZone)
	}
	if cfg.StoreBackend != StorePostgres {
		t.Errorf("StoreBackend = %q, want postgres", cfg.StoreBackend)
	}
	if len(cfg.GreetingRooms) != 1 || cfg.GreetingRooms[0] != "405497983" {
		t.Errorf("GreetingRooms = %v", cfg.GreetingRooms)
	}
	if cfg.RateLimit != 10 || cfg.RateWindow != 10*time.Second {
		t.Errorf("rate limit defaults = %d/%v", cfg.RateLimit, cfg.RateWindow)
	}
	if cfg.RoomPacing != 2*time.Second || cfg.RoomsPerCycle != 2 {
		t.Errorf("pacing defaults = %v/%d", cfg.RoomPacing, cfg.RoomsPerCycle)
	}
}

func TestLoadLists(t *testing.T) {
	t.Setenv("GREETING_ROOMS", " 100, 200 ,,300")
	t.Setenv("WEATHER_ROOMS", "100:130010,200:270000")
	t.Setenv("TOGGLE_FAVORITES", "7,8")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.GreetingRooms) != 3 || cfg.GreetingRooms[1] != "200" {
		t.Errorf("GreetingRooms = %v", cfg.GreetingRooms)
	}
	if len(cfg.WeatherRooms) != 2 || cfg.WeatherRooms[1] != (WeatherTarget{RoomID: "200", RegionCode: "270000"}) {
		t.Errorf("WeatherRooms = %+v", cfg.WeatherRooms)
	}
	if len(cfg.ToggleFavorites) != 2 {
		t.Errorf("ToggleFavorites = %v", cfg.ToggleFavorites)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad timezone", "BOT_TIMEZONE", "Mars/Olympus"},
		{"bad backend", "STORE_BACKEND", "redis"},
		{"bad weather entry", "WEATHER_ROOMS", "100"},
		{"bad int", "RATE_LIMIT_CALLS", "ten"},
		{"bad duration", "ROOM_PACING", "2 seconds"},
		{"negative retention", "LOG_RETENTION_DAYS", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("CHATWORK_API_TOKEN", "tok")
	cfg, _ := Load()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
	t.Setenv("CHATWORK_API_TOKEN", "")
	cfg, _ = Load()
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected error when token missing")
	}
}

func TestLoadAdminSurface(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CORS_PERMISSIVE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ops.example.com, *.example.org")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("ADMIN_USERNAME", "ops")
	t.Setenv("ADMIN_PASSWORD", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CORSPermissive {
		t.Error("CORS should be restricted outside dev")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "*.example.org" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.IPRateWindow != 30*time.Second || cfg.RequestsPerIP != 10 || !cfg.IPRateLimit {
		t.Errorf("ip rate limit = %v/%d/%v", cfg.IPRateWindow, cfg.RequestsPerIP, cfg.IPRateLimit)
	}
	if cfg.AdminAuthEnabled() {
		t.Error("username without password must not enable auth")
	}
	cfg.AdminToken = "secret"
	if !cfg.AdminAuthEnabled() {
		t.Error("token should enable auth")
	}
}
