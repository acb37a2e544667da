package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "  s3cret  ")

	cfg := LoadConfig()

	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("expected trimmed secret, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenTTL != 90*24*time.Hour {
		t.Fatalf("unexpected token ttl: %v", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.CookieTTL != cfg.Auth.TokenTTL {
		t.Fatalf("cookie ttl should default to token ttl, got %v", cfg.Auth.CookieTTL)
	}
	if cfg.Auth.ResetTokenTTL != 10*time.Minute {
		t.Fatalf("unexpected reset ttl: %v", cfg.Auth.ResetTokenTTL)
	}
	if cfg.Auth.SecureCookies {
		t.Fatalf("secure cookies must be off outside production")
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected default base url: %q", cfg.BaseURL)
	}
	if cfg.TrustProxy {
		t.Fatalf("forwarded headers must not be trusted by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ENV", EnvProduction)
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("JWT_EXPIRES_IN", "2d")
	t.Setenv("JWT_COOKIE_EXPIRES_IN", "36h")
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("DB_SSL", "true")
	t.Setenv("BASE_URL", "https://natours.dev/")

	cfg := LoadConfig()

	if cfg.Auth.TokenTTL != 48*time.Hour {
		t.Fatalf("unexpected token ttl: %v", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.CookieTTL != 36*time.Hour {
		t.Fatalf("unexpected cookie ttl: %v", cfg.Auth.CookieTTL)
	}
	if cfg.Auth.BcryptCost != 4 {
		t.Fatalf("unexpected bcrypt cost: %d", cfg.Auth.BcryptCost)
	}
	if !cfg.Auth.SecureCookies {
		t.Fatalf("secure cookies must be on in production")
	}
	if !cfg.Database.UseSSL {
		t.Fatalf("expected db ssl")
	}
	if cfg.BaseURL != "https://natours.dev" {
		t.Fatalf("unexpected base url: %q", cfg.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "")

	cfg := LoadConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing secret to fail validation")
	}

	cfg.Auth.JWTSecret = "x"
	cfg.Mail.Backend = "pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown mail backend to fail validation")
	}
}

func TestValidateBaseURL(t *testing.T) {
	t.Setenv("ENV", EnvProduction)
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("BASE_URL", "")

	cfg := LoadConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing base url to fail validation in production")
	}

	for _, bad := range []string{"natours.dev", "/api", "ftp://natours.dev"} {
		cfg.BaseURL = bad
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected %q to fail validation", bad)
		}
	}

	cfg.BaseURL = "https://natours.dev"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
