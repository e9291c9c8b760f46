package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "shop-dev" {
		t.Errorf("expected firestore project to follow firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "shop-dev" {
		t.Errorf("expected pubsub project to follow firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PSP.DefaultProvider != "paypal" {
		t.Errorf("expected paypal default provider, got %s", cfg.PSP.DefaultProvider)
	}
	if cfg.Orders.StrictTransitions {
		t.Errorf("expected permissive transitions by default")
	}
	if cfg.Orders.Currency != "USD" {
		t.Errorf("expected USD, got %s", cfg.Orders.Currency)
	}
	if got := cfg.Orders.ReturnURL(); got != "http://localhost:5173/shop/paypal-return" {
		t.Errorf("unexpected return url %s", got)
	}
	if cfg.Mail.ConnTimeout != 20*time.Second || cfg.Mail.SocketTimeout != 20*time.Second {
		t.Errorf("unexpected mail timeouts: %+v", cfg.Mail)
	}
	if cfg.Mail.From != "no-reply@example.com" {
		t.Errorf("unexpected mail from %s", cfg.Mail.From)
	}
	if cfg.Mail.Configured() {
		t.Errorf("expected mail to be unconfigured without host or gmail settings")
	}
	if cfg.Notifications.MaxAttempts != 3 {
		t.Errorf("unexpected notification attempts %d", cfg.Notifications.MaxAttempts)
	}
	if len(cfg.Auth.StaffRoles) != 2 {
		t.Errorf("expected default staff roles, got %v", cfg.Auth.StaffRoles)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
}

func TestLoadOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_FIREBASE_PROJECT_ID":       "shop-prod",
		"API_FIRESTORE_PROJECT_ID":      "shop-db",
		"API_PSP_DEFAULT_PROVIDER":      "Stripe",
		"API_PSP_PAYPAL_CLIENT_ID":      "paypal-client",
		"API_PSP_PAYPAL_SECRET":         "secret://paypal/secret",
		"API_PSP_STRIPE_API_KEY":        "sm://stripe/api",
		"API_MAIL_SMTP_HOST":            "smtp.example.com",
		"API_MAIL_SMTP_PORT":            "587",
		"API_MAIL_SMTP_USER":            "mailer@example.com",
		"API_MAIL_SMTP_PASS":            "secret://smtp/pass",
		"API_MAIL_CONN_TIMEOUT":         "5000",
		"API_ORDERS_STRICT_TRANSITIONS": "true",
		"API_ORDERS_CURRENCY":           "eur",
		"API_CLIENT_URL":                "https://shop.example.com/",
		"API_AUTH_STAFF_ROLES":          "admin, support",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		return "resolved:" + ref, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "shop-db" {
		t.Errorf("expected explicit firestore project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PSP.DefaultProvider != "stripe" {
		t.Errorf("expected provider to be lowercased, got %s", cfg.PSP.DefaultProvider)
	}
	if cfg.PSP.PayPalSecret != "resolved:secret://paypal/secret" {
		t.Errorf("unexpected paypal secret %s", cfg.PSP.PayPalSecret)
	}
	if cfg.PSP.StripeAPIKey != "resolved:secret://stripe/api" {
		t.Errorf("expected sm:// reference to be normalised, got %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.Mail.Password != "resolved:secret://smtp/pass" {
		t.Errorf("unexpected smtp password %s", cfg.Mail.Password)
	}
	if !cfg.Mail.RequireTLS || cfg.Mail.Secure {
		t.Errorf("expected port 587 to require STARTTLS without implicit TLS: %+v", cfg.Mail)
	}
	if cfg.Mail.ConnTimeout != 5*time.Second {
		t.Errorf("expected millisecond timeout, got %s", cfg.Mail.ConnTimeout)
	}
	if cfg.Mail.From != "mailer@example.com" {
		t.Errorf("expected from to fall back to smtp user, got %s", cfg.Mail.From)
	}
	if !cfg.Orders.StrictTransitions {
		t.Errorf("expected strict transitions")
	}
	if cfg.Orders.Currency != "EUR" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Orders.Currency)
	}
	if got := cfg.Orders.CancelURL(); got != "https://shop.example.com/shop/paypal-cancel" {
		t.Errorf("unexpected cancel url %s", got)
	}
	if len(cfg.Auth.StaffRoles) != 2 || cfg.Auth.StaffRoles[1] != "support" {
		t.Errorf("unexpected staff roles %v", cfg.Auth.StaffRoles)
	}
}

func TestLoadValidationError(t *testing.T) {
	env := map[string]string{
		"API_PSP_DEFAULT_PROVIDER": "bitcoin",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := verr.Fields()
	want := map[string]bool{"Firebase.ProjectID": false, "Firestore.ProjectID": false, "PSP.DefaultProvider": false}
	for _, f := range fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Errorf("expected %s in %v", f, fields)
		}
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_PSP_PAYPAL_SECRET":   "secret://paypal/secret",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var serr *SecretError
	if !errors.As(err, &serr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver not configured, got %v", err)
	}
}

func TestLoadRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("PSP.PayPalSecret", "PSP.PayPalSecret"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "PSP.PayPalSecret" {
		t.Fatalf("unexpected names %v", names)
	}
	if redacted := missing.RedactedNames(); len(redacted) != 1 || redacted[0] == "PSP.PayPalSecret" {
		t.Fatalf("expected redacted name, got %v", redacted)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local\nexport API_FIREBASE_PROJECT_ID=\"from-dotenv\"\nAPI_SERVER_PORT=7070\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path),
		WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "from-dotenv" {
		t.Errorf("expected dotenv project, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected env map to win over dotenv, got %s", cfg.Server.Port)
	}

	values, err := EnvironmentValues(WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["API_SERVER_PORT"] != "7070" {
		t.Errorf("unexpected merged value %q", values["API_SERVER_PORT"])
	}
}
