package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 60 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultCurrency             = "USD"
	defaultClientURL            = "http://localhost:5173"
	defaultReturnPath           = "/shop/paypal-return"
	defaultCancelPath           = "/shop/paypal-cancel"
	defaultPaymentProvider      = "paypal"
	defaultPayPalMode           = "sandbox"
	defaultMailTimeout          = 20 * time.Second
	defaultMailFrom             = "no-reply@example.com"
	defaultNotifyAttemptTimeout = 20 * time.Second
	defaultNotifyAttempts       = 3
	defaultNotifyInitialBackoff = 500 * time.Millisecond
	defaultNotifyWait           = 25 * time.Second
	defaultLockTTL              = 30 * time.Second
	defaultOrderCreatePerMinute = 10
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultTransactionAttempts  = 5
	defaultTransactionTimeout   = 10 * time.Second
)

// Config is the full runtime configuration, grouped by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Auth          AuthConfig
	PSP           PSPConfig
	Mail          MailConfig
	Notifications NotificationConfig
	Orders        OrderConfig
	Redis         RedisConfig
	PubSub        PubSubConfig
	RateLimits    RateLimitConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the Firebase project used for ID token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID           string
	EmulatorHost        string
	TransactionAttempts int
	TransactionTimeout  time.Duration
}

// AuthConfig lists the roles allowed to manage orders for every customer.
type AuthConfig struct {
	StaffRoles []string
}

// PSPConfig holds payment provider settings.
type PSPConfig struct {
	DefaultProvider     string
	VerifyCapture       bool
	PayPalClientID      string
	PayPalSecret        string
	PayPalMode          string
	StripeAPIKey        string
	StripeWebhookSecret string
}

// MailConfig configures the notification mail transport. Gmail OAuth2 wins
// over plain SMTP when all of its fields are present.
type MailConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	Secure            bool
	RequireTLS        bool
	From              string
	GmailUser         string
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string
	ConnTimeout       time.Duration
	GreetTimeout      time.Duration
	SocketTimeout     time.Duration
	Debug             bool
}

// NotificationConfig bounds notification delivery.
type NotificationConfig struct {
	AttemptTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	Wait           time.Duration
	SupportEmail   string
}

// OrderConfig carries order workflow settings.
type OrderConfig struct {
	StrictTransitions bool
	Currency          string
	ClientURL         string
	ReturnPath        string
	CancelPath        string
}

// RedisConfig configures the capture lock backend. An empty Addr selects the
// in-process lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// PubSubConfig names the topic receiving order lifecycle events. Empty disables publishing.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	OrderCreatePerMinute int
}

// IdempotencyConfig controls the idempotency middleware.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ReturnURL is the absolute URL the payment provider redirects to after approval.
func (c OrderConfig) ReturnURL() string {
	return strings.TrimRight(c.ClientURL, "/") + c.ReturnPath
}

// CancelURL is the absolute URL the payment provider redirects to on cancellation.
func (c OrderConfig) CancelURL() string {
	return strings.TrimRight(c.ClientURL, "/") + c.CancelPath
}

// UsesGmail reports whether the Gmail OAuth2 transport is fully configured.
func (c MailConfig) UsesGmail() bool {
	return c.GmailUser != "" && c.GmailClientID != "" && c.GmailClientSecret != "" && c.GmailRefreshToken != ""
}

// Configured reports whether any mail transport is available.
func (c MailConfig) Configured() bool {
	return c.UsesGmail() || (c.Host != "" && c.Port > 0)
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists the fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError wraps a failed secret lookup.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved to empty values.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns stable hashes of the missing names, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the dotenv path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies explicit values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (for example "PSP.PayPalSecret") that must resolve.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged environment (dotenv < process < explicit map)
// so dependencies such as the secret fetcher can be built before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

// Load builds the configuration from defaults, .env, the environment and
// secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := options.envMap[key]; ok {
			return v, true
		}
		if options.useSystemEnv {
			if v, ok := os.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := dotEnv[key]
		return v, ok
	}

	mailTimeout := durationWithDefault(lookup, "API_MAIL_TIMEOUT", defaultMailTimeout)
	smtpPort := intWithDefault(lookup, "API_MAIL_SMTP_PORT", 0)

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:           stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:        stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
			TransactionAttempts: intWithDefault(lookup, "API_FIRESTORE_TX_ATTEMPTS", defaultTransactionAttempts),
			TransactionTimeout:  durationWithDefault(lookup, "API_FIRESTORE_TX_TIMEOUT", defaultTransactionTimeout),
		},
		Auth: AuthConfig{
			StaffRoles: csvWithDefault(lookup, "API_AUTH_STAFF_ROLES", []string{"admin", "staff"}),
		},
		PSP: PSPConfig{
			DefaultProvider:     strings.ToLower(stringWithDefault(lookup, "API_PSP_DEFAULT_PROVIDER", defaultPaymentProvider)),
			VerifyCapture:       boolWithDefault(lookup, "API_PSP_VERIFY_CAPTURE", false),
			PayPalClientID:      stringWithDefault(lookup, "API_PSP_PAYPAL_CLIENT_ID", ""),
			PayPalSecret:        stringWithDefault(lookup, "API_PSP_PAYPAL_SECRET", ""),
			PayPalMode:          strings.ToLower(stringWithDefault(lookup, "API_PSP_PAYPAL_MODE", defaultPayPalMode)),
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
		},
		Mail: MailConfig{
			Host:              stringWithDefault(lookup, "API_MAIL_SMTP_HOST", ""),
			Port:              smtpPort,
			Username:          stringWithDefault(lookup, "API_MAIL_SMTP_USER", ""),
			Password:          stringWithDefault(lookup, "API_MAIL_SMTP_PASS", ""),
			Secure:            boolWithDefault(lookup, "API_MAIL_SMTP_SECURE", smtpPort == 465),
			RequireTLS:        boolWithDefault(lookup, "API_MAIL_SMTP_REQUIRE_TLS", smtpPort == 587),
			From:              stringWithDefault(lookup, "API_MAIL_FROM", ""),
			GmailUser:         stringWithDefault(lookup, "API_MAIL_GMAIL_USER", ""),
			GmailClientID:     stringWithDefault(lookup, "API_MAIL_GMAIL_CLIENT_ID", ""),
			GmailClientSecret: stringWithDefault(lookup, "API_MAIL_GMAIL_CLIENT_SECRET", ""),
			GmailRefreshToken: stringWithDefault(lookup, "API_MAIL_GMAIL_REFRESH_TOKEN", ""),
			ConnTimeout:       durationWithDefault(lookup, "API_MAIL_CONN_TIMEOUT", mailTimeout),
			GreetTimeout:      durationWithDefault(lookup, "API_MAIL_GREET_TIMEOUT", mailTimeout),
			SocketTimeout:     durationWithDefault(lookup, "API_MAIL_SOCKET_TIMEOUT", mailTimeout),
			Debug:             boolWithDefault(lookup, "API_MAIL_DEBUG", false),
		},
		Notifications: NotificationConfig{
			AttemptTimeout: durationWithDefault(lookup, "API_NOTIFY_ATTEMPT_TIMEOUT", defaultNotifyAttemptTimeout),
			MaxAttempts:    intWithDefault(lookup, "API_NOTIFY_MAX_ATTEMPTS", defaultNotifyAttempts),
			InitialBackoff: durationWithDefault(lookup, "API_NOTIFY_INITIAL_BACKOFF", defaultNotifyInitialBackoff),
			Wait:           durationWithDefault(lookup, "API_NOTIFY_WAIT", defaultNotifyWait),
			SupportEmail:   stringWithDefault(lookup, "API_NOTIFY_SUPPORT_EMAIL", "support@yourstore.com"),
		},
		Orders: OrderConfig{
			StrictTransitions: boolWithDefault(lookup, "API_ORDERS_STRICT_TRANSITIONS", false),
			Currency:          strings.ToUpper(stringWithDefault(lookup, "API_ORDERS_CURRENCY", defaultCurrency)),
			ClientURL:         stringWithDefault(lookup, "API_CLIENT_URL", defaultClientURL),
			ReturnPath:        stringWithDefault(lookup, "API_ORDERS_RETURN_PATH", defaultReturnPath),
			CancelPath:        stringWithDefault(lookup, "API_ORDERS_CANCEL_PATH", defaultCancelPath),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
			LockTTL:  durationWithDefault(lookup, "API_REDIS_LOCK_TTL", defaultLockTTL),
		},
		PubSub: PubSubConfig{
			ProjectID: stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "API_PUBSUB_ORDER_TOPIC", ""),
		},
		RateLimits: RateLimitConfig{
			OrderCreatePerMinute: intWithDefault(lookup, "API_RATELIMIT_ORDER_CREATE_PER_MIN", defaultOrderCreatePerMinute),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Mail.From == "" {
		cfg.Mail.From = firstNonEmpty(cfg.Mail.Username, cfg.Mail.GmailUser, defaultMailFrom)
	}

	resolver := options.secret
	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.PayPalSecret", &cfg.PSP.PayPalSecret},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Mail.Password", &cfg.Mail.Password},
		{"Mail.GmailClientSecret", &cfg.Mail.GmailClientSecret},
		{"Mail.GmailRefreshToken", &cfg.Mail.GmailRefreshToken},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	seen := make(map[string]struct{})
	for _, name := range options.requiredSecrets {
		name = strings.TrimSpace(name)
		if _, dup := seen[name]; dup || name == "" {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, &MissingSecretsError{names: missing}
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var fields []string
	if cfg.Server.Port == "" {
		fields = append(fields, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		fields = append(fields, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		fields = append(fields, "Firestore.ProjectID")
	}
	switch cfg.PSP.DefaultProvider {
	case "paypal", "stripe", "mock":
	default:
		fields = append(fields, "PSP.DefaultProvider")
	}
	switch cfg.PSP.PayPalMode {
	case "sandbox", "live":
	default:
		fields = append(fields, "PSP.PayPalMode")
	}
	if len(cfg.Orders.Currency) != 3 {
		fields = append(fields, "Orders.Currency")
	}
	if cfg.Orders.ClientURL == "" {
		fields = append(fields, "Orders.ClientURL")
	}
	if cfg.Notifications.MaxAttempts <= 0 {
		fields = append(fields, "Notifications.MaxAttempts")
	}
	if cfg.Notifications.AttemptTimeout <= 0 {
		fields = append(fields, "Notifications.AttemptTimeout")
	}
	if cfg.Redis.LockTTL <= 0 {
		fields = append(fields, "Redis.LockTTL")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		fields = append(fields, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		fields = append(fields, "Idempotency.TTL")
	}
	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "secret://"), "sm://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
		return d
	}
	// Bare integers are milliseconds, matching SMTP_*_TIMEOUT style values.
	if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if v, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	v, _ := lookup(key)
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
