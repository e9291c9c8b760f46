package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/VengurlekarMayuresh/CCL/internal/platform/config"
)

const (
	gmailHost  = "smtp.gmail.com"
	gmailPort  = 587
	gmailScope = "https://mail.google.com/"
)

// ErrNotConfigured is returned when neither Gmail OAuth2 nor SMTP settings are present.
var ErrNotConfigured = errors.New("mail: transport not configured (set Gmail OAuth2 or SMTP settings)")

// Envelope is one outgoing email with text and HTML alternatives.
type Envelope struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers envelopes over SMTP. A connection is dialled per message.
type Sender struct {
	cfg    config.MailConfig
	tokens oauth2.TokenSource
	send   func(ctx context.Context, client *gomail.Client, msg *gomail.Msg) error
}

// NewSender builds a Sender. Gmail OAuth2 is used when all of its settings
// are present, plain SMTP otherwise.
func NewSender(cfg config.MailConfig) *Sender {
	s := &Sender{cfg: cfg, send: dialAndSend}
	if cfg.UsesGmail() {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.GmailClientID,
			ClientSecret: cfg.GmailClientSecret,
			Endpoint:     endpoints.Google,
			Scopes:       []string{gmailScope},
		}
		s.tokens = oauth2.ReuseTokenSource(nil, oauthCfg.TokenSource(context.Background(), &oauth2.Token{
			RefreshToken: cfg.GmailRefreshToken,
		}))
	}
	return s
}

// Configured reports whether a transport is available.
func (s *Sender) Configured() bool {
	return s != nil && (s.tokens != nil || s.cfg.Configured())
}

// Send delivers env, honouring ctx for dial and transfer.
func (s *Sender) Send(ctx context.Context, env Envelope) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	msg, err := s.buildMessage(env)
	if err != nil {
		return err
	}
	client, err := s.client()
	if err != nil {
		return err
	}
	if err := s.send(ctx, client, msg); err != nil {
		return fmt.Errorf("mail: send failed: %w", err)
	}
	return nil
}

func (s *Sender) buildMessage(env Envelope) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("mail: invalid from address %q: %w", s.cfg.From, err)
	}
	if err := msg.To(strings.TrimSpace(env.To)); err != nil {
		return nil, fmt.Errorf("mail: invalid recipient: %w", err)
	}
	msg.Subject(env.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, env.Text)
	if env.HTML != "" {
		msg.AddAlternativeString(gomail.TypeTextHTML, env.HTML)
	}
	return msg, nil
}

func (s *Sender) client() (*gomail.Client, error) {
	timeout := s.cfg.ConnTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if s.tokens != nil {
		token, err := s.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("mail: gmail access token: %w", err)
		}
		tlsConfig.ServerName = gmailHost
		return gomail.NewClient(gmailHost,
			gomail.WithPort(gmailPort),
			gomail.WithTLSPolicy(gomail.TLSMandatory),
			gomail.WithTLSConfig(tlsConfig),
			gomail.WithSMTPAuth(gomail.SMTPAuthXOAUTH2),
			gomail.WithUsername(s.cfg.GmailUser),
			gomail.WithPassword(token.AccessToken),
			gomail.WithTimeout(timeout),
		)
	}

	tlsConfig.ServerName = s.cfg.Host
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSConfig(tlsConfig),
		gomail.WithTimeout(timeout),
	}
	switch {
	case s.cfg.Secure:
		opts = append(opts, gomail.WithSSL())
	case s.cfg.RequireTLS:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	if s.cfg.Debug {
		opts = append(opts, gomail.WithDebugLog())
	}
	return gomail.NewClient(s.cfg.Host, opts...)
}

func dialAndSend(ctx context.Context, client *gomail.Client, msg *gomail.Msg) error {
	return client.DialAndSendWithContext(ctx, msg)
}
