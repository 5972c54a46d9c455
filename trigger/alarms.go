package trigger

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"gopkg.in/gomail.v2"

	"intellikeeper/config"
)

// TwilioSMS sends sms-alarm messages through Twilio.
type TwilioSMS struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioSMS returns nil when no account is configured.
func NewTwilioSMS(cfg config.SMSConfig) *TwilioSMS {
	if cfg.AccountSID == "" {
		return nil
	}
	return &TwilioSMS{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		from: cfg.From,
	}
}

func (s *TwilioSMS) SendSMS(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)
	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	return nil
}

// SMTPMailer sends email-alarm messages.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer returns nil when no SMTP host is configured.
func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	if cfg.Host == "" {
		return nil
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *SMTPMailer) SendMail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
