package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/authcore/internal/models"
	"github.com/charlesng35/authcore/pkg/logger"
	"github.com/charlesng35/authcore/pkg/mail"
)

// Delivery is a token handed to the out-of-band channel.
type Delivery struct {
	UserID  string
	Email   string
	Token   string
	Purpose models.TokenPurpose
}

// TokenDelivery forwards action token values to their owner.
type TokenDelivery interface {
	Send(ctx context.Context, delivery Delivery) error
}

// DeliveryLinks holds the URL templates for each purpose. The token is
// appended as the "token" query parameter.
type DeliveryLinks struct {
	VerifyEmailURL   string
	ResetPasswordURL string
}

// MailDelivery emails a link carrying the token.
type MailDelivery struct {
	mailer  mail.Mailer
	links   DeliveryLinks
	appName string
}

// NewMailDelivery constructs a MailDelivery.
func NewMailDelivery(mailer mail.Mailer, links DeliveryLinks, appName string) (*MailDelivery, error) {
	if mailer == nil {
		return nil, errors.New("mail delivery: mailer is required")
	}
	if strings.TrimSpace(appName) == "" {
		appName = "authcore"
	}
	return &MailDelivery{mailer: mailer, links: links, appName: appName}, nil
}

// Send implements TokenDelivery.
func (d *MailDelivery) Send(ctx context.Context, delivery Delivery) error {
	if strings.TrimSpace(delivery.Email) == "" {
		return errors.New("mail delivery: recipient email is required")
	}

	var subject, body string
	switch delivery.Purpose {
	case models.PurposeVerifyEmail:
		link := buildLink(d.links.VerifyEmailURL, delivery.Token)
		subject = fmt.Sprintf("Confirm your %s email address", d.appName)
		body = fmt.Sprintf("Welcome to %s!\n\nPlease confirm your email address by visiting the link below:\n%s\n\nIf you did not create an account, you can ignore this message.\n", d.appName, link)
	case models.PurposeResetPassword:
		link := buildLink(d.links.ResetPasswordURL, delivery.Token)
		subject = fmt.Sprintf("Reset your %s password", d.appName)
		body = fmt.Sprintf("A password reset was requested for your account.\n\nChoose a new password by visiting the link below within the next hour:\n%s\n\nIf you did not request this, you can ignore this message.\n", link)
	default:
		return fmt.Errorf("mail delivery: unknown purpose %q", delivery.Purpose)
	}

	err := d.mailer.Send(ctx, mail.Message{
		To:      []string{delivery.Email},
		Subject: subject,
		Body:    body,
	})
	if err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return fmt.Errorf("mail delivery: send: %w", err)
	}
	return nil
}

func buildLink(base, token string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return token
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return fmt.Sprintf("%s?token=%s", base, url.QueryEscape(token))
	}
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// LogDelivery records that a token was produced without exposing its value.
// It is used when no mail transport is configured.
type LogDelivery struct {
	log *zap.Logger
}

// NewLogDelivery returns a LogDelivery writing to log, or the module logger when nil.
func NewLogDelivery(log *zap.Logger) *LogDelivery {
	if log == nil {
		log = logger.WithModule("delivery")
	}
	return &LogDelivery{log: log}
}

// Send implements TokenDelivery.
func (d *LogDelivery) Send(_ context.Context, delivery Delivery) error {
	d.log.Info("action token ready for delivery",
		zap.String("user_id", delivery.UserID),
		zap.String("purpose", string(delivery.Purpose)),
	)
	return nil
}
