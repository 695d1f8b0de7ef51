package app

import (
	"github.com/charlesng35/authcore/internal/services"
	"github.com/charlesng35/authcore/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// DeliveryLinks returns the URLs tokens are appended to in outbound mail.
func (c EmailConfig) DeliveryLinks() services.DeliveryLinks {
	return services.DeliveryLinks{
		VerifyEmailURL:   c.Links.VerifyEmailURL,
		ResetPasswordURL: c.Links.ResetPasswordURL,
	}
}
