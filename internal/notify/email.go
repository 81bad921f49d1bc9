package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"cypherd-wallet-go/internal/config"
	"cypherd-wallet-go/internal/models"
)

const notificationSubject = "CypherD Wallet - Transaction Confirmation"

// EmailNotifier sends transaction confirmations over SMTP. When no SMTP host
// is configured the rendered notification is logged instead, so local runs
// still show what would have been sent.
type EmailNotifier struct {
	cfg    *config.SMTP
	logger *zap.Logger
	dialer *gomail.Dialer
}

// ensure EmailNotifier implements the interface
var _ Notifier = (*EmailNotifier)(nil)

// NewEmailNotifier creates a notifier from SMTP configuration.
func NewEmailNotifier(cfg *config.SMTP, logger *zap.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	if cfg.Host != "" {
		n.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	} else {
		logger.Info("SMTP not configured, notifications will be logged only")
	}
	return n
}

// Notify renders and delivers a transaction confirmation email.
func (n *EmailNotifier) Notify(_ context.Context, event Event) error {
	body := renderBody(event)

	if n.dialer == nil {
		n.logger.Info("Email notification",
			zap.String("to", event.Email),
			zap.String("subject", notificationSubject),
			zap.String("body", body),
		)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", event.Email)
	m.SetHeader("Subject", notificationSubject)
	m.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send notification email: %w", err)
	}

	n.logger.Info("Sent email notification",
		zap.String("to", event.Email),
		zap.String("transaction_id", event.TransactionID),
	)
	return nil
}

func renderBody(event Event) string {
	amountText := event.NativeAmount.StringFixed(4) + " ETH"
	if event.Currency == models.CurrencyUSD && event.FiatAmount.Valid {
		amountText += fmt.Sprintf(" ($%s USD)", event.FiatAmount.Decimal.StringFixed(2))
	}

	return fmt.Sprintf(`CypherD Wallet - Transaction Confirmation

Transaction Successful!

Amount: %s
From: %s
To: %s
Transaction ID: %s

This transaction has been securely processed and recorded on your CypherD Wallet.

This is an automated message from CypherD Wallet.
`, amountText, event.From, event.To, event.TransactionID)
}
