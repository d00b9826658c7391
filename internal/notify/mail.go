package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MailConfig configures the SMTP notifier.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From string
	// Domain is appended to subject ids to form the recipient address.
	Domain string
	// Institution is used in subjects and signatures.
	Institution string
	// Validity is quoted in the OTP body.
	Validity time.Duration
}

// SendFunc matches smtp.SendMail, which upgrades to STARTTLS when offered.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailNotifier sends plain-text mail over SMTP.
type MailNotifier struct {
	cfg    MailConfig
	auth   smtp.Auth
	send   SendFunc
	logger *zap.Logger
}

// NewMailNotifier builds a notifier. Pass nil send to use smtp.SendMail.
func NewMailNotifier(cfg MailConfig, send SendFunc, logger *zap.Logger) *MailNotifier {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if send == nil {
		send = smtp.SendMail
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &MailNotifier{cfg: cfg, auth: auth, send: send, logger: logger.Named("notify")}
}

// Address returns the mailbox for subjectID.
func (n *MailNotifier) Address(subjectID string) string {
	return subjectID + "@" + n.cfg.Domain
}

// SendOTP mails code to the subject's institutional address.
func (n *MailNotifier) SendOTP(ctx context.Context, subjectID, code string) error {
	subject := fmt.Sprintf("Your %s Access Verification Code", n.cfg.Institution)
	body := fmt.Sprintf("Hello %s Student,\r\n\r\n"+
		"Your verification code for %s Access is: %s\r\n\r\n"+
		"This code will expire in %s.\r\n\r\n"+
		"If you did not request this code, please ignore this email.\r\n\r\n"+
		"Best regards,\r\n%s Security System\r\n",
		n.cfg.Institution, n.cfg.Institution, code, minutes(n.cfg.Validity), n.cfg.Institution)
	return n.deliver(ctx, "otp", subjectID, subject, body)
}

// SendSecurityAlarm warns the card owner that their card was presented by
// someone else at at.
func (n *MailNotifier) SendSecurityAlarm(ctx context.Context, subjectID string, at time.Time) error {
	subject := "SECURITY ALERT - Unauthorized Student ID Card Usage"
	body := fmt.Sprintf("Dear Student,\r\n\r\n"+
		"Our security system has detected that your student ID card (ID: %s) is being used by someone who does not match the ID photo.\r\n"+
		"This incident has been logged and campus security has been notified.\r\n\r\n"+
		"Time of incident: %s\r\n\r\n"+
		"Please report to the %s Student Centre immediately if you have lost your card or if you believe it has been stolen.\r\n\r\n"+
		"Best regards,\r\n%s Security System\r\n",
		subjectID, at.Format("2006-01-02 15:04:05"), n.cfg.Institution, n.cfg.Institution)
	return n.deliver(ctx, "security_alarm", subjectID, subject, body)
}

func (n *MailNotifier) deliver(ctx context.Context, kind, subjectID, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := n.Address(subjectID)
	msg := buildMessage(n.cfg.From, to, subject, body)
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	if err := n.send(addr, n.auth, n.cfg.From, []string{to}, msg); err != nil {
		n.logger.Error("mail delivery failed", zap.String("kind", kind), zap.String("to", to), zap.Error(err))
		return fmt.Errorf("send %s mail: %w", kind, err)
	}
	n.logger.Info("mail delivered", zap.String("kind", kind), zap.String("to", to))
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func minutes(d time.Duration) string {
	m := int(d / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
