package services

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/huangang/testsentry/internal/models"
	"github.com/huangang/testsentry/pkg/logger"
	"gorm.io/gorm"
)

// EmailService sends transactional mail (invitations, password resets).
// SMTP settings live in system_configs so admins can change them at runtime.
type EmailService struct {
	db      *gorm.DB
	baseURL string
}

type EmailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

func NewEmailService(db *gorm.DB, baseURL string) *EmailService {
	return &EmailService{db: db, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *EmailService) GetConfig() *EmailConfig {
	config := &EmailConfig{}

	var configs []models.SystemConfig
	s.db.Where("`group` = ?", "email").Find(&configs)

	for _, c := range configs {
		switch c.Key {
		case "email_enabled":
			config.Enabled = c.Value == "true"
		case "email_host":
			config.Host = c.Value
		case "email_port":
			if port, err := strconv.Atoi(c.Value); err == nil {
				config.Port = port
			}
		case "email_username":
			config.Username = c.Value
		case "email_password":
			config.Password = c.Value
		case "email_from":
			config.From = c.Value
		case "email_use_tls":
			config.UseTLS = c.Value == "true"
		}
	}

	if config.Port == 0 {
		config.Port = 587
	}

	return config
}

// SendInvitation mails the invite link to the invited address. A disabled
// or unconfigured mailer is not an error: the inviter still has the token.
func (s *EmailService) SendInvitation(inv *models.Invitation, token string) error {
	config := s.GetConfig()
	if !config.Enabled || config.Host == "" {
		return nil
	}

	projectName := "a project"
	if inv.Project != nil {
		projectName = inv.Project.Name
	}
	inviterName := ""
	if inv.Inviter != nil {
		inviterName = inv.Inviter.Nickname
		if inviterName == "" {
			inviterName = inv.Inviter.Username
		}
	}

	subject := fmt.Sprintf("[TestSentry] You have been invited to %s", projectName)
	link := fmt.Sprintf("%s/invitations/accept?token=%s", s.baseURL, token)

	var sb strings.Builder
	sb.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	sb.WriteString("<h2>Project Invitation</h2>")
	if inviterName != "" {
		sb.WriteString(fmt.Sprintf("<p>%s invited you to join <b>%s</b> as <b>%s</b>.</p>", inviterName, projectName, inv.Role))
	} else {
		sb.WriteString(fmt.Sprintf("<p>You have been invited to join <b>%s</b> as <b>%s</b>.</p>", projectName, inv.Role))
	}
	sb.WriteString(fmt.Sprintf("<p><a href=\"%s\">Accept the invitation</a></p>", link))
	sb.WriteString(fmt.Sprintf("<p style=\"color: #888;\">The invitation expires on %s.</p>", inv.ExpiresAt.Format("2006-01-02 15:04 MST")))
	sb.WriteString("<hr><p style=\"color: #888; font-size: 12px;\">Powered by TestSentry</p>")
	sb.WriteString("</body></html>")

	return s.sendEmail(config, []string{inv.Email}, subject, sb.String())
}

// SendPasswordReset mails the reset link to the account's address.
func (s *EmailService) SendPasswordReset(user *models.User, token string) error {
	config := s.GetConfig()
	if !config.Enabled || config.Host == "" {
		return nil
	}

	subject := "[TestSentry] Password reset"
	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)

	var sb strings.Builder
	sb.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	sb.WriteString("<h2>Password Reset</h2>")
	sb.WriteString(fmt.Sprintf("<p>Hi %s, a password reset was requested for your account.</p>", user.Username))
	sb.WriteString(fmt.Sprintf("<p><a href=\"%s\">Choose a new password</a></p>", link))
	sb.WriteString("<p style=\"color: #888;\">The link is valid for one hour. If you did not request this, ignore this email.</p>")
	sb.WriteString("<hr><p style=\"color: #888; font-size: 12px;\">Powered by TestSentry</p>")
	sb.WriteString("</body></html>")

	return s.sendEmail(config, []string{user.Email}, subject, sb.String())
}

func (s *EmailService) sendEmail(config *EmailConfig, to []string, subject, body string) error {
	from := config.From
	if from == "" {
		from = config.Username
	}

	headers := make(map[string]string)
	headers["From"] = from
	headers["To"] = strings.Join(to, ",")
	headers["Subject"] = subject
	headers["MIME-Version"] = "1.0"
	headers["Content-Type"] = "text/html; charset=UTF-8"

	var message strings.Builder
	for k, v := range headers {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	message.WriteString("\r\n")
	message.WriteString(body)

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)

	var auth smtp.Auth
	if config.Username != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	var err error
	if config.UseTLS {
		err = s.sendEmailTLS(config, addr, auth, from, to, message.String())
	} else {
		err = smtp.SendMail(addr, auth, from, to, []byte(message.String()))
	}

	if err != nil {
		logger.Warn().Err(err).Strs("to", to).Msg("failed to send email")
		return err
	}

	logger.Infof("[Email] Sent %q to %v", subject, to)
	return nil
}

func (s *EmailService) sendEmailTLS(config *EmailConfig, addr string, auth smtp.Auth, from string, to []string, message string) error {
	tlsConfig := &tls.Config{
		ServerName: config.Host,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, config.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	_, err = w.Write([]byte(message))
	if err != nil {
		return err
	}

	return w.Close()
}
