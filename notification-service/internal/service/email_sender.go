package service

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"text/template"
	"time"

	"fairytale-server/notification-service/internal/config"
	"fairytale-server/notification-service/internal/messaging"
	"fairytale-server/shared/models"

	"go.uber.org/zap"
)

const reviewSubject = "Новая сказка ждет вашей проверки"

var reviewBodyTemplate = template.Must(template.New("review").Parse(`Здравствуйте!

Сказка «{{.Title}}» готова и ждет вашего решения.

Одобрить: {{.ApproveURL}}
Отклонить: {{.DeclineURL}}

Ссылки одноразовые и действуют до {{.ExpiresAt}}.
`))

type reviewBody struct {
	Title      string
	ApproveURL string
	DeclineURL string
	ExpiresAt  string
}

// --- Заглушка ---

type stubEmailSender struct {
	logger *zap.Logger
}

func NewStubEmailSender(logger *zap.Logger) messaging.EmailSender {
	return &stubEmailSender{logger: logger.Named("stub_email_sender")}
}

func (s *stubEmailSender) SendReviewEmail(_ context.Context, payload models.ReviewEmailPayload) error {
	s.logger.Info("ЗАГЛУШКА: Отправка письма ревью",
		zap.String("story_id", payload.StoryID.String()),
		zap.String("approve_url", payload.ApproveURL),
		zap.String("decline_url", payload.DeclineURL),
	)
	return nil
}

// --- SMTP ---

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type smtpEmailSender struct {
	addr     string
	auth     smtp.Auth
	from     *mail.Address
	sendMail sendMailFunc
	logger   *zap.Logger
}

// NewEmailSender возвращает SMTP отправитель или заглушку, если SMTP не настроен.
func NewEmailSender(cfg config.SMTPConfig, logger *zap.Logger) (messaging.EmailSender, error) {
	if cfg.Host == "" {
		logger.Warn("SMTP_HOST не указан, письма ревью будут только логироваться.")
		return NewStubEmailSender(logger), nil
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("некорректный SMTP_FROM %q: %w", cfg.From, err)
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	logger.Info("SMTP Sender инициализирован", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return &smtpEmailSender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:     auth,
		from:     from,
		sendMail: smtp.SendMail,
		logger:   logger.Named("smtp_sender"),
	}, nil
}

func (s *smtpEmailSender) SendReviewEmail(ctx context.Context, payload models.ReviewEmailPayload) error {
	to, err := mail.ParseAddress(payload.To)
	if err != nil {
		return fmt.Errorf("%w: invalid recipient: %v", messaging.ErrPermanent, err)
	}
	msg, err := buildReviewMessage(s.from, to, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", messaging.ErrPermanent, err)
	}

	// net/smtp не принимает context, поэтому отправка идет в горутине
	done := make(chan error, 1)
	go func() { done <- s.sendMail(s.addr, s.auth, s.from.Address, []string{to.Address}, msg) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
	}
	s.logger.Info("Письмо ревью отправлено", zap.String("story_id", payload.StoryID.String()))
	return nil
}

func buildReviewMessage(from, to *mail.Address, payload models.ReviewEmailPayload) ([]byte, error) {
	title := payload.StoryTitle
	if title == "" {
		title = "Без названия"
	}
	var body bytes.Buffer
	err := reviewBodyTemplate.Execute(&body, reviewBody{
		Title:      title,
		ApproveURL: payload.ApproveURL,
		DeclineURL: payload.DeclineURL,
		ExpiresAt:  time.Unix(payload.ExpiresAt, 0).UTC().Format("02.01.2006 15:04 UTC"),
	})
	if err != nil {
		return nil, fmt.Errorf("render review email: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from.String())
	fmt.Fprintf(&msg, "To: %s\r\n", to.String())
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", reviewSubject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	msg.Write(bytes.ReplaceAll(body.Bytes(), []byte("\n"), []byte("\r\n")))
	return msg.Bytes(), nil
}
