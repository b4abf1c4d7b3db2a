package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// SMTPConfig 发信配置
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	CodeTTL  time.Duration
}

// SMTPNotifier 通过 SMTP 投递验证码。465 端口使用隐式 TLS，其余端口在服务器支持时升级 STARTTLS
type SMTPNotifier struct {
	cfg       SMTPConfig
	tlsConfig *tls.Config
	now       func() time.Time
}

// NewSMTPNotifier 创建 SMTP 投递器
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	return &SMTPNotifier{
		cfg:       cfg,
		tlsConfig: &tls.Config{ServerName: cfg.Host},
		now:       time.Now,
	}
}

// SendCode 发送验证码邮件
func (n *SMTPNotifier) SendCode(ctx context.Context, to, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := n.buildMessage(to, code)
	if err != nil {
		return err
	}

	client, err := n.dial()
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer client.Close()

	if deadline, ok := ctx.Deadline(); ok {
		client.CommandTimeout = time.Until(deadline)
		client.SubmissionTimeout = time.Until(deadline)
	}

	if n.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.SendMail(n.cfg.From, []string{to}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return client.Quit()
}

// dial 465 端口直接建立 TLS 连接；其余端口先明文握手，服务器声明 STARTTLS 时重新以 STARTTLS 连接
func (n *SMTPNotifier) dial() (*smtp.Client, error) {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if n.cfg.Port == 465 {
		return smtp.DialTLS(addr, n.tlsConfig)
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return nil, err
	}
	ok, _ := client.Extension("STARTTLS")
	if !ok {
		return client, nil
	}
	_ = client.Close()

	client, err = smtp.DialStartTLS(addr, n.tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("starttls: %w", err)
	}
	return client, nil
}

// buildMessage 生成纯文本邮件
func (n *SMTPNotifier) buildMessage(to, code string) ([]byte, error) {
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	from := mail.Address{Name: n.cfg.FromName, Address: n.cfg.From}
	minutes := int(n.cfg.CodeTTL.Minutes())

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", "Your login code"))
	fmt.Fprintf(&buf, "Date: %s\r\n", n.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domainOf(n.cfg.From))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "Your login code is %s\r\n\r\n", code)
	fmt.Fprintf(&buf, "It expires in %d minutes. If you did not request it, ignore this email.\r\n", minutes)

	return buf.Bytes(), nil
}

func domainOf(addr string) string {
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		return addr[at+1:]
	}
	return "localhost"
}
