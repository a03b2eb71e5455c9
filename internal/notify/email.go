package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/lance13c/deltawatch/internal/config"
)

// EmailTransport sends notifications over SMTP
type EmailTransport struct {
	cfg config.EmailConfig
}

// NewEmailTransport creates an SMTP transport
func NewEmailTransport(cfg config.EmailConfig) *EmailTransport {
	return &EmailTransport{cfg: cfg}
}

func (e *EmailTransport) Name() string {
	return "email"
}

// Send builds the MIME message and delivers it
func (e *EmailTransport) Send(ctx context.Context, msg Message) error {
	body, err := BuildEmail(e.cfg.From, e.cfg.To, msg)
	if err != nil {
		return err
	}
	return e.deliver(ctx, body)
}

// BuildEmail renders msg as a multipart MIME message: text and HTML
// alternatives, plus the diff image as an attachment when present
func BuildEmail(from string, to []string, msg Message) ([]byte, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}
	toAddrs := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		parsed, err := mail.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", addr, err)
		}
		toAddrs = append(toAddrs, parsed)
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{fromAddr})
	h.SetAddressList("To", toAddrs)
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create message body: %w", err)
	}

	text := msg.Text
	if msg.DiffText != "" {
		text += "\n\n" + msg.DiffText
	}
	if err := writeInlinePart(iw, "text/plain", text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writeInlinePart(iw, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message body: %w", err)
	}

	if msg.DiffImagePath != "" {
		if err := attachFile(mw, msg.DiffImagePath); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInlinePart(iw *mail.InlineWriter, contentType, content string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ih.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := iw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		w.Close()
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}

func attachFile(mw *mail.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}

	var ah mail.AttachmentHeader
	ah.SetContentType("image/png", nil)
	ah.SetFilename(filepath.Base(path))
	ah.Set("Content-Transfer-Encoding", "base64")

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	return w.Close()
}

// deliver speaks SMTP to the configured server. Port 465 uses implicit TLS;
// other ports upgrade with STARTTLS when the server offers it.
func (e *EmailTransport) deliver(ctx context.Context, body []byte) error {
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	tlsConfig := &tls.Config{ServerName: e.cfg.Host}

	dialer := &net.Dialer{Timeout: 15 * time.Second}
	var conn net.Conn
	var err error
	if e.cfg.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP handshake failed: %w", err)
	}
	defer client.Close()

	if e.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	}

	if e.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", e.cfg.Username, e.cfg.Password)); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	from, err := mail.ParseAddress(e.cfg.From)
	if err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := client.Mail(from.Address, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range e.cfg.To {
		to, err := mail.ParseAddress(rcpt)
		if err != nil {
			return fmt.Errorf("invalid recipient: %w", err)
		}
		if err := client.Rcpt(to.Address); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", to.Address, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return fmt.Errorf("failed to send message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return client.Quit()
}
