package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/outage-watch/internal/config"
	"github.com/miradorstack/outage-watch/internal/models"
)

const smtpTimeout = 30 * time.Second

// ErrNoRecipients is returned when email delivery has nowhere to go.
var ErrNoRecipients = errors.New("no email recipients configured")

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends one HTML message per affected service.
type EmailNotifier struct {
	cfg      config.EmailConfig
	logger   *slog.Logger
	sendMail sendMailFunc
}

// NewEmailNotifier constructs an SMTP notifier.
func NewEmailNotifier(cfg config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "email_notifier")),
	}
	n.sendMail = n.smtpSend
	return n
}

func (n *EmailNotifier) Name() string { return "email" }

// Notify groups changes by service and sends each group separately. Failures
// for one service do not stop the others; all are joined into the result.
func (n *EmailNotifier) Notify(ctx context.Context, changes []models.ChangeEvent, narrative string) error {
	if len(changes) == 0 {
		return nil
	}
	if len(n.cfg.Recipients) == 0 {
		n.logger.Warn("no email recipients configured")
		return deliveryError(n.Name(), ErrNoRecipients)
	}

	order, grouped := groupByService(changes)
	var errs []error
	for _, service := range order {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		serviceChanges := grouped[service]
		msg, err := n.render(service, serviceChanges, narrative)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: render: %w", service, err))
			continue
		}
		if err := n.sendMail(n.addr(), n.auth(), n.cfg.Sender, n.cfg.Recipients, msg); err != nil {
			n.logger.Error("email send failed", slog.String("service", service), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", service, err))
			continue
		}
		n.logger.Info("email sent", slog.String("service", service), slog.Int("recipients", len(n.cfg.Recipients)))
	}
	return deliveryError(n.Name(), errors.Join(errs...))
}

func (n *EmailNotifier) addr() string {
	return net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
}

func (n *EmailNotifier) auth() smtp.Auth {
	if n.cfg.Username == "" || n.cfg.Password == "" {
		return nil
	}
	return smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
}

// smtpSend mirrors smtp.SendMail but refuses to continue in plaintext when
// UseTLS is set and the server does not offer STARTTLS.
func (n *EmailNotifier) smtpSend(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, smtpTimeout)
	if err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Now().Add(smtpTimeout))

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	} else if n.cfg.UseTLS {
		return errors.New("smtp server does not support STARTTLS")
	}
	if a != nil {
		if err := c.Auth(a); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (n *EmailNotifier) render(service string, changes []models.ChangeEvent, narrative string) ([]byte, error) {
	var body bytes.Buffer
	err := emailTemplate.Execute(&body, emailView{
		Service:   service,
		Changes:   changes,
		Narrative: narrative,
		Timestamp: changes[0].OccurredAt,
	})
	if err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.Sender)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(n.cfg.Recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", Subject(service, changes[0].Kind))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// Subject builds the subject line from the first change for a service.
func Subject(service string, kind models.ChangeKind) string {
	switch kind {
	case models.ChangeNewOutage:
		return "[ALERT] " + service + " is experiencing issues"
	case models.ChangeStatusChanged:
		return "[UPDATE] " + service + " status changed"
	case models.ChangeSeverityIncreased:
		return "[CRITICAL] " + service + " outage severity increased"
	case models.ChangeSeverityDecreased:
		return "[INFO] " + service + " outage severity decreased"
	case models.ChangeReportCountSpike:
		return "[WARNING] " + service + " reports spiking"
	case models.ChangeOutageResolved:
		return "[RESOLVED] " + service + " issues resolved"
	default:
		return "[UPDATE] " + service + " status update"
	}
}

func groupByService(changes []models.ChangeEvent) ([]string, map[string][]models.ChangeEvent) {
	var order []string
	grouped := make(map[string][]models.ChangeEvent)
	for _, c := range changes {
		if _, ok := grouped[c.ServiceID]; !ok {
			order = append(order, c.ServiceID)
		}
		grouped[c.ServiceID] = append(grouped[c.ServiceID], c)
	}
	return order, grouped
}

type emailView struct {
	Service   string
	Changes   []models.ChangeEvent
	Narrative string
	Timestamp time.Time
}

var emailTemplate = template.Must(template.New("email").Funcs(template.FuncMap{
	"kindLabel": func(k models.ChangeKind) string {
		words := strings.Split(string(k), "_")
		for i, w := range words {
			if w != "" {
				words[i] = strings.ToUpper(w[:1]) + w[1:]
			}
		}
		return strings.Join(words, " ")
	},
	"utc": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05 UTC") },
}).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
<h2>{{.Service}} status update</h2>
{{range .Changes}}<div style="margin: 15px 0; padding: 10px; border-left: 3px solid #f44336; background-color: #f9f9f9;">
<strong>{{kindLabel .Kind}}</strong>
<p>Status: {{.NewStatus}}</p>
<p>Report count: {{.NewReportCount}}</p>
<p>Severity: {{.NewSeverity}}</p>
<p>Time: {{utc .OccurredAt}}</p>
</div>
{{end}}{{if .Narrative}}<div style="margin: 20px 0; padding: 15px; background-color: #f0f0f0; border-radius: 5px;">
<h3>Summary</h3>
<p style="white-space: pre-wrap;">{{.Narrative}}</p>
</div>
{{end}}<p style="color: #888; font-size: 12px;">Sent by outage-watch at {{utc .Timestamp}}</p>
</body>
</html>
`))
