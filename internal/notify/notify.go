package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/foxzi/adcraft/internal/export"
	"github.com/foxzi/adcraft/internal/models"
)

// Notifier is told when a generation job reaches a final state
type Notifier interface {
	JobFinished(ctx context.Context, job *models.GenerationJob) error
}

// SMTPConfig configures e-mail notifications
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	// ImplicitTLS dials with TLS from the start (port 465)
	ImplicitTLS bool
}

// New returns an SMTP notifier, or a no-op one when no host or recipient is set
func New(cfg SMTPConfig, logger *slog.Logger) Notifier {
	if cfg.Host == "" || len(cfg.To) == 0 {
		return Noop{}
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = "adcraft@localhost"
	}
	return &SMTPNotifier{
		cfg:    cfg,
		logger: logger.With("component", "notify"),
		send:   smtp.SendMail,
	}
}

// SMTPNotifier sends a plain-text summary through an SMTP relay
type SMTPNotifier struct {
	cfg    SMTPConfig
	logger *slog.Logger
	send   func(addr string, a sasl.Client, from string, to []string, r io.Reader) error
}

// JobFinished sends the job summary to the configured recipients
func (n *SMTPNotifier) JobFinished(ctx context.Context, job *models.GenerationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := BuildMessage(n.cfg.From, n.cfg.To, job, time.Now())
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	var auth sasl.Client
	if n.cfg.Username != "" {
		auth = sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)
	}

	send := n.send
	if n.cfg.ImplicitTLS {
		send = smtp.SendMailTLS
	}
	if err := send(addr, auth, n.cfg.From, n.cfg.To, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	n.logger.Info("job notification sent",
		"job_id", job.ID,
		"status", job.Status,
		"recipients", len(n.cfg.To),
	)
	return nil
}

// BuildMessage renders an RFC 5322 message summarizing the job
func BuildMessage(from string, to []string, job *models.GenerationJob, now time.Time) []byte {
	name := job.CampaignName
	if name == "" && job.Campaign != nil {
		name = job.Campaign.Name
	}
	if name == "" {
		name = job.CampaignID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: [adcraft] %s: %s\r\n", name, job.Status)
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@adcraft>\r\n", uuid.New().String())
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "Campaign: %s\r\n", name)
	fmt.Fprintf(&b, "Job: %s\r\n", job.ID)
	fmt.Fprintf(&b, "Status: %s\r\n", job.Status)
	fmt.Fprintf(&b, "Assets: %d completed, %d failed, %d total\r\n", job.CompletedCount, job.FailedCount, job.TotalCount)
	if job.StartedAt != nil && job.CompletedAt != nil {
		fmt.Fprintf(&b, "Duration: %s\r\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Millisecond))
	}
	if job.Error != "" {
		fmt.Fprintf(&b, "Error: %s\r\n", job.Error)
	}

	var archiveBytes int64
	for _, a := range job.Assets {
		archiveBytes += a.SizeBytes
	}
	if archiveBytes > 0 {
		fmt.Fprintf(&b, "Rendered size: %s\r\n", export.FormatBytes(archiveBytes))
	}
	if job.ArchiveURL != "" {
		fmt.Fprintf(&b, "Download: %s\r\n", job.ArchiveURL)
	} else if job.ZipPath != "" {
		fmt.Fprintf(&b, "Archive: %s\r\n", job.ZipPath)
	}

	failed := 0
	for _, a := range job.Assets {
		if a.Status != models.AssetFailed {
			continue
		}
		if failed == 0 {
			b.WriteString("\r\nFailed assets:\r\n")
		}
		failed++
		if failed > 20 {
			fmt.Fprintf(&b, "  ... and %d more\r\n", job.FailedCount-20)
			break
		}
		fmt.Fprintf(&b, "  %s: %s\r\n", a.ID, a.Error)
	}

	return []byte(b.String())
}

// Noop discards notifications
type Noop struct{}

// JobFinished does nothing
func (Noop) JobFinished(context.Context, *models.GenerationJob) error { return nil }
