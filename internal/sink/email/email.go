// Package email delivers digests over SMTP as a single HTML message.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/kvinther/job-agent/internal/digest"
)

type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"-"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

const bodyTemplate = `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; color: #1a202c; }
        .section { margin: 24px 0; }
        .listing { margin: 16px 0; padding: 12px; border: 1px solid #ddd; border-radius: 5px; }
        .strong { background-color: #e6ffe6; }
        .title { color: #2c5282; font-size: 17px; margin-bottom: 4px; }
        .company { color: #4a5568; font-weight: bold; margin-bottom: 4px; }
        .meta { color: #718096; font-size: 13px; }
        .score { float: right; font-weight: bold; }
        .rationale { margin-top: 6px; font-size: 14px; }
        ul { margin: 4px 0; }
    </style>
</head>
<body>
    <h1>Job digest — {{.GeneratedAt.Format "Jan 02, 2006"}}</h1>
    <p>{{.Total}} matching listing{{if ne .Total 1}}s{{end}}, {{.StrongMatches}} strong.</p>

    {{range .Sections}}
    <div class="section">
        <h2>{{.Sector}}</h2>
        {{range .Entries}}
        <div class="listing{{if ge .Score.Value 80}} strong{{end}}">
            <span class="score">{{.Score.Value}}</span>
            <div class="title">{{.Title}}</div>
            <div class="company">{{.Company}}</div>
            <div class="meta">{{.Location}} · via {{.Source}}</div>
            {{if .Score.Rationale}}<div class="rationale">{{.Score.Rationale}}</div>{{end}}
            {{if .Score.Highlights}}<ul>{{range .Score.Highlights}}<li>{{.}}</li>{{end}}</ul>{{end}}
            {{if .URL}}<a href="{{.URL}}">View listing</a>{{end}}
        </div>
        {{end}}
    </div>
    {{end}}
</body>
</html>
`

type Sink struct {
	cfg      Config
	tmpl     *template.Template
	logger   *zap.Logger
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	tmpl, err := template.New("digest").Parse(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing digest template: %w", err)
	}

	return &Sink{
		cfg:      cfg,
		tmpl:     tmpl,
		logger:   logger,
		sendMail: smtp.SendMail,
	}, nil
}

func (s *Sink) Name() string {
	return "email"
}

// Deliver sends the digest as one HTML mail. An empty digest is not sent at
// all; silence means no matches.
func (s *Sink) Deliver(ctx context.Context, d *digest.Digest) error {
	if d.Empty() {
		s.logger.Info("digest is empty, skipping delivery")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := s.render(d)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	s.logger.Info("sending digest",
		zap.String("to", s.cfg.To),
		zap.Int("listings", d.Total),
		zap.Int("strong_matches", d.StrongMatches),
	)

	if err := s.sendMail(addr, auth, s.cfg.From, []string{s.cfg.To}, msg); err != nil {
		return fmt.Errorf("sending digest mail: %w", err)
	}
	return nil
}

func (s *Sink) render(d *digest.Digest) ([]byte, error) {
	var body bytes.Buffer
	if err := s.tmpl.Execute(&body, d); err != nil {
		return nil, fmt.Errorf("rendering digest: %w", err)
	}

	subject := fmt.Sprintf("Job digest: %d listings (%d strong) — %s",
		d.Total, d.StrongMatches, d.GeneratedAt.Format("Jan 02, 2006"))

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", s.cfg.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}
