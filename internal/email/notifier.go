// Package email envía avisos por SMTP. Hoy el único correo del servicio es el
// de re-autenticación: cuando un refresh muere en error terminal, el usuario
// tiene que volver a conectar la plataforma.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

// AddressResolver resuelve el email de destino a partir del userID. El
// servicio de ads no es dueño de los perfiles de usuario, así que la
// resolución se inyecta.
type AddressResolver func(ctx context.Context, userID string) (string, error)

// SMTPSender envía correos vía SMTP.
type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

// NewSMTPSender crea un SMTPSender con TLS automático.
func NewSMTPSender(host string, port int, from, user, pass string) *SMTPSender {
	return &SMTPSender{
		Host:    host,
		Port:    port,
		From:    from,
		User:    user,
		Pass:    pass,
		TLSMode: "auto",
	}
}

// Send envía un email con cuerpo HTML y texto plano.
func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	// multipart/alternative (txt + html) cuando hay ambos
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: s.InsecureSkipVerify, // solo dev
	}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.InsecureSkipVerify}
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si corresponde
	}

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// ReauthNotifier implementa oauth.ReauthNotifier con correos SMTP.
type ReauthNotifier struct {
	sender  *SMTPSender
	resolve AddressResolver
	log     *zap.Logger
}

func NewReauthNotifier(sender *SMTPSender, resolve AddressResolver, log *zap.Logger) *ReauthNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReauthNotifier{sender: sender, resolve: resolve, log: log}
}

// NotifyReauthRequired envía el aviso de reconexión. Best effort: cualquier
// fallo se loguea y se traga.
func (n *ReauthNotifier) NotifyReauthRequired(ctx context.Context, userID, platformID string) {
	if n.sender == nil || n.resolve == nil {
		return
	}
	to, err := n.resolve(ctx, userID)
	if err != nil || to == "" {
		n.log.Warn("reauth email skipped, no address for user",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	name := displayName(platformID)
	subject := fmt.Sprintf("Action required: reconnect your %s account", name)
	text := fmt.Sprintf(
		"Hi,\n\nWe could no longer refresh your %s connection. "+
			"Please sign in again from the integrations page to keep your campaigns syncing.\n",
		name,
	)
	html := fmt.Sprintf(
		"<p>Hi,</p><p>We could no longer refresh your <b>%s</b> connection. "+
			"Please sign in again from the integrations page to keep your campaigns syncing.</p>",
		name,
	)

	if err := n.sender.Send(to, subject, html, text); err != nil {
		n.log.Warn("reauth email failed",
			zap.String("user_id", userID),
			zap.String("platform", platformID),
			zap.Error(err),
		)
		return
	}
	n.log.Info("reauth email sent",
		zap.String("user_id", userID),
		zap.String("platform", platformID),
	)
}

func displayName(platformID string) string {
	switch strings.ToLower(platformID) {
	case "google":
		return "Google Ads"
	case "facebook":
		return "Facebook"
	case "instagram":
		return "Instagram"
	case "meta":
		return "Meta"
	default:
		return platformID
	}
}
