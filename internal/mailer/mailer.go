// Package mailer sends the transactional emails of the account flows over
// SMTP.
package mailer

import (
	"fmt"
	"html"
	"time"

	gomail "gopkg.in/gomail.v2"
)

type Mailer struct {
	dialer  *gomail.Dialer
	from    string
	project string
}

func New(host string, port int, user, pass, from, project string) *Mailer {
	return &Mailer{
		dialer:  gomail.NewDialer(host, port, user, pass),
		from:    from,
		project: project,
	}
}

func (m *Mailer) send(to, subject, htmlBody string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)
	return m.dialer.DialAndSend(msg)
}

// SendAccessEmail delivers the activation link of a freshly created
// account.
func (m *Mailer) SendAccessEmail(to, displayName, link string) error {
	body := fmt.Sprintf(`
		<p>Bonjour %s,</p>
		<p>Votre compte %s a été créé. Choisissez votre mot de passe via le lien ci-dessous :</p>
		<p><a href="%s">Définir mon mot de passe</a></p>
		<p>Ce lien est personnel et expire sous 48&nbsp;heures.</p>`,
		html.EscapeString(displayName), html.EscapeString(m.project), html.EscapeString(link))
	return m.send(to, m.project+" : accès à votre compte", body)
}

// SendResetCodeEmail delivers a short-lived verification code.
func (m *Mailer) SendResetCodeEmail(to, code string, ttl time.Duration) error {
	body := fmt.Sprintf(`
		<p>Bonjour,</p>
		<p>Votre code de vérification est :</p>
		<p style="font-size:24px;letter-spacing:4px;"><strong>%s</strong></p>
		<p>Il expire dans %d minutes. Si vous n'êtes pas à l'origine de cette demande, ignorez ce message.</p>`,
		html.EscapeString(code), int(ttl.Minutes()))
	return m.send(to, m.project+" : code de vérification", body)
}

// SendPasswordChangedEmail warns the owner that their password changed.
func (m *Mailer) SendPasswordChangedEmail(to, displayName string) error {
	body := fmt.Sprintf(`
		<p>Bonjour %s,</p>
		<p>Le mot de passe de votre compte %s vient d'être modifié.</p>
		<p>Si vous n'êtes pas à l'origine de ce changement, contactez l'administration immédiatement.</p>`,
		html.EscapeString(displayName), html.EscapeString(m.project))
	return m.send(to, m.project+" : mot de passe modifié", body)
}

// SendEmailChangedEmail warns the previous address that the account email
// moved.
func (m *Mailer) SendEmailChangedEmail(oldAddress, newAddress, displayName string) error {
	body := fmt.Sprintf(`
		<p>Bonjour %s,</p>
		<p>L'adresse email de votre compte a été remplacée par %s.</p>
		<p>Si vous n'êtes pas à l'origine de ce changement, contactez l'administration immédiatement.</p>`,
		html.EscapeString(displayName), html.EscapeString(newAddress))
	return m.send(oldAddress, m.project+" : adresse email modifiée", body)
}
