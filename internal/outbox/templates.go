package outbox

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
)

// ErrUnknownKind marks a row the worker cannot render. Such rows are parked,
// not dropped.
var ErrUnknownKind = errors.New("unknown notification kind")

// Rendered is a ready-to-send email body.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

var baseTmpl = template.Must(template.New("base").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<body style="font-family: Arial, sans-serif; color: #1f2933; margin: 0; padding: 24px;">
  <div style="max-width: 560px; margin: 0 auto;">
    <h2 style="color: #0b5394; margin-bottom: 4px;">ZG Planner</h2>
    {{block "content" .}}{{end}}
    <p style="color: #7b8794; font-size: 12px; margin-top: 32px;">
      Este e-mail foi enviado automaticamente pelo ZG Planner. Não responda.
    </p>
  </div>
</body>
</html>`))

func mustContent(name, content string) *template.Template {
	t := template.Must(baseTmpl.Clone())
	return template.Must(t.New(name).Parse(`{{define "content"}}` + content + `{{end}}`))
}

var (
	commentTmpl = mustContent("comment_email", `
    <p>Olá{{if .recipient_name}}, {{.recipient_name}}{{end}}!</p>
    <p><strong>{{.author_name}}</strong> comentou na tarefa <strong>{{.task_title}}</strong>:</p>
    <blockquote style="border-left: 3px solid #0b5394; margin: 12px 0; padding: 4px 12px; color: #3e4c59;">
      {{.comment_text}}
    </blockquote>
    {{if .extra_count}}<p>E mais {{.extra_count}} comentário(s) recente(s) nesta tarefa.</p>{{end}}
    {{if .status_label}}<p>Status da tarefa: {{.status_label}}</p>{{end}}
    {{if .task_url}}<p><a href="{{.task_url}}">Ver tarefa</a></p>{{end}}`)

	approvalSubmittedTmpl = mustContent("approval_submitted", `
    <p>Olá!</p>
    <p><strong>{{.requester_name}}</strong> enviou a tarefa <strong>{{.task_title}}</strong> para sua aprovação.</p>
    {{if .task_url}}<p><a href="{{.task_url}}">Revisar tarefa</a></p>{{end}}`)

	taskApprovedTmpl = mustContent("task_approved", `
    <p>Boa notícia!</p>
    <p>A tarefa <strong>{{.task_title}}</strong> foi <strong style="color: #1b7a43;">aprovada</strong> por {{.approver_name}}.</p>
    {{if .task_url}}<p><a href="{{.task_url}}">Ver tarefa</a></p>{{end}}`)

	taskRejectedTmpl = mustContent("task_rejected", `
    <p>Atenção:</p>
    <p>A tarefa <strong>{{.task_title}}</strong> foi <strong style="color: #ab091e;">reprovada</strong> por {{.approver_name}}.</p>
    {{if .reason}}<p>Motivo: {{.reason}}</p>{{end}}
    {{if .task_url}}<p><a href="{{.task_url}}">Ver tarefa</a></p>{{end}}`)

	passwordResetTmpl = mustContent("password_reset", `
    <p>Olá{{if .user_name}}, {{.user_name}}{{end}}!</p>
    <p>Recebemos um pedido para redefinir a sua senha.</p>
    <p><a href="{{.reset_url}}" style="background: #0b5394; color: #ffffff; padding: 10px 18px; text-decoration: none; border-radius: 4px;">Redefinir senha</a></p>
    <p>O link expira em {{.expires_minutes}} minutos. Se você não pediu a redefinição, ignore este e-mail.</p>`)
)

// Render produces the subject and body for one outbox row. plain_email rows
// carry their own subject and body in the payload and bypass templating.
func Render(kind Kind, payload map[string]any) (Rendered, error) {
	switch kind {
	case KindCommentEmail:
		subject := fmt.Sprintf("Novo comentário em: %s", str(payload, "task_title"))
		return execute(commentTmpl, subject, payload)
	case KindApprovalSubmitted:
		subject := fmt.Sprintf("Aprovação pendente: %s", str(payload, "task_title"))
		return execute(approvalSubmittedTmpl, subject, payload)
	case KindTaskApproved:
		subject := fmt.Sprintf("Tarefa aprovada: %s", str(payload, "task_title"))
		return execute(taskApprovedTmpl, subject, payload)
	case KindTaskRejected:
		subject := fmt.Sprintf("Tarefa reprovada: %s", str(payload, "task_title"))
		return execute(taskRejectedTmpl, subject, payload)
	case KindPasswordReset:
		return execute(passwordResetTmpl, "Redefinição de senha - ZG Planner", payload)
	case KindPlainEmail:
		return Rendered{
			Subject: str(payload, "subject"),
			HTML:    str(payload, "html_body"),
			Text:    str(payload, "text_body"),
		}, nil
	default:
		return Rendered{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

func execute(t *template.Template, subject string, payload map[string]any) (Rendered, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", payload); err != nil {
		return Rendered{}, fmt.Errorf("render template: %w", err)
	}
	return Rendered{Subject: subject, HTML: buf.String()}, nil
}

func str(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
