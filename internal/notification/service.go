// Package notification turns domain events into outbox rows. Nothing here
// sends mail directly; the outbox worker owns delivery.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/internal/config"
	"github.com/patrckmello/zg-planner/internal/domain/task"
	"github.com/patrckmello/zg-planner/internal/outbox"
)

// PasswordResetTTL bounds how long a reset link stays valid.
const PasswordResetTTL = 30 * time.Minute

// User is the minimal identity view this package needs.
type User struct {
	ID    int64
	Name  string
	Email string
}

// UserDirectory resolves user identities. Implemented by the postgres
// adapter; tests use a map-backed fake.
type UserDirectory interface {
	EmailsByIDs(ctx context.Context, ids []int64) (map[int64]string, error)
	// FindByEmail returns nil without error when no active user matches.
	FindByEmail(ctx context.Context, email string) (*User, error)
}

type Service struct {
	store *outbox.Store
	users UserDirectory
	cfg   *config.Config
	log   *zap.Logger
}

func NewService(store *outbox.Store, users UserDirectory, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		store: store,
		users: users,
		cfg:   cfg,
		log:   logger.Named("notification"),
	}
}

// CommentPosted carries the fields of a freshly written comment.
type CommentPosted struct {
	CommentID   int64
	AuthorID    int64
	AuthorName  string
	CommentText string
}

// recipientIDs collects everyone attached to a task: owner, assignees,
// collaborators and the assigning manager, minus excluded ids, deduplicated.
func recipientIDs(t *task.Task, exclude ...int64) []int64 {
	skip := map[int64]bool{}
	for _, id := range exclude {
		skip[id] = true
	}

	seen := map[int64]bool{}
	var out []int64
	add := func(id int64) {
		if id == 0 || skip[id] || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	add(t.UserID)
	for _, id := range t.AssignedUserIDs {
		add(id)
	}
	for _, id := range t.CollaboratorIDs {
		add(id)
	}
	if t.AssignedByUserID != nil {
		add(*t.AssignedByUserID)
	}
	return out
}

// NotifyCommentPosted enqueues one comment email per recipient. The author
// never gets notified about their own comment. Per-recipient dispatch keys
// let rapid consecutive comments merge into a single email.
func (s *Service) NotifyCommentPosted(ctx context.Context, t *task.Task, ev CommentPosted) error {
	ids := recipientIDs(t, ev.AuthorID)
	if len(ids) == 0 {
		return nil
	}

	emails, err := s.users.EmailsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}

	for _, id := range ids {
		email, ok := emails[id]
		if !ok || email == "" {
			continue
		}
		_, err := s.store.Enqueue(ctx, outbox.EnqueueParams{
			Kind:       outbox.KindCommentEmail,
			Recipients: []string{email},
			Payload: map[string]any{
				"task_title":   t.Title,
				"author_name":  ev.AuthorName,
				"comment_text": snippet(ev.CommentText),
				"status_label": statusLabel(t.Status),
				"task_url":     s.taskURL(t.ID),
			},
			DispatchKey: outbox.CommentDispatchKey(t.ID, id),
			EventID:     ev.CommentID,
		})
		if err != nil {
			s.log.Error("comment_notification_failed",
				zap.Int64("task_id", t.ID),
				zap.Int64("recipient_id", id),
				zap.Error(err))
		}
	}
	return nil
}

// NotifyApprovalSubmitted mails the approvers that a task awaits their review.
func (s *Service) NotifyApprovalSubmitted(ctx context.Context, t *task.Task, requesterName string, approverIDs []int64) error {
	emails, err := s.users.EmailsByIDs(ctx, approverIDs)
	if err != nil {
		return fmt.Errorf("resolve approvers: %w", err)
	}

	recipients := make([]string, 0, len(emails))
	for _, id := range approverIDs {
		if email := emails[id]; email != "" {
			recipients = append(recipients, email)
		}
	}

	_, err = s.store.Enqueue(ctx, outbox.EnqueueParams{
		Kind:       outbox.KindApprovalSubmitted,
		Recipients: recipients,
		Payload: map[string]any{
			"task_title":     t.Title,
			"requester_name": requesterName,
			"task_url":       s.taskURL(t.ID),
		},
	})
	return err
}

// NotifyApprovalDecision mails the task owner the outcome of a review.
func (s *Service) NotifyApprovalDecision(ctx context.Context, t *task.Task, approverName string, approved bool, reason string) error {
	emails, err := s.users.EmailsByIDs(ctx, []int64{t.UserID})
	if err != nil {
		return fmt.Errorf("resolve owner: %w", err)
	}
	owner := emails[t.UserID]
	if owner == "" {
		return nil
	}

	kind := outbox.KindTaskApproved
	payload := map[string]any{
		"task_title":    t.Title,
		"approver_name": approverName,
		"task_url":      s.taskURL(t.ID),
	}
	if !approved {
		kind = outbox.KindTaskRejected
		if reason != "" {
			payload["reason"] = reason
		}
	}

	_, err = s.store.Enqueue(ctx, outbox.EnqueueParams{
		Kind:       kind,
		Recipients: []string{owner},
		Payload:    payload,
	})
	return err
}

// RequestPasswordReset looks up the address and, when it belongs to an
// active user, enqueues a reset email. Unknown addresses are a silent no-op
// so the endpoint cannot be used to probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		s.log.Debug("password_reset_unknown_email")
		return nil
	}
	return s.SendPasswordReset(ctx, u.ID, u.Email, u.Name)
}

// SendPasswordReset enqueues a reset email carrying a signed, short-lived
// token.
func (s *Service) SendPasswordReset(ctx context.Context, userID int64, email, name string) error {
	token, err := s.passwordResetToken(userID)
	if err != nil {
		return fmt.Errorf("sign reset token: %w", err)
	}

	_, err = s.store.Enqueue(ctx, outbox.EnqueueParams{
		Kind:       outbox.KindPasswordReset,
		Recipients: []string{email},
		Payload: map[string]any{
			"user_name":       name,
			"reset_url":       fmt.Sprintf("%s/reset-password?token=%s", s.cfg.AppRootURL, token),
			"expires_minutes": int(PasswordResetTTL.Minutes()),
		},
	})
	return err
}

// SendPlainEmail enqueues an arbitrary email, optionally with attachments.
func (s *Service) SendPlainEmail(ctx context.Context, recipients []string, subject, htmlBody string) error {
	_, err := s.store.Enqueue(ctx, outbox.EnqueueParams{
		Kind:       outbox.KindPlainEmail,
		Recipients: recipients,
		Payload: map[string]any{
			"subject":   subject,
			"html_body": htmlBody,
		},
	})
	return err
}

func (s *Service) passwordResetToken(userID int64) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", userID),
		Issuer:    "zg-planner",
		Audience:  jwt.ClaimStrings{"password-reset"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(PasswordResetTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.AuthJWTSecret))
}

// VerifyPasswordResetToken validates a reset token and returns the user id.
func (s *Service) VerifyPasswordResetToken(raw string) (int64, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.AuthJWTSecret), nil
	}, jwt.WithAudience("password-reset"), jwt.WithIssuer("zg-planner"))
	if err != nil {
		return 0, fmt.Errorf("invalid reset token: %w", err)
	}
	if !token.Valid {
		return 0, fmt.Errorf("invalid reset token")
	}

	var userID int64
	if _, err := fmt.Sscanf(claims.Subject, "%d", &userID); err != nil {
		return 0, fmt.Errorf("invalid token subject: %w", err)
	}
	return userID, nil
}

func (s *Service) taskURL(taskID int64) string {
	return fmt.Sprintf("%s/tasks/%d", s.cfg.AppRootURL, taskID)
}

const snippetMaxRunes = 300

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetMaxRunes {
		return text
	}
	return string(runes[:snippetMaxRunes]) + "…"
}

func statusLabel(st task.Status) string {
	switch st {
	case task.StatusPending:
		return "Pendente"
	case task.StatusInProgress:
		return "Em andamento"
	case task.StatusDone:
		return "Concluída"
	case task.StatusCancelled:
		return "Cancelada"
	case task.StatusArchived:
		return "Arquivada"
	default:
		return string(st)
	}
}
