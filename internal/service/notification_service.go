package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/pkg/jobs"
)

// JobTypeNotification tags queue jobs carrying a models.Notification.
const JobTypeNotification = "notification"

type notificationDispatcher interface {
	TryEnqueue(job jobs.Job) error
}

type notificationInbox interface {
	Push(ctx context.Context, notification models.Notification) error
}

// NotificationService is the fire-and-forget notifier. Messages are handed to
// the job queue; a full or stopped queue drops the message with a warning.
type NotificationService struct {
	queue   notificationDispatcher
	metrics *MetricsService
	logger  *zap.Logger
	enabled bool
	now     func() time.Time
}

// NewNotificationService constructs the notifier.
func NewNotificationService(queue notificationDispatcher, metrics *MetricsService, logger *zap.Logger, enabled bool) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{queue: queue, metrics: metrics, logger: logger, enabled: enabled, now: time.Now}
}

// Notify queues a message for the user. It never fails the caller.
func (s *NotificationService) Notify(userID string, kind models.NotificationType, title, body string, data map[string]string) {
	if s == nil || !s.enabled || s.queue == nil || userID == "" {
		return
	}
	notification := models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      kind,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: s.now().UTC(),
	}
	if err := s.queue.TryEnqueue(jobs.Job{ID: notification.ID, Type: JobTypeNotification, Payload: notification}); err != nil {
		s.metrics.RecordNotification(kind, "dropped")
		s.logger.Warn("notification dropped",
			zap.String("user_id", userID),
			zap.String("type", string(kind)),
			zap.Error(err),
		)
		return
	}
	s.metrics.RecordNotification(kind, "queued")
}

// SeatGranted tells a waitlisted student they were promoted.
func (s *NotificationService) SeatGranted(enrollment *models.Enrollment) {
	s.Notify(enrollment.StudentID, models.NotificationSeatGranted,
		"Seat granted",
		"A seat opened up and you have been enrolled from the waitlist.",
		enrollmentData(enrollment))
}

// DropConfirmed confirms a drop to the student.
func (s *NotificationService) DropConfirmed(enrollment *models.Enrollment) {
	s.Notify(enrollment.StudentID, models.NotificationDropConfirmed,
		"Enrollment dropped",
		"Your enrollment has been dropped.",
		enrollmentData(enrollment))
}

// ManualEnrolled tells the student a staff member enrolled them.
func (s *NotificationService) ManualEnrolled(enrollment *models.Enrollment, actorID string) {
	data := enrollmentData(enrollment)
	data["actor_id"] = actorID
	s.Notify(enrollment.StudentID, models.NotificationManualEnrolled,
		"Enrolled by staff",
		"A staff member enrolled you in a section.",
		data)
}

func enrollmentData(enrollment *models.Enrollment) map[string]string {
	return map[string]string{
		"enrollment_id": enrollment.ID,
		"section_id":    enrollment.SectionID,
		"term_id":       enrollment.TermID,
	}
}

// NotificationWorker delivers queued notifications to the inbox.
type NotificationWorker struct {
	inbox   notificationInbox
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationWorker constructs the worker.
func NewNotificationWorker(inbox notificationInbox, metrics *MetricsService, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{inbox: inbox, metrics: metrics, logger: logger}
}

// Handle processes a queue job.
func (w *NotificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	notification, ok := job.Payload.(models.Notification)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	if err := w.inbox.Push(ctx, notification); err != nil {
		return err
	}
	w.metrics.RecordNotification(notification.Type, "delivered")
	return nil
}

// Discarded records a notification whose retries ran out.
func (w *NotificationWorker) Discarded(job jobs.Job, err error) {
	if notification, ok := job.Payload.(models.Notification); ok {
		w.metrics.RecordNotification(notification.Type, "failed")
	}
	w.logger.Warn("notification discarded", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
}
