package digest

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/formrelay/form-service/internal/config"
	"github.com/formrelay/form-service/internal/repository"
	"github.com/jordan-wright/email"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const window = 24 * time.Hour

// SubmissionCounter yields recent per-form submission counts,
// implemented by repository.Repository.
type SubmissionCounter interface {
	CountSubmissionsSince(ctx context.Context, since time.Time) ([]repository.DigestRow, error)
}

// Mailer sends one digest mail, implemented by Sender
type Mailer interface {
	SendDigest(to string, rows []repository.DigestRow) error
}

// Sender delivers digest emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// SendDigest mails one owner a summary of yesterday's submissions
func (s *Sender) SendDigest(to string, rows []repository.DigestRow) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Your form submissions in the last 24 hours"

	body := "Hello,\n\nYour forms received new submissions:\n\n"
	for _, row := range rows {
		body += fmt.Sprintf("  %s (%s): %d submission(s)\n", row.FormName, row.FormID, row.Count)
	}
	body += "\nBest regards,\nForm Service"
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send digest to %s: %v", to, err)
		return fmt.Errorf("failed to send digest: %w", err)
	}

	s.logger.Infof("Digest sent to %s", to)
	return nil
}

// Scheduler runs the daily digest job
type Scheduler struct {
	counter SubmissionCounter
	mailer  Mailer
	log     *logrus.Logger
	cron    *cron.Cron
	now     func() time.Time
}

// NewScheduler initializes the digest scheduler
func NewScheduler(counter SubmissionCounter, mailer Mailer, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		counter: counter,
		mailer:  mailer,
		log:     log,
		cron:    cron.New(),
		now:     time.Now,
	}
}

// Start schedules the digest with the given cron expression
func (s *Scheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.Run); err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.Infof("Digest scheduled: %s", schedule)
	return nil
}

// Stop halts the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Run collects the last day's submission counts and mails each form
// owner one summary. A failed mail is logged and does not block the
// remaining owners.
func (s *Scheduler) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rows, err := s.counter.CountSubmissionsSince(ctx, s.now().Add(-window))
	if err != nil {
		s.log.Errorf("Digest query failed: %v", err)
		return
	}
	if len(rows) == 0 {
		s.log.Debug("No submissions in digest window")
		return
	}

	byOwner := map[string][]repository.DigestRow{}
	for _, row := range rows {
		byOwner[row.OwnerEmail] = append(byOwner[row.OwnerEmail], row)
	}

	for owner, ownerRows := range byOwner {
		if err := s.mailer.SendDigest(owner, ownerRows); err != nil {
			s.log.Errorf("Digest delivery to %s failed: %v", owner, err)
		}
	}
}
