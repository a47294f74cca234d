package notify

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"family-alert-go/internal/domain/user"
	"family-alert-go/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const defaultSendConcurrency = 4

type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
}

type Result struct {
	Sent   int
	Failed int
}

type Dispatcher struct {
	profiles    ProfileReader
	mailer      Mailer
	recorder    Recorder
	log         logger.Logger
	concurrency int
}

func NewDispatcher(profiles ProfileReader, mailer Mailer, recorder Recorder, log logger.Logger) *Dispatcher {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Dispatcher{
		profiles:    profiles,
		mailer:      mailer,
		recorder:    recorder,
		log:         log,
		concurrency: defaultSendConcurrency,
	}
}

// Dispatch sends one email per emergency contact of the alert owner. Send
// failures are logged and counted; only a failed profile lookup is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) (Result, error) {
	profile, err := d.profiles.GetProfile(ctx, event.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("load alert owner %s: %w", event.UserID, err)
	}
	if len(profile.EmergencyContacts) == 0 {
		d.log.Debug("notify: no emergency contacts", "alert_id", event.AlertID, "user_id", event.UserID)
		return Result{}, nil
	}

	name := event.UserName
	if name == "" {
		name = profile.Name
	}

	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, contact := range profile.EmergencyContacts {
		msg := buildMessage(contact, name, event)
		g.Go(func() error {
			if err := d.mailer.Send(gctx, msg); err != nil {
				failed.Add(1)
				d.recorder.EmailFailed()
				d.log.InternalError("notify: send email failed", err, "alert_id", event.AlertID, "to", msg.To)
				return nil
			}
			sent.Add(1)
			d.recorder.EmailSent()
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Sent: int(sent.Load()), Failed: int(failed.Load())}
	d.log.Info("notify: alert dispatched", "alert_id", event.AlertID, "sent", result.Sent, "failed", result.Failed)
	return result, nil
}

func buildMessage(contact user.EmergencyContact, name string, event Event) Message {
	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\n\n", contact.Name)
	fmt.Fprintf(&body, "%s has raised a %s emergency alert.\n\n", name, strings.ReplaceAll(event.EmergencyType, "-", " "))
	if event.Address != "" {
		fmt.Fprintf(&body, "Address: %s\n", event.Address)
	}
	fmt.Fprintf(&body, "Location: https://www.google.com/maps?q=%f,%f\n", event.Latitude, event.Longitude)
	if event.Phone != "" {
		fmt.Fprintf(&body, "Phone: %s\n", event.Phone)
	}
	if event.Notes != "" {
		fmt.Fprintf(&body, "Notes: %s\n", event.Notes)
	}
	fmt.Fprintf(&body, "Time: %s\n", event.CreatedAt.UTC().Format(time.RFC1123))

	return Message{
		To:      contact.Email,
		ToName:  contact.Name,
		Subject: fmt.Sprintf("Emergency alert from %s", name),
		Body:    body.String(),
	}
}
