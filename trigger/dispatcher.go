// Package trigger runs configured notification actions: internal SMS and
// e-mail alarms, or an outbound HTTP call built from templated parameters.
package trigger

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"intellikeeper/metrics"
	"intellikeeper/store"
)

// InternalProtocol routes a trigger to a built-in action named by its URL.
const InternalProtocol = "intellikeeper"

// Built-in actions.
const (
	ActionSMS   = "sms-alarm"
	ActionEmail = "email-alarm"
)

type LogFunc func(format string, args ...any)

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// Caller performs the outbound request of a non-internal trigger.
type Caller interface {
	Call(ctx context.Context, method, url string, headers, params map[string]string) error
}

type Config struct {
	SMS     SMSSender
	Mailer  Mailer
	Caller  Caller
	Subject string
	Metrics *metrics.Metrics
	LogFunc LogFunc
}

type Dispatcher struct {
	sms     SMSSender
	mailer  Mailer
	caller  Caller
	subject string
	metrics *metrics.Metrics
	logFn   LogFunc
}

func NewDispatcher(c Config) *Dispatcher {
	d := &Dispatcher{
		sms:     c.SMS,
		mailer:  c.Mailer,
		caller:  c.Caller,
		subject: c.Subject,
		metrics: c.Metrics,
		logFn:   c.LogFunc,
	}
	if d.logFn == nil {
		d.logFn = log.Printf
	}
	if d.subject == "" {
		d.subject = "IntelliKeeper alert"
	}
	return d
}

var methods = map[int]string{
	store.MethodGet:  http.MethodGet,
	store.MethodPost: http.MethodPost,
	store.MethodPut:  http.MethodPut,
}

// Invoke runs one trigger. Inactive triggers, malformed params or headers,
// unknown internal actions and missing recipients are skipped without
// error. Only a failed send or outbound call is returned.
func (d *Dispatcher) Invoke(ctx context.Context, inv Invocation) error {
	t := inv.Trigger
	if t == nil {
		return nil
	}
	if !t.IsActive {
		d.metrics.Dispatch(metrics.DispatchInactive)
		return nil
	}
	params, ok := parseMapping(t.Params)
	if !ok {
		d.skip("trigger %d: callback params are not a mapping", t.ID)
		return nil
	}
	vars := inv.Vars()
	params = renderAll(params, vars)

	if t.Protocol == InternalProtocol {
		return d.internal(ctx, inv, params)
	}

	headers, ok := parseMapping(t.Headers)
	if !ok {
		d.skip("trigger %d: callback headers are not a mapping", t.ID)
		return nil
	}
	headers = renderAll(headers, vars)

	method, ok := methods[t.Method]
	if !ok {
		d.skip("trigger %d: unknown callback method %d", t.ID, t.Method)
		return nil
	}
	target := fmt.Sprintf("%s://%s", t.Protocol, Render(t.URL, vars))
	if d.caller == nil {
		d.skip("trigger %d: no outbound caller configured", t.ID)
		return nil
	}
	if err := d.caller.Call(ctx, method, target, headers, params); err != nil {
		d.metrics.Dispatch(metrics.DispatchFailed)
		return fmt.Errorf("trigger %d %s %s: %w", t.ID, method, target, err)
	}
	d.metrics.Dispatch(metrics.DispatchOK)
	return nil
}

func (d *Dispatcher) internal(ctx context.Context, inv Invocation, params map[string]string) error {
	t := inv.Trigger
	switch t.URL {
	case ActionSMS:
		to := params["send_to"]
		if to == "" {
			d.skip("trigger %d: sms-alarm without send_to", t.ID)
			return nil
		}
		if d.sms == nil {
			d.skip("trigger %d: sms alarms not configured", t.ID)
			return nil
		}
		if err := d.sms.SendSMS(ctx, to, AlarmText(inv)); err != nil {
			d.metrics.Dispatch(metrics.DispatchFailed)
			return fmt.Errorf("trigger %d sms to %s: %w", t.ID, to, err)
		}
	case ActionEmail:
		to := params["mail_to"]
		if to == "" {
			d.skip("trigger %d: email-alarm without mail_to", t.ID)
			return nil
		}
		if d.mailer == nil {
			d.skip("trigger %d: email alarms not configured", t.ID)
			return nil
		}
		if err := d.mailer.SendMail(ctx, to, d.subject, AlarmText(inv)); err != nil {
			d.metrics.Dispatch(metrics.DispatchFailed)
			return fmt.Errorf("trigger %d mail to %s: %w", t.ID, to, err)
		}
	default:
		d.skip("trigger %d: unknown internal action %q", t.ID, t.URL)
		return nil
	}
	d.metrics.Dispatch(metrics.DispatchOK)
	return nil
}

func (d *Dispatcher) skip(format string, args ...any) {
	d.metrics.Dispatch(metrics.DispatchSkipped)
	d.logFn("trigger: "+format, args...)
}

// AlarmText is the message body of the built-in alarms.
func AlarmText(inv Invocation) string {
	var tagName, devName, devLoc string
	if inv.Tag != nil {
		tagName = inv.Tag.Name
	}
	if inv.Device != nil {
		devName, devLoc = inv.Device.Name, inv.Device.Location
	}
	return fmt.Sprintf("Your item %s may have been stolen (base station: %s, location: %s). Sign in to IntelliKeeper for details.",
		tagName, devName, devLoc)
}
