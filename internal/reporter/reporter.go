// Package reporter forwards failures to the admin conversation.
package reporter

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/messenger"
	"github.com/roelfdiedericks/pagebot/internal/metrics"
)

// Report describes one failure.
type Report struct {
	Component string // "webhook", "registration", "commands", "broadcast"
	Message   string
	Detail    string // optional, e.g. a recovered panic stack
}

// Reporter sends diagnostics to the admin. It never fails.
type Reporter struct {
	sender    messenger.Sender
	adminID   string
	reportURL string
}

// New creates a Reporter. With an empty adminID reports are only logged.
func New(sender messenger.Sender, adminID, reportURL string) *Reporter {
	if adminID == "" {
		L_warn("reporter: no admin id configured, errors will only be logged")
	}
	return &Reporter{sender: sender, adminID: adminID, reportURL: reportURL}
}

// Report logs r and, if possible, sends it to the admin. It returns the incident id.
func (rp *Reporter) Report(ctx context.Context, r Report) string {
	incident := uuid.NewString()
	component := r.Component
	if component == "" {
		component = "bot"
	}

	metrics.ErrorReports.WithLabelValues(component).Inc()
	L_error("reporter: "+component+" error", "incident", incident, "message", r.Message, "detail", r.Detail)

	if rp == nil || rp.sender == nil || rp.adminID == "" {
		return incident
	}

	defer func() {
		if p := recover(); p != nil {
			L_error("reporter: panic while reporting", "incident", incident, "panic", p)
		}
	}()
	if err := rp.sender.Send(ctx, rp.adminID, rp.format(component, incident, r)); err != nil {
		L_error("reporter: failed to notify admin", "incident", incident, "error", err)
	}
	return incident
}

// ReportError reports err on behalf of component.
func (rp *Reporter) ReportError(ctx context.Context, component string, err error) {
	if err == nil {
		return
	}
	rp.Report(ctx, Report{Component: component, Message: err.Error()})
}

func (rp *Reporter) format(component, incident string, r Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ %s error: %s", component, truncate(r.Message, 600))
	if r.Detail != "" {
		sb.WriteString("\n")
		sb.WriteString(truncate(r.Detail, 1000))
	}
	fmt.Fprintf(&sb, "\nIncident: %s", incident)
	if rp.reportURL != "" {
		fmt.Fprintf(&sb, "\nReport: %s", rp.reportURL)
	}
	return sb.String()
}

// truncate keeps messages under the Send API's 2000 character limit.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
