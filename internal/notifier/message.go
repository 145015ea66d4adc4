package notifier

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/healthapp/healthapp/internal/types"
)

// Event names the alert lifecycle transition a message announces.
type Event string

const (
	EventNew     Event = "new"
	EventOngoing Event = "ongoing"
	EventClosed  Event = "closed"
)

// Message is a rendered notification, ready for any channel.
type Message struct {
	Event       Event             `json:"event"`
	AlertID     string            `json:"alert_id"`
	StateName   string            `json:"state_name"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Description types.Description `json:"description,omitempty"`
	// Duration is the elapsed alert time in seconds, -1 when unknown.
	Duration int64     `json:"duration"`
	At       time.Time `json:"at"`
}

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[Event]messageTemplate{
	EventNew: {
		subject: template.Must(template.New("new_subject").Parse(`New Alert "{{.StateName}}" !`)),
		body: template.Must(template.New("new_body").Parse(
			"Hi,\n\nAlert \"{{.StateName}}\" has just started firing.\n\n" +
				"{{with .Info}}{{.}}\n\n{{end}}" +
				"{{.AlertID}}\n\nRegards")),
	},
	EventOngoing: {
		subject: template.Must(template.New("ongoing_subject").Parse(`Alert "{{.StateName}}" still firing`)),
		body: template.Must(template.New("ongoing_body").Parse(
			"Hi,\n\nAlert \"{{.StateName}}\" is still firing" +
				"{{if ge .Duration 0}} after {{.Duration}} seconds{{end}}.\n\n" +
				"{{.AlertID}}\n\nRegards")),
	},
	EventClosed: {
		subject: template.Must(template.New("closed_subject").Parse(`Alert "{{.StateName}}" closed`)),
		body: template.Must(template.New("closed_body").Parse(
			"Hi,\n\nAlert \"{{.StateName}}\" closed" +
				"{{if ge .Duration 0}} after {{.Duration}} seconds{{end}}.\n\n" +
				"{{.AlertID}}\n\nRegards")),
	},
}

type templateData struct {
	StateName string
	AlertID   string
	Info      string
	Duration  int64
}

// Render builds the message for event.
func Render(event Event, alertID, stateName string, description types.Description, duration int64, at time.Time) (Message, error) {
	tmpl, ok := templates[event]
	if !ok {
		return Message{}, fmt.Errorf("unknown notification event %q", event)
	}

	data := templateData{
		StateName: stateName,
		AlertID:   alertID,
		Info:      description[types.FieldInfo],
		Duration:  duration,
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", event, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", event, err)
	}

	return Message{
		Event:       event,
		AlertID:     alertID,
		StateName:   stateName,
		Subject:     subject.String(),
		Body:        body.String(),
		Description: description,
		Duration:    duration,
		At:          at,
	}, nil
}
