package broker

import (
	"context"
	"fmt"
	"net/http"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"
)

const cloudEventSource = "docpipe/intake"

// CloudEventsDialer posts envelopes as binary-mode CloudEvents to an HTTP
// ingress. The destination travels in the "queue" extension.
type CloudEventsDialer struct {
	target string
}

func NewCloudEventsDialer(target string) *CloudEventsDialer {
	return &CloudEventsDialer{target: target}
}

func (d *CloudEventsDialer) Dial(ctx context.Context) (Session, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	client, err := cloudevents.NewClientHTTP(cehttp.WithRoundTripper(transport))
	if err != nil {
		transport.CloseIdleConnections()
		return nil, fmt.Errorf("create cloudevents client: %w", err)
	}
	return &cloudEventsSession{client: client, transport: transport, target: d.target}, nil
}

type cloudEventsSession struct {
	client    cloudevents.Client
	transport *http.Transport
	target    string
}

func (s *cloudEventsSession) Send(ctx context.Context, destination string, env Envelope) error {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(cloudEventSource)
	event.SetType(env.Subject)
	event.SetExtension("queue", destination)
	if err := event.SetData(env.ContentType, env.Body); err != nil {
		return fmt.Errorf("set event data: %w", err)
	}

	result := s.client.Send(cloudevents.ContextWithTarget(ctx, s.target), event)
	if !cloudevents.IsACK(result) {
		return fmt.Errorf("send cloudevent to %s: %w", s.target, result)
	}
	return nil
}

func (s *cloudEventsSession) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}
