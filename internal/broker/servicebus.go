package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// ServiceBusDialer sends envelopes to an Azure Service Bus queue named by
// the destination.
type ServiceBusDialer struct {
	connection string
}

func NewServiceBusDialer(connection string) *ServiceBusDialer {
	return &ServiceBusDialer{connection: connection}
}

func (d *ServiceBusDialer) Dial(ctx context.Context) (Session, error) {
	client, err := azservicebus.NewClientFromConnectionString(d.connection, nil)
	if err != nil {
		return nil, fmt.Errorf("create service bus client: %w", err)
	}
	return &serviceBusSession{client: client}, nil
}

type serviceBusSession struct {
	client *azservicebus.Client
}

func (s *serviceBusSession) Send(ctx context.Context, destination string, env Envelope) error {
	sender, err := s.client.NewSender(destination, nil)
	if err != nil {
		return fmt.Errorf("create sender for %s: %w", destination, err)
	}
	defer sender.Close(context.Background())

	subject := env.Subject
	contentType := env.ContentType
	msg := &azservicebus.Message{
		Body:        env.Body,
		Subject:     &subject,
		ContentType: &contentType,
	}
	if err := sender.SendMessage(ctx, msg, nil); err != nil {
		return fmt.Errorf("send to %s: %w", destination, err)
	}
	return nil
}

func (s *serviceBusSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Close(ctx)
}
