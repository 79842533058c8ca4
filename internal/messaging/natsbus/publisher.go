package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"agora/internal/domain"
)

const DefaultSubject = "agora.chat.messages"

// Publisher forwards appended chat messages to a NATS subject as JSON.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

func Connect(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	nc, err := nats.Connect(url,
		nats.Name("agora"),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	logger.Info("nats publisher connected", zap.String("url", url), zap.String("subject", subject))
	return &Publisher{conn: nc, subject: subject, logger: logger}, nil
}

func (p *Publisher) Publish(msg domain.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish chat message: %w", err)
	}
	return nil
}

func (p *Publisher) Subject() string {
	return p.subject
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Debug("nats drain failed", zap.Error(err))
		p.conn.Close()
	}
}
