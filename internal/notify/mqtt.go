// Package notify pushes redemption events to shoppers over MQTT.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

// Config holds the broker connection settings.
type Config struct {
	BrokerURL      string        `json:"broker_url" yaml:"broker_url"`
	Username       string        `json:"username" yaml:"username"`
	Password       string        `json:"password" yaml:"password"`
	ClientID       string        `json:"client_id" yaml:"client_id"`
	TopicPrefix    string        `json:"topic_prefix" yaml:"topic_prefix" default:"yumin"`
	QoS            int           `json:"qos" yaml:"qos" default:"1"`
	PublishTimeout time.Duration `json:"publish_timeout" yaml:"publish_timeout" default:"2s"`
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return c.BrokerURL != ""
}

// Connect dials the broker described by cfg.
func Connect(cfg Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.BrokerURL)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("yumin-voucher-%d", time.Now().UnixNano())
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "mqtt connect")
	}
	return client, nil
}

// Publisher is the subset of mqtt.Client used by Notifier.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

var _ voucher.Notifier = (*Notifier)(nil)

// Notifier publishes a message on <prefix>/users/<id>/vouchers for every
// redemption made by a known shopper.
type Notifier struct {
	pub     Publisher
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewNotifier creates a Notifier publishing through pub.
func NewNotifier(pub Publisher, cfg Config) *Notifier {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Notifier{
		pub:     pub,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:     byte(cfg.QoS),
		timeout: timeout,
	}
}

// topicEscaper percent-encodes topic separators and wildcards so a user id
// always stays one topic level.
var topicEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"+", "%2B",
	"#", "%23",
	"\x00", "%00",
)

// Topic returns the topic a shopper's notifications are published on.
func (n *Notifier) Topic(userID string) string {
	return n.prefix + "/users/" + topicEscaper.Replace(userID) + "/vouchers"
}

// VoucherApplied implements voucher.Notifier.
func (n *Notifier) VoucherApplied(ctx context.Context, userID string, res *voucher.ApplyResult) error {
	token := n.pub.Publish(n.Topic(userID), n.qos, false, EncodeApplied(res))

	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if !token.WaitTimeout(timeout) {
		return errors.Errorf("publish to %s timed out", n.Topic(userID))
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "publish")
	}
	return nil
}

// EncodeApplied renders the redemption event payload.
func EncodeApplied(res *voucher.ApplyResult) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("type")
	e.Str("voucher_applied")
	e.FieldStart("voucherId")
	e.Str(res.VoucherID)
	e.FieldStart("code")
	e.Str(res.Code)
	e.FieldStart("discountAmount")
	e.Num(jx.Num(res.DiscountAmount.String()))
	e.FieldStart("finalAmount")
	e.Num(jx.Num(res.FinalAmount.String()))
	e.FieldStart("message")
	e.Str(res.Message)
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}
