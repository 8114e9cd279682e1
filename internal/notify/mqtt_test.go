package notify

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool                     { return !t.pending }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	token *fakeToken
	sent  []published
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.sent = append(p.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return p.token
}

func testResult() *voucher.ApplyResult {
	return &voucher.ApplyResult{
		VoucherID:      "v1",
		Code:           "YUMIN10",
		DiscountAmount: decimal.NewFromInt(50000),
		FinalAmount:    decimal.NewFromInt(450000),
		Message:        "Voucher YUMIN10 applied: -50.000₫",
	}
}

func TestNotifier_Publishes(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{}}
	n := NewNotifier(pub, Config{TopicPrefix: "yumin/", QoS: 1})

	require.NoError(t, n.VoucherApplied(context.Background(), "u1", testResult()))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "yumin/users/u1/vouchers", pub.sent[0].topic)
	assert.EqualValues(t, 1, pub.sent[0].qos)

	d := jx.DecodeBytes(pub.sent[0].payload)
	fields := map[string]string{}
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		fields[key] = raw.String()
		return nil
	}))
	assert.Equal(t, `"voucher_applied"`, fields["type"])
	assert.Equal(t, `"YUMIN10"`, fields["code"])
	assert.Equal(t, `50000`, fields["discountAmount"])
	assert.Equal(t, `450000`, fields["finalAmount"])
}

func TestNotifier_TopicEscapesUserID(t *testing.T) {
	n := NewNotifier(&fakePublisher{}, Config{TopicPrefix: "yumin"})

	tests := []struct {
		userID string
		want   string
	}{
		{"u1", "yumin/users/u1/vouchers"},
		{"a/b", "yumin/users/a%2Fb/vouchers"},
		{"+", "yumin/users/%2B/vouchers"},
		{"#", "yumin/users/%23/vouchers"},
		{"50%", "yumin/users/50%25/vouchers"},
		{"%2F", "yumin/users/%252F/vouchers"},
	}
	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Topic(tt.userID))
		})
	}
}

func TestNotifier_Errors(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{err: errors.New("broker gone")}}
	n := NewNotifier(pub, Config{TopicPrefix: "yumin"})
	err := n.VoucherApplied(context.Background(), "u1", testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")

	pub = &fakePublisher{token: &fakeToken{pending: true}}
	n = NewNotifier(pub, Config{TopicPrefix: "yumin", PublishTimeout: time.Millisecond})
	err = n.VoucherApplied(context.Background(), "u1", testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{BrokerURL: "tcp://localhost:1883"}.Enabled())
}
