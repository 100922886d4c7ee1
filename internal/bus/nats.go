// Package bus はジョブのライフサイクルイベントを NATS に配信します。
package bus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// Client は NATS 接続のラッパーです。
type Client struct{ nc *nats.Conn }

// Connect は再接続を無制限に行う設定で NATS に接続します。
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("media-forge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

// Close は未送信のメッセージを送り切ってから接続を閉じます。
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// PublishJSON は v を JSON にして subject に送信します。
func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}
