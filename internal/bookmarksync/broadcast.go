package bookmarksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BroadcastChannelName は他タブ通知チャネルの既定名。
const BroadcastChannelName = "bookmarks-sync"

const broadcastBuffer = 32

// ErrChannelClosed は閉じたチャネルへの送信を表す。
var ErrChannelClosed = errors.New("bookmarksync: broadcast channel closed")

// LocalBus は同一プロセス内の名前付き通知チャネルを束ねる。
type LocalBus struct {
	mu       sync.Mutex
	channels map[string]map[*LocalChannel]struct{}
}

// NewLocalBus はLocalBusを生成する。
func NewLocalBus() *LocalBus {
	return &LocalBus{channels: make(map[string]map[*LocalChannel]struct{})}
}

// Open はnameのチャネルに参加するLocalChannelを返す。
func (b *LocalBus) Open(name string) *LocalChannel {
	ch := &LocalChannel{
		bus:      b,
		name:     name,
		messages: make(chan BroadcastMessage, broadcastBuffer),
	}
	b.mu.Lock()
	members, ok := b.channels[name]
	if !ok {
		members = make(map[*LocalChannel]struct{})
		b.channels[name] = members
	}
	members[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// LocalChannel は同一プロセス内の他タブ通知チャネル。
// 送信した通知は同名チャネルの他の参加者にのみ届き、送信者自身には届かない。
// 受信側のバッファが埋まっている場合、その参加者宛ての通知は破棄される。
type LocalChannel struct {
	bus      *LocalBus
	name     string
	messages chan BroadcastMessage
	closed   bool
}

// Publish は同名チャネルの他の参加者へ通知を送る。
func (c *LocalChannel) Publish(_ context.Context, msg BroadcastMessage) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	for member := range c.bus.channels[c.name] {
		if member == c {
			continue
		}
		select {
		case member.messages <- msg:
		default:
		}
	}
	return nil
}

// Messages は受信した通知のチャネルを返す。Closeで閉じられる。
func (c *LocalChannel) Messages() <-chan BroadcastMessage {
	return c.messages
}

// Close はチャネルから離脱する。
func (c *LocalChannel) Close() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	members := c.bus.channels[c.name]
	delete(members, c)
	if len(members) == 0 {
		delete(c.bus.channels, c.name)
	}
	close(c.messages)
	return nil
}

// RedisChannelName はユーザー単位のRedis通知チャネル名を返す。
func RedisChannelName(userID string) string {
	return BroadcastChannelName + ":" + userID
}

// redisEnvelope はRedis上の通知。自インスタンスの通知を除外するため送信元を含める。
type redisEnvelope struct {
	BroadcastMessage
	Sender string `json:"sender"`
}

// RedisChannel はRedis Pub/Subによるデバイス間の通知チャネル。
// 同一ユーザーの別プロセスのクライアント同士で削除通知を共有する。
type RedisChannel struct {
	client     *redis.Client
	pubsub     *redis.PubSub
	channel    string
	instanceID string
	logger     *slog.Logger

	messages  chan BroadcastMessage
	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisChannel はユーザーの通知チャネルを購読する。
// 購読の確立を待ってから返す。
func NewRedisChannel(ctx context.Context, client *redis.Client, userID string, logger *slog.Logger) (*RedisChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	channel := RedisChannelName(userID)
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	c := &RedisChannel{
		client:     client,
		pubsub:     pubsub,
		channel:    channel,
		instanceID: uuid.New().String(),
		logger:     logger,
		messages:   make(chan BroadcastMessage, broadcastBuffer),
		done:       make(chan struct{}),
	}
	go c.forward(pubsub.Channel())
	return c, nil
}

func (c *RedisChannel) forward(in <-chan *redis.Message) {
	defer close(c.done)
	defer close(c.messages)
	for msg := range in {
		env, ok := c.decode(msg.Payload)
		if !ok || env.Sender == c.instanceID {
			continue
		}
		select {
		case c.messages <- env.BroadcastMessage:
		default:
			c.logger.Warn("dropping broadcast message",
				slog.String("channel", c.channel),
				slog.String("bookmark_id", env.ID),
			)
		}
	}
}

func (c *RedisChannel) decode(payload string) (redisEnvelope, bool) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		c.logger.Warn("invalid broadcast payload",
			slog.String("channel", c.channel),
			slog.String("error", err.Error()),
		)
		return redisEnvelope{}, false
	}
	return env, true
}

// Publish は同一ユーザーの他インスタンスへ通知を送る。
func (c *RedisChannel) Publish(ctx context.Context, msg BroadcastMessage) error {
	payload, err := json.Marshal(redisEnvelope{BroadcastMessage: msg, Sender: c.instanceID})
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", c.channel, err)
	}
	return nil
}

// Messages は他インスタンスからの通知を返す。Closeで閉じられる。
func (c *RedisChannel) Messages() <-chan BroadcastMessage {
	return c.messages
}

// Close は購読を解除する。
func (c *RedisChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.pubsub.Close()
		<-c.done
	})
	return err
}

var (
	_ Broadcaster = (*LocalChannel)(nil)
	_ Broadcaster = (*RedisChannel)(nil)
	_ Store       = (*HTTPStore)(nil)
	_ ChangeFeed  = (*WSFeed)(nil)
)
