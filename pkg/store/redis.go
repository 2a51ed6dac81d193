package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/netpulse/netpulse/pkg/config"
)

// RedisStore implements Store on a Redis server or sentinel group.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to the configured backend and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   time.Duration(cfg.DialTimeout) * time.Second,
		KeepAlive: time.Duration(cfg.KeepAlive) * time.Second,
	}

	var client redis.UniversalClient
	if cfg.Sentinel.Enabled {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.Sentinel.MasterName,
			SentinelAddrs:    cfg.Sentinel.Addrs,
			SentinelPassword: cfg.Sentinel.Password,
			Password:         cfg.Password,
			DB:               cfg.DB,
			DialTimeout:      time.Duration(cfg.DialTimeout) * time.Second,
			ReadTimeout:      time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout:     time.Duration(cfg.WriteTimeout) * time.Second,
			TLSConfig:        tlsConfig,
			Dialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr(),
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
			TLSConfig:    tlsConfig,
			Dialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to state store: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func buildTLSConfig(cfg config.RedisTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func wrapNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNil
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, wrapNil(err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	data, err := s.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		return nil, wrapNil(err)
	}
	return data, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	res, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(res))
	for f, v := range res {
		out[f] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) HMGet(ctx context.Context, key string, fields ...string) ([][]byte, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	res, err := s.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(res))
	for i, v := range res {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

func (s *RedisStore) HSet(ctx context.Context, key, field string, value []byte) error {
	return s.client.HSet(ctx, key, field, value).Err()
}

func (s *RedisStore) HSetNX(ctx context.Context, key, field string, value []byte) (bool, error) {
	return s.client.HSetNX(ctx, key, field, value).Result()
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	return s.client.HDel(ctx, key, fields...).Err()
}

func (s *RedisStore) HLen(ctx context.Context, key string) (int64, error) {
	return s.client.HLen(ctx, key).Result()
}

func (s *RedisStore) HScan(ctx context.Context, key, match string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	var cursor uint64
	for {
		pairs, next, err := s.client.HScan(ctx, key, cursor, match, 100).Result()
		if err != nil {
			return nil, err
		}
		for i := 0; i+1 < len(pairs); i += 2 {
			out[pairs[i]] = []byte(pairs[i+1])
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (s *RedisStore) RPush(ctx context.Context, queue string, values ...[]byte) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.client.RPush(ctx, queue, args...).Err()
}

func (s *RedisStore) LPop(ctx context.Context, queue string) ([]byte, error) {
	data, err := s.client.LPop(ctx, queue).Bytes()
	if err != nil {
		return nil, wrapNil(err)
	}
	return data, nil
}

func (s *RedisStore) BLPop(ctx context.Context, timeout time.Duration, queues ...string) (string, []byte, error) {
	res, err := s.client.BLPop(ctx, timeout, queues...).Result()
	if err != nil {
		return "", nil, wrapNil(err)
	}
	if len(res) != 2 {
		return "", nil, fmt.Errorf("unexpected BLPOP reply of %d elements", len(res))
	}
	return res[0], []byte(res[1]), nil
}

func (s *RedisStore) LLen(ctx context.Context, queue string) (int64, error) {
	return s.client.LLen(ctx, queue).Result()
}

func (s *RedisStore) LRange(ctx context.Context, queue string, start, stop int64) ([][]byte, error) {
	res, err := s.client.LRange(ctx, queue, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(res))
	for i, v := range res {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) LRem(ctx context.Context, queue string, count int64, value []byte) error {
	return s.client.LRem(ctx, queue, count, value).Err()
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, key, args...).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message, 16),
	}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error { return s.pubsub.Close() }

func (s *RedisStore) Pipeline() Pipeline {
	return &redisPipeline{pipe: s.client.TxPipeline()}
}

type redisPipeline struct {
	pipe redis.Pipeliner
}

func (p *redisPipeline) Set(key string, value []byte, ttl time.Duration) {
	p.pipe.Set(context.Background(), key, value, ttl)
}

func (p *redisPipeline) HSet(key, field string, value []byte) {
	p.pipe.HSet(context.Background(), key, field, value)
}

func (p *redisPipeline) HDel(key string, fields ...string) {
	p.pipe.HDel(context.Background(), key, fields...)
}

func (p *redisPipeline) SAdd(key string, members ...string) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SAdd(context.Background(), key, args...)
}

func (p *redisPipeline) SRem(key string, members ...string) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SRem(context.Background(), key, args...)
}

func (p *redisPipeline) RPush(queue string, values ...[]byte) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	p.pipe.RPush(context.Background(), queue, args...)
}

func (p *redisPipeline) LRem(queue string, count int64, value []byte) {
	p.pipe.LRem(context.Background(), queue, count, value)
}

func (p *redisPipeline) Del(keys ...string) {
	p.pipe.Del(context.Background(), keys...)
}

func (p *redisPipeline) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(context.Background(), key, ttl)
}

func (p *redisPipeline) Exec(ctx context.Context) error {
	_, err := p.pipe.Exec(ctx)
	return wrapNil(err)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
