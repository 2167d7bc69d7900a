package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// 任务类型
const (
	JobBillingRetry = "billing_retry"
	JobResume       = "resume"
)

type Queue struct {
	client    *redis.Client
	queueName string
}

type JobMessage struct {
	Type       string    `json:"type"`
	RequestID  int64     `json:"request_id"`
	AccountID  int64     `json:"account_id"`
	Attempt    int       `json:"attempt"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// 把到期的延迟任务原子地搬到就绪队列
var promoteScript = redis.NewScript(`
local items = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, item in ipairs(items) do
	redis.call("ZREM", KEYS[1], item)
	redis.call("LPUSH", KEYS[2], item)
end
return #items
`)

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

func (q *Queue) delayedKey() string {
	return q.queueName + ":delayed"
}

func (q *Queue) deadKey() string {
	return q.queueName + ":dead"
}

// Push 将任务加入队列
func (q *Queue) Push(ctx context.Context, msg *JobMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// PushDelayed 延迟 delay 后才可被消费
func (q *Queue) PushDelayed(ctx context.Context, msg *JobMessage, delay time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	readyAt := time.Now().Add(delay).UnixMilli()
	return q.client.ZAdd(ctx, q.delayedKey(), &redis.Z{
		Score:  float64(readyAt),
		Member: data,
	}).Err()
}

// PromoteDue 把已到期的延迟任务放回队列，返回搬运条数
func (q *Queue) PromoteDue(ctx context.Context, limit int) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, q.client, []string{q.delayedKey(), q.queueName}, now, limit).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	return n, nil
}

// PushDead 超过重试次数的任务进入死信队列
func (q *Queue) PushDead(ctx context.Context, msg *JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.deadKey(), data).Err()
}

// Pop 从队列获取任务（阻塞）
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

func (q *Queue) DelayedLength(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.delayedKey()).Result()
}

func (q *Queue) DeadLength(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadKey()).Result()
}
