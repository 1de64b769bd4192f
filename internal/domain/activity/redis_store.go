package activity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldSymbols  = "symbols"
	fieldMessages = "messages"
	dayLayout     = "20060102"
)

// RedisStore keeps one pair of sorted sets per day, keyed by chat id:
//
//	{prefix}:{yyyymmdd}:symbols   member=chat id, score=symbol count
//	{prefix}:{yyyymmdd}:messages  member=chat id, score=message count
//
// A chat id is a set member, so there is exactly one row per (chat, day).
// Both keys share a hash tag and expire at day+retention.
type RedisStore struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
}

type RedisStoreOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRetention(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

func NewRedisStore(rdb *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:       rdb,
		prefix:    "governor:activity",
		retention: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(dayTag, field string) string {
	return fmt.Sprintf("%s:{%s}:%s", s.prefix, dayTag, field)
}

func (s *RedisStore) Increment(ctx context.Context, day time.Time, batch Snapshot) error {
	if len(batch) == 0 {
		return nil
	}

	day = Day(day)
	dayTag := day.Format(dayLayout)
	symbolsKey := s.key(dayTag, fieldSymbols)
	messagesKey := s.key(dayTag, fieldMessages)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for chatID, c := range batch {
			member := strconv.FormatInt(chatID, 10)
			pipe.ZIncrBy(ctx, symbolsKey, float64(c.Symbols), member)
			pipe.ZIncrBy(ctx, messagesKey, float64(c.Messages), member)
		}
		expireAt := day.Add(s.retention)
		pipe.ExpireAt(ctx, symbolsKey, expireAt)
		pipe.ExpireAt(ctx, messagesKey, expireAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment daily activity: %w", err)
	}
	return nil
}

func (s *RedisStore) OverLimit(ctx context.Context, symbolsLimit, messagesLimit int64) ([]DailyCounter, error) {
	days, err := s.days(ctx)
	if err != nil {
		return nil, err
	}

	var rows []DailyCounter
	for _, dayTag := range days {
		dayRows, err := s.overLimitOn(ctx, dayTag, symbolsLimit, messagesLimit)
		if err != nil {
			return nil, err
		}
		rows = append(rows, dayRows...)
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Day.Equal(rows[j].Day) {
			return rows[i].Day.Before(rows[j].Day)
		}
		return rows[i].ChatID < rows[j].ChatID
	})
	return rows, nil
}

// days lists the day tags that still have a live symbols key
func (s *RedisStore) days(ctx context.Context) ([]string, error) {
	head := s.prefix + ":{"
	tail := "}:" + fieldSymbols

	var days []string
	iter := s.rdb.Scan(ctx, 0, head+"*"+tail, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasPrefix(key, head) || !strings.HasSuffix(key, tail) {
			continue
		}
		days = append(days, strings.TrimSuffix(strings.TrimPrefix(key, head), tail))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan daily activity keys: %w", err)
	}
	sort.Strings(days)
	return days, nil
}

func (s *RedisStore) overLimitOn(ctx context.Context, dayTag string, symbolsLimit, messagesLimit int64) ([]DailyCounter, error) {
	day, err := time.ParseInLocation(dayLayout, dayTag, time.UTC)
	if err != nil {
		// Foreign key under our prefix
		return nil, nil
	}

	symbolsKey := s.key(dayTag, fieldSymbols)
	messagesKey := s.key(dayTag, fieldMessages)

	// "(" makes the lower bound exclusive: strictly greater than the limit
	symbolsOver, err := s.rdb.ZRangeByScoreWithScores(ctx, symbolsKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(symbolsLimit, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query symbols over limit: %w", err)
	}

	messagesOver, err := s.rdb.ZRangeByScoreWithScores(ctx, messagesKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(messagesLimit, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query messages over limit: %w", err)
	}

	rows := make(map[int64]*DailyCounter)
	var missingMessages, missingSymbols []int64

	for _, z := range symbolsOver {
		chatID, ok := parseMember(z.Member)
		if !ok {
			continue
		}
		rows[chatID] = &DailyCounter{ChatID: chatID, Day: day, Symbols: int64(z.Score), Messages: -1}
	}
	for _, z := range messagesOver {
		chatID, ok := parseMember(z.Member)
		if !ok {
			continue
		}
		if row, found := rows[chatID]; found {
			row.Messages = int64(z.Score)
			continue
		}
		rows[chatID] = &DailyCounter{ChatID: chatID, Day: day, Symbols: -1, Messages: int64(z.Score)}
	}
	for chatID, row := range rows {
		if row.Messages < 0 {
			missingMessages = append(missingMessages, chatID)
		}
		if row.Symbols < 0 {
			missingSymbols = append(missingSymbols, chatID)
		}
	}

	if err := s.fillScores(ctx, messagesKey, missingMessages, func(chatID int64, v int64) { rows[chatID].Messages = v }); err != nil {
		return nil, err
	}
	if err := s.fillScores(ctx, symbolsKey, missingSymbols, func(chatID int64, v int64) { rows[chatID].Symbols = v }); err != nil {
		return nil, err
	}

	out := make([]DailyCounter, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (s *RedisStore) fillScores(ctx context.Context, key string, chatIDs []int64, set func(int64, int64)) error {
	if len(chatIDs) == 0 {
		return nil
	}

	cmds := make([]*redis.FloatCmd, len(chatIDs))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, chatID := range chatIDs {
			cmds[i] = pipe.ZScore(ctx, key, strconv.FormatInt(chatID, 10))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read daily activity scores: %w", err)
	}

	for i, cmd := range cmds {
		v, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read daily activity score: %w", err)
		}
		set(chatIDs[i], int64(v))
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, row DailyCounter) error {
	dayTag := Day(row.Day).Format(dayLayout)
	member := strconv.FormatInt(row.ChatID, 10)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.key(dayTag, fieldSymbols), member)
		pipe.ZRem(ctx, s.key(dayTag, fieldMessages), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("consume daily activity %d: %w", row.ChatID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, chatID int64, day time.Time) (DailyCounter, error) {
	day = Day(day)
	dayTag := day.Format(dayLayout)
	row := DailyCounter{ChatID: chatID, Day: day}

	var err error
	err = s.fillScores(ctx, s.key(dayTag, fieldSymbols), []int64{chatID}, func(_ int64, v int64) { row.Symbols = v })
	if err != nil {
		return row, err
	}
	err = s.fillScores(ctx, s.key(dayTag, fieldMessages), []int64{chatID}, func(_ int64, v int64) { row.Messages = v })
	return row, err
}

func parseMember(member interface{}) (int64, bool) {
	str, ok := member.(string)
	if !ok {
		return 0, false
	}
	chatID, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, false
	}
	return chatID, true
}
