package message

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"realtime-chat/internal/chaterr"
	"realtime-chat/internal/config"
)

// HistoryService answers backward pagination requests. Identical concurrent
// lookups share one storage call; the returned block must not be modified.
type HistoryService struct {
	repo    Repository
	group   singleflight.Group
	timeout time.Duration
	metrics *config.ServerMetrics
	now     func() time.Time
}

// NewHistoryService creates a history service reading from repo.
func NewHistoryService(repo Repository, timeout time.Duration, metrics *config.ServerMetrics) *HistoryService {
	if metrics == nil {
		metrics = config.NewNopMetrics()
	}
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	return &HistoryService{
		repo:    repo,
		timeout: timeout,
		metrics: metrics,
		now:     time.Now,
	}
}

// GetConversationBefore returns the room's newest block strictly older than
// before (epoch ms). A non-positive before means now. A nil block with a nil
// error means there is no older history.
func (s *HistoryService) GetConversationBefore(ctx context.Context, roomID string, before int64) (*ConversationBlock, error) {
	if roomID == "" {
		return nil, chaterr.Invalid("room_id", "room id is required")
	}
	if before <= 0 {
		before = s.now().UnixMilli()
	}

	key := roomID + ":" + strconv.FormatInt(before, 10)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.repo.FindConversationBlock(ctx, roomID, before)
	})
	if err != nil {
		s.metrics.HistoryRequests.WithLabelValues("error").Inc()
		return nil, chaterr.Storage("find conversation block", err)
	}

	block, _ := v.(*ConversationBlock)
	if block == nil {
		s.metrics.HistoryRequests.WithLabelValues("empty").Inc()
		return nil, nil
	}
	s.metrics.HistoryRequests.WithLabelValues("hit").Inc()
	return block, nil
}
