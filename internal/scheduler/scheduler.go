package scheduler

import (
	"context"
	"time"

	"traqo/internal/logger"
)

// AlignedScheduler 把任务对齐到区间边界之后的固定偏移执行：
// interval=1d、offset=30m 即每天 00:30 UTC 触发一次交易会话。
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start 阻塞执行调度循环。task 返回错误时循环终止并把错误上抛，
// 交易会话的存储错误是致命的，不做静默重试。
func (s *AlignedScheduler) Start(task func() error) error {
	if s == nil || task == nil {
		logger.Warnf("AlignedScheduler: 未配置任务，退出")
		return nil
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler: 非法间隔=%s，退出", s.Interval)
		return nil
	}
	if s.Offset < 0 {
		logger.Warnf("AlignedScheduler: 负偏移=%s，归零", s.Offset)
		s.Offset = 0
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedScheduler: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		logger.Infof("AlignedScheduler: RunImmediately=true，对齐前先执行一次")
		if err := task(); err != nil {
			return err
		}
	}

	for {
		now := s.nowFn().UTC()
		wakeAt, wait := s.nextTimes(now)
		uptime := now.Sub(startAt)

		logger.Infof("AlignedScheduler: 下一次会话=%s (in %s) | uptime=%s",
			wakeAt.Format(time.RFC3339),
			wait.Truncate(time.Second),
			uptime.Truncate(time.Second),
		)

		if wait <= 0 {
			if err := task(); err != nil {
				return err
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("AlignedScheduler: ctx done, exit")
			return nil
		case <-timer.C:
		}
		if err := task(); err != nil {
			return err
		}
	}
}

func (s *AlignedScheduler) nextTimes(now time.Time) (wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	boundary := now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	wait = wakeAt.Sub(now)
	return wakeAt, wait
}
