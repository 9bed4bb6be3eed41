// Пакет engine: симулятор движка печати и канал команд к нему.
//
// Состояние движка принадлежит одной горутине Loop. Остальные горутины
// обращаются к нему только через Call: команда ставится в очередь,
// выполняется в контексте движка, результат возвращается через канал
// ответа ёмкостью 1. Между командами Loop продвигает симуляцию по тикеру.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrStopped: Loop остановлен, команды больше не принимаются.
var ErrStopped = errors.New("движок остановлен")

var (
	engineCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_engine_commands_total",
		Help: "Количество команд, выполненных в контексте движка",
	}, []string{"result"})

	engineQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cc_engine_queue_length",
		Help: "Длина очереди заданий движка",
	})
)

// command: функция для выполнения в контексте движка и канал ответа.
type command struct {
	fn    func(*State) error
	reply chan error
}

// Loop: владелец State.
type Loop struct {
	state  *State
	tick   time.Duration
	logger *slog.Logger

	cmds     chan command
	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewLoop создаёт Loop над state. tick <= 0 отключает тикер: симуляция
// продвигается только командами (используется в тестах).
func NewLoop(state *State, tick time.Duration, logger *slog.Logger) *Loop {
	return &Loop{
		state:   state,
		tick:    tick,
		logger:  logger.With(slog.String("component", "engine")),
		cmds:    make(chan command),
		stopped: make(chan struct{}),
	}
}

// Start запускает горутину движка.
func (l *Loop) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go l.run(loopCtx)

	l.logger.Info("Движок запущен",
		slog.String("tick", l.tick.String()),
		slog.Int("extruders", len(l.state.extruders)),
	)
}

// Stop останавливает горутину движка и дожидается её завершения.
// Call после Stop возвращает ErrStopped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
		if l.cancel != nil {
			l.cancel()
		}
	})
	l.wg.Wait()
	l.logger.Info("Движок остановлен")
}

// Call выполняет fn в контексте движка и ждёт результата.
// Ожидание ограничено только ctx.
func (l *Loop) Call(ctx context.Context, fn func(*State) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}

	select {
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case l.cmds <- cmd:
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		// Ответ уйдёт в буфер канала и будет отброшен
		return ctx.Err()
	}
}

// Snapshot возвращает копию состояния движка.
func (l *Loop) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := l.Call(ctx, func(s *State) error {
		snap = s.Snapshot()
		return nil
	})
	return snap, err
}

// run: основной цикл горутины движка.
func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	var tickC <-chan time.Time
	if l.tick > 0 {
		ticker := time.NewTicker(l.tick)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-l.cmds:
			cmd.reply <- l.exec(cmd.fn)
		case <-tickC:
			l.advance(l.tick.Seconds())
		}
	}
}

// exec выполняет команду, перехватывая панику.
func (l *Loop) exec(fn func(*State) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в команде движка: %v", r)
			l.logger.Error("Паника в команде движка", slog.Any("panic", r))
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		engineCommandsTotal.WithLabelValues(result).Inc()
		engineQueueLength.Set(float64(len(l.state.jobs)))
	}()
	return fn(l.state)
}

func (l *Loop) advance(dt float64) {
	before, had := l.state.Current()
	l.state.Advance(dt)
	after, has := l.state.Current()

	switch {
	case had && (!has || after.ID != before.ID):
		l.logger.Info("Задание снято с очереди",
			slog.String("name", before.Name()),
			slog.String("state", string(before.State)),
		)
	case had && after.State != before.State:
		l.logger.Debug("Состояние задания изменилось",
			slog.String("name", after.Name()),
			slog.String("from", string(before.State)),
			slog.String("to", string(after.State)),
		)
	}
	engineQueueLength.Set(float64(len(l.state.jobs)))
}
