package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrTaskAlreadyRunning возвращается, если для ключа уже выполняется задача.
	ErrTaskAlreadyRunning = errors.New("task already running for key")
	// ErrManagerClosed возвращается после Shutdown.
	ErrManagerClosed = errors.New("task manager is closed")
	// ErrTooManyTasks возвращается при превышении MaxTasks.
	ErrTooManyTasks = errors.New("max active tasks exceeded")
)

// TaskStatus представляет статус задачи
type TaskStatus string

// Возможные статусы задач
const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskFunc представляет функцию, выполняемую в задаче
type TaskFunc func(ctx context.Context) error

// TaskCallback вызывается после завершения задачи (в горутине задачи).
type TaskCallback func(key uuid.UUID, status TaskStatus, err error)

// Task - активная задача, привязанная к ключу (id истории).
type Task struct {
	Key       uuid.UUID
	Status    TaskStatus
	StartedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Config содержит конфигурацию для TaskManager
type Config struct {
	// MaxTasks - ограничение на число одновременно выполняемых задач, 0 - без ограничения.
	MaxTasks int
	// Timeout - максимальное время жизни одной задачи, 0 - без ограничения.
	Timeout time.Duration
}

// TaskManager запускает не больше одной задачи на ключ.
// Повторная попытка запуска для активного ключа отклоняется, а не ставится в очередь.
type TaskManager struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*Task
	cfg      Config
	closed   bool
	wg       sync.WaitGroup
	callback TaskCallback
}

// New создает новый экземпляр TaskManager
func New(cfg Config) *TaskManager {
	return &TaskManager{
		tasks: make(map[uuid.UUID]*Task),
		cfg:   cfg,
	}
}

// OnFinish регистрирует callback завершения задач.
func (tm *TaskManager) OnFinish(cb TaskCallback) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.callback = cb
}

// TrySubmit запускает fn в отдельной горутине, если для key нет активной задачи.
// Контекст задачи не зависит от ctx вызывающего (HTTP-запрос закончится раньше),
// но наследует его zerolog логгер.
func (tm *TaskManager) TrySubmit(ctx context.Context, key uuid.UUID, fn TaskFunc) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return ErrManagerClosed
	}
	if _, busy := tm.tasks[key]; busy {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, key)
	}
	if tm.cfg.MaxTasks > 0 && len(tm.tasks) >= tm.cfg.MaxTasks {
		return ErrTooManyTasks
	}

	base := context.Background()
	var cancel context.CancelFunc
	if tm.cfg.Timeout > 0 {
		base, cancel = context.WithTimeout(base, tm.cfg.Timeout)
	} else {
		base, cancel = context.WithCancel(base)
	}
	taskLogger := log.Ctx(ctx).With().Str("taskKey", key.String()).Logger()
	taskCtx := taskLogger.WithContext(base)

	task := &Task{
		Key:       key,
		Status:    TaskStatusRunning,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	tm.tasks[key] = task

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer cancel()
		tm.runTask(taskCtx, task, fn)
	}()

	return nil
}

// runTask выполняет задачу, снимает ее с учета и вызывает callback.
func (tm *TaskManager) runTask(ctx context.Context, task *Task, fn TaskFunc) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panic: %v", r)
			}
		}()
		err = fn(ctx)
	}()

	status := TaskStatusCompleted
	switch {
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		status = TaskStatusCancelled
		log.Ctx(ctx).Info().Msg("Контекст задачи был отменен")
	case err != nil:
		status = TaskStatusFailed
		log.Ctx(ctx).Error().Err(err).Dur("elapsed", time.Since(task.StartedAt)).Msg("Задача завершилась с ошибкой")
	default:
		log.Ctx(ctx).Debug().Dur("elapsed", time.Since(task.StartedAt)).Msg("Задача успешно выполнена")
	}

	tm.mu.Lock()
	task.Status = status
	delete(tm.tasks, task.Key)
	cb := tm.callback
	tm.mu.Unlock()
	close(task.done)

	if cb != nil {
		cb(task.Key, status, err)
	}
}

// IsRunning сообщает, выполняется ли задача для key.
func (tm *TaskManager) IsRunning(key uuid.UUID) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.tasks[key]
	return ok
}

// ActiveCount возвращает число выполняющихся задач.
func (tm *TaskManager) ActiveCount() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.tasks)
}

// Wait блокируется до завершения задачи key (или сразу возвращается, если задачи нет).
func (tm *TaskManager) Wait(ctx context.Context, key uuid.UUID) error {
	tm.mu.Lock()
	task, ok := tm.tasks[key]
	tm.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-task.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelTask отменяет выполнение задачи
func (tm *TaskManager) CancelTask(key uuid.UUID) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[key]
	if !ok {
		return fmt.Errorf("задача %s не найдена", key)
	}
	task.cancel()
	return nil
}

// Shutdown запрещает новые задачи, отменяет активные и ждет их завершения.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	tm.closed = true
	for _, task := range tm.tasks {
		task.cancel()
	}
	tm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("таймаут при ожидании завершения задач")
	}
}
