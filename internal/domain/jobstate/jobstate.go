// Пакет jobstate: словарь состояний задания в движке печати и его
// отображение на словарь протокола.
//
// Все соответствия заданы явными таблицами:
//   - statusMapping: состояние движка → статус протокола
//   - printingStates: состояния, при которых принтер считается печатающим
//   - validTransitions: допустимые действия клиента для каждого состояния
//   - settleTransitions: промежуточные состояния, завершаемые движком на тике
package jobstate

import (
	"fmt"

	"github.com/bigkaa/goartstore/cura-connect/internal/domain/model"
)

// EngineState: состояние задания во внутреннем словаре движка.
type EngineState string

const (
	Queued   EngineState = "queued"
	Printing EngineState = "printing"
	Pausing  EngineState = "pausing"
	Paused   EngineState = "paused"
	Resuming EngineState = "resuming"
	Stopping EngineState = "stopping"
	Stopped  EngineState = "stopped"
	Done     EngineState = "done"
)

// Action: действие клиента над текущим заданием.
type Action string

const (
	ActionPrint Action = "print"
	ActionPause Action = "pause"
	ActionAbort Action = "abort"
)

// statusMapping: состояния, имена которых в протоколе отличаются.
// Остальные передаются без изменений.
var statusMapping = map[EngineState]model.JobStatus{
	Stopping: model.JobAborting,
	Stopped:  model.JobAborted,
	Done:     model.JobFinished,
}

// printingStates: принтер занят, пока текущее задание в одном из них.
var printingStates = map[EngineState]bool{
	Printing: true,
	Paused:   true,
	Pausing:  true,
	Resuming: true,
	Stopping: true,
}

// validTransitions: матрица допустимых действий.
// Ключ: текущее состояние, значение: действие → новое состояние.
var validTransitions = map[EngineState]map[Action]EngineState{
	Queued:   {ActionPrint: Printing, ActionAbort: Stopping},
	Printing: {ActionPause: Pausing, ActionAbort: Stopping},
	Pausing:  {ActionAbort: Stopping},
	Paused:   {ActionPrint: Resuming, ActionAbort: Stopping},
	Resuming: {ActionPause: Pausing, ActionAbort: Stopping},
	Stopping: {},
	Stopped:  {},
	Done:     {},
}

// settleTransitions: куда движок переводит промежуточное состояние.
var settleTransitions = map[EngineState]EngineState{
	Pausing:  Paused,
	Resuming: Printing,
	Stopping: Stopped,
}

// ProtocolStatus отображает состояние движка на статус протокола.
func ProtocolStatus(s EngineState) model.JobStatus {
	if st, ok := statusMapping[s]; ok {
		return st
	}
	return model.JobStatus(s)
}

// IsPrinting сообщает, считается ли принтер печатающим в состоянии s.
func IsPrinting(s EngineState) bool {
	return printingStates[s]
}

// IsTerminal: задание завершено и будет снято с головы очереди.
func IsTerminal(s EngineState) bool {
	return s == Stopped || s == Done
}

// Next возвращает состояние после действия a.
// Ошибка *TransitionError, если действие недопустимо.
func Next(s EngineState, a Action) (EngineState, error) {
	actions, ok := validTransitions[s]
	if !ok {
		return "", &TransitionError{
			Code:    "INVALID_STATE",
			Message: fmt.Sprintf("неизвестное состояние задания: %q", s),
		}
	}
	next, ok := actions[a]
	if !ok {
		return "", &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("действие %s недопустимо в состоянии %s", a, s),
		}
	}
	return next, nil
}

// Settle возвращает состояние, в которое движок переводит s на ближайшем
// тике. ok == false, если s не промежуточное.
func Settle(s EngineState) (EngineState, bool) {
	next, ok := settleTransitions[s]
	return next, ok
}

// TransitionError: ошибка перехода между состояниями задания.
type TransitionError struct {
	Code    string // INVALID_TRANSITION, INVALID_STATE
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ParseAction преобразует строку из тела запроса в Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	switch a {
	case ActionPrint, ActionPause, ActionAbort:
		return a, nil
	default:
		return "", fmt.Errorf("недопустимое действие: %q, допустимые: print, pause, abort", s)
	}
}
