package domain

import "errors"

// Kind classifies engine errors so callers can map them to transport codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidState
	KindValidation
	KindPermissionDenied
	KindInsufficientData
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindValidation:
		return "validation_error"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInsufficientData:
		return "insufficient_data"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every engine operation.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var inner *Error
	if e.Err != nil && !errors.As(e.Err, &inner) {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels (no message) against any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" {
		return t.Kind == e.Kind
	}
	return t == e
}

// KindOf reports the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Kind sentinels.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrInsufficientData = &Error{Kind: KindInsufficientData}
)

var (
	// ErrExamNotFound is returned when an exam or one of its sections is unknown.
	ErrExamNotFound = &Error{Kind: KindNotFound, Msg: "exam not found"}
	// ErrSectionNotFound is returned when a section id or order is unknown.
	ErrSectionNotFound = &Error{Kind: KindNotFound, Msg: "section not found"}
	// ErrQuestionNotFound indicates a question reference outside the exam, room or simulacro.
	ErrQuestionNotFound = &Error{Kind: KindNotFound, Msg: "question not found"}
	// ErrRoomNotFound is returned for unknown room ids or codes.
	ErrRoomNotFound = &Error{Kind: KindNotFound, Msg: "room not found"}
	// ErrSimulacroNotFound is returned for unknown group simulacro ids.
	ErrSimulacroNotFound = &Error{Kind: KindNotFound, Msg: "group simulacro not found"}
	// ErrParticipantNotFound is returned when a student acts in a room or simulacro they never joined.
	ErrParticipantNotFound = &Error{Kind: KindNotFound, Msg: "participant not found"}
	// ErrCourseNotFound is returned when a course key does not resolve.
	ErrCourseNotFound = &Error{Kind: KindNotFound, Msg: "course not found"}
	// ErrAttemptNotFound is returned by audits of unknown attempts.
	ErrAttemptNotFound = &Error{Kind: KindNotFound, Msg: "attempt not found"}

	// ErrAlreadyCompleted rejects writes into a finalized section.
	ErrAlreadyCompleted = &Error{Kind: KindInvalidState, Msg: "section already completed"}
	// ErrSectionLocked rejects answers to a section whose predecessors are incomplete.
	ErrSectionLocked = &Error{Kind: KindInvalidState, Msg: "previous sections must be completed first"}
	// ErrNotStarted is returned when finalizing a section that was never entered.
	ErrNotStarted = &Error{Kind: KindInvalidState, Msg: "section not started"}
	// ErrRoomFull is returned when both room slots are taken.
	ErrRoomFull = &Error{Kind: KindInvalidState, Msg: "room is full"}
	// ErrRoomExpired is returned when the join window of a room has passed.
	ErrRoomExpired = &Error{Kind: KindInvalidState, Msg: "room has expired"}
	// ErrAlreadyJoined is returned on duplicate joins.
	ErrAlreadyJoined = &Error{Kind: KindInvalidState, Msg: "already joined"}
	// ErrAlreadyAnswered rejects a second answer to the same contest question.
	ErrAlreadyAnswered = &Error{Kind: KindInvalidState, Msg: "question already answered"}
	// ErrNotWaiting is returned when a simulacro no longer accepts joins, starts or cancellation.
	ErrNotWaiting = &Error{Kind: KindInvalidState, Msg: "not waiting for participants"}
	// ErrNoParticipants is returned when starting a simulacro nobody joined.
	ErrNoParticipants = &Error{Kind: KindInvalidState, Msg: "no participants have joined"}
	// ErrNotPlaying is returned when the room, simulacro or participant is not in play.
	ErrNotPlaying = &Error{Kind: KindInvalidState, Msg: "not in progress"}

	// ErrInvalidOption indicates the option does not belong to the question.
	ErrInvalidOption = &Error{Kind: KindValidation, Msg: "option does not belong to question"}

	// ErrNotCreator rejects teacher-only actions from anyone but the creator.
	ErrNotCreator = &Error{Kind: KindPermissionDenied, Msg: "only the creating teacher may do this"}
	// ErrNotTeacher is returned when a non-teacher creates a group simulacro.
	ErrNotTeacher = &Error{Kind: KindPermissionDenied, Msg: "user is not a teacher"}
	// ErrNotInCourse is returned when a student joins a simulacro of another course.
	ErrNotInCourse = &Error{Kind: KindPermissionDenied, Msg: "student does not belong to the course"}

	// ErrInsufficientQuestions is returned when the bank cannot satisfy a draw.
	ErrInsufficientQuestions = &Error{Kind: KindInsufficientData, Msg: "not enough questions in the bank"}
)

// Errorf builds a kind-tagged error with a custom message.
func Errorf(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a sentinel's kind and message to a more specific cause.
func Wrap(sentinel *Error, detail string) error {
	return &Error{Kind: sentinel.Kind, Msg: sentinel.Msg + ": " + detail, Err: sentinel}
}
