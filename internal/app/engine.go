package app

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"simulacro-engine/internal/domain"
)

// DefaultJoinWindow is how long a room waits for its second player.
const DefaultJoinWindow = 10 * time.Minute

// XPWeights maps a difficulty tier to the experience a correct answer earns.
type XPWeights struct {
	Low    int
	Medium int
	High   int
}

// DefaultXPWeights returns the 5/10/15 table.
func DefaultXPWeights() XPWeights {
	return XPWeights{Low: 5, Medium: 10, High: 15}
}

// For returns the weight of d; unknown tiers earn the medium weight.
func (w XPWeights) For(d domain.Difficulty) int {
	switch d {
	case domain.DifficultyLow:
		return w.Low
	case domain.DifficultyHigh:
		return w.High
	default:
		return w.Medium
	}
}

// Options tune an Engine. Zero values fall back to production defaults.
type Options struct {
	Clock      func() time.Time
	Rand       *rand.Rand
	JoinWindow time.Duration
	XP         XPWeights
	Logger     *slog.Logger
	NewID      func() string
}

// Engine implements the session gate, answer intake, section lifecycle,
// room matchmaking and group simulacro coordination.
type Engine struct {
	store Store
	bank  QuestionBank
	dir   Directory

	now        func() time.Time
	newID      func() string
	joinWindow time.Duration
	xp         XPWeights
	log        *slog.Logger
	validate   *validator.Validate

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewEngine(store Store, bank QuestionBank, dir Directory, opts Options) *Engine {
	e := &Engine{
		store:      store,
		bank:       bank,
		dir:        dir,
		now:        opts.Clock,
		newID:      opts.NewID,
		joinWindow: opts.JoinWindow,
		xp:         opts.XP,
		log:        opts.Logger,
		rnd:        opts.Rand,
		validate:   newValidator(),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.NewString() }
	}
	if e.joinWindow <= 0 {
		e.joinWindow = DefaultJoinWindow
	}
	if e.xp == (XPWeights{}) {
		e.xp = DefaultXPWeights()
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// check runs struct validation and converts failures into ValidationError.
func (e *Engine) check(params any) error {
	err := e.validate.Struct(params)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		f := fields[0]
		msg := fmt.Sprintf("%s is invalid (%s)", f.Field(), f.Tag())
		if f.Param() != "" {
			msg = fmt.Sprintf("%s is invalid (%s=%s)", f.Field(), f.Tag(), f.Param())
		}
		return &domain.Error{Kind: domain.KindValidation, Msg: msg, Err: err}
	}
	return &domain.Error{Kind: domain.KindValidation, Msg: "invalid input", Err: err}
}

func (e *Engine) shuffle(n int, swap func(i, j int)) {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	e.rnd.Shuffle(n, swap)
}

func (e *Engine) intn(n int) int {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return e.rnd.Intn(n)
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(domain.ScorePlaces)
}

func ptr[T any](v T) *T { return &v }
