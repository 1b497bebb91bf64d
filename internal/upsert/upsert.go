// Package upsert turns a user's input against one leaf item into exactly one
// write request followed by a point re-fetch of that item's history.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kingrea/fieldops/internal/domain"
)

// Mode selects how a field domain persists an entry.
type Mode string

const (
	// ModeAppend records a new history entry on every save.
	ModeAppend Mode = "append"
	// ModeUpsert keeps one record per item: create when absent, update
	// when present.
	ModeUpsert Mode = "upsert"
)

// ErrRecordUnknown is returned in ModeUpsert when the item's history could
// not be loaded, so a create and an update cannot be told apart.
var ErrRecordUnknown = errors.New("upsert: could not check for an existing record")

// Request is raw user input for one item.
type Request struct {
	Item    domain.LeafItem
	Input   string `validate:"required,numeric"`
	Remarks string `validate:"max=500"`
	Date    domain.Date
	UserID  int64 `validate:"gt=0"`
}

// Entry is a validated request ready to be written.
type Entry struct {
	Item     domain.LeafItem
	Quantity decimal.Decimal
	// Value is Quantity × Item.Rate rounded to 2 dp.
	Value   decimal.Decimal
	Remarks string
	Date    domain.Date
	UserID  int64
}

// Writer persists entries for one field domain.
type Writer interface {
	// Exists reports whether h already carries the item's record.
	Exists(h domain.History) bool
	Create(ctx context.Context, e Entry) error
	Update(ctx context.Context, existing domain.History, e Entry) error
}

// ReloadFunc re-fetches the history of one item after a write.
type ReloadFunc func(ctx context.Context, item domain.LeafItem, date domain.Date) (domain.History, error)

// Rules are the configurable business rules applied before a write.
type Rules struct {
	// CapToPO rejects input that would push the item past its PO quantity.
	CapToPO bool
}

// ValidationError is a local rejection; it never reaches the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// DeriveValue returns quantity × rate rounded half away from zero to 2 dp.
func DeriveValue(quantity, rate decimal.Decimal) decimal.Decimal {
	return quantity.Mul(rate).Round(2)
}

// Outcome describes a successful submission.
type Outcome struct {
	Entry   Entry
	Updated bool
	// History is the re-fetched history; when ReloadErr is set it is the
	// caller's previous history. In ModeUpsert it is always marked Written.
	History   domain.History
	ReloadErr error
}

// Flow submits entries for one field domain.
type Flow struct {
	Mode   Mode
	Rules  Rules
	Writer Writer
	Reload ReloadFunc
	Log    logrus.FieldLogger

	validate *validator.Validate
}

// NewFlow builds a flow writing through w.
func NewFlow(mode Mode, rules Rules, w Writer, reload ReloadFunc, log logrus.FieldLogger) *Flow {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Flow{Mode: mode, Rules: rules, Writer: w, Reload: reload, Log: log, validate: validator.New()}
}

// Prepare validates req and computes its derived value.
func (f *Flow) Prepare(req Request) (Entry, error) {
	req.Input = strings.TrimSpace(req.Input)
	req.Remarks = strings.TrimSpace(req.Remarks)
	if f.validate == nil {
		f.validate = validator.New()
	}
	if err := f.validate.Struct(req); err != nil {
		return Entry{}, translate(err)
	}
	if req.Date.IsZero() {
		return Entry{}, &ValidationError{Field: "Date", Message: "Select a date"}
	}
	qty, err := decimal.NewFromString(req.Input)
	if err != nil {
		return Entry{}, &ValidationError{Field: "Input", Message: "Enter a valid number"}
	}
	if !qty.IsPositive() {
		return Entry{}, &ValidationError{Field: "Input", Message: "Enter a quantity greater than zero"}
	}
	if f.Rules.CapToPO && req.Item.POQuantity.IsPositive() {
		remaining := req.Item.POQuantity.Sub(req.Item.Completed)
		if qty.GreaterThan(remaining) {
			return Entry{}, &ValidationError{
				Field:   "Input",
				Message: fmt.Sprintf("Quantity exceeds remaining PO quantity (%s left)", remaining.String()),
			}
		}
	}
	return Entry{
		Item:     req.Item,
		Quantity: qty,
		Value:    DeriveValue(qty, req.Item.Rate),
		Remarks:  req.Remarks,
		Date:     req.Date,
		UserID:   req.UserID,
	}, nil
}

// Submit validates req, issues one create or update depending on whether
// existing already holds the item's record, then re-fetches the item.
//
// In ModeUpsert a fallback history is re-fetched before writing; if that
// fails too the submission is refused with ErrRecordUnknown. After a
// successful write the returned history is marked Written, so a later
// submit updates even when the re-fetch failed.
func (f *Flow) Submit(ctx context.Context, req Request, existing domain.History) (Outcome, error) {
	entry, err := f.Prepare(req)
	if err != nil {
		return Outcome{}, err
	}
	if f.Writer == nil {
		return Outcome{}, errors.New("upsert: no writer configured")
	}
	if f.Mode == ModeUpsert && existing.Fallback && !existing.Written {
		existing, err = f.confirm(ctx, entry)
		if err != nil {
			return Outcome{}, err
		}
	}
	update := f.Mode == ModeUpsert && (existing.Written || f.Writer.Exists(existing))
	fields := logrus.Fields{
		"item":   entry.Item.ID.String(),
		"date":   entry.Date.String(),
		"update": update,
	}
	if update {
		err = f.Writer.Update(ctx, existing, entry)
	} else {
		err = f.Writer.Create(ctx, entry)
	}
	if err != nil {
		f.Log.WithFields(fields).WithError(err).Error("submission failed")
		return Outcome{}, err
	}
	f.Log.WithFields(fields).Info("submission saved")

	out := Outcome{Entry: entry, Updated: update, History: existing}
	if f.Reload != nil {
		h, reloadErr := f.Reload(ctx, entry.Item, entry.Date)
		if reloadErr != nil {
			f.Log.WithFields(fields).WithError(reloadErr).Warn("reload after submission failed")
			out.ReloadErr = reloadErr
		} else {
			out.History = h
		}
	}
	if f.Mode == ModeUpsert {
		out.History.Written = true
	}
	return out, nil
}

// confirm re-fetches the item before an upsert whose history is unknown.
func (f *Flow) confirm(ctx context.Context, e Entry) (domain.History, error) {
	if f.Reload == nil {
		return domain.History{}, ErrRecordUnknown
	}
	h, err := f.Reload(ctx, e.Item, e.Date)
	if err != nil {
		f.Log.WithField("item", e.Item.ID.String()).WithError(err).Warn("existing record check failed")
		return domain.History{}, fmt.Errorf("%w: %w", ErrRecordUnknown, err)
	}
	return h, nil
}

func translate(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	switch fe.Field() {
	case "Input":
		if fe.Tag() == "required" {
			return &ValidationError{Field: "Input", Message: "Enter a quantity"}
		}
		return &ValidationError{Field: "Input", Message: "Enter a valid number"}
	case "UserID":
		return &ValidationError{Field: "UserID", Message: "Sign in before saving"}
	case "Remarks":
		return &ValidationError{Field: "Remarks", Message: "Remarks are too long"}
	default:
		return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("%s is invalid", fe.Field())}
	}
}
