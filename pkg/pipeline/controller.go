// Package pipeline sequences the receipt-to-record flow: preprocessing and
// extraction into a draft, saving the draft through the repository, and
// keeping the record cache in step with the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/identity"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

// State is the controller's operation state.
type State int

// Controller states. Only one non-Idle state is possible at a time.
const (
	Idle State = iota
	Extracting
	Saving
	Deleting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Extracting:
		return "extracting"
	case Saving:
		return "saving"
	case Deleting:
		return "deleting"
	default:
		return "unknown"
	}
}

// Identity is the session gate the controller relies on.
type Identity interface {
	Start(ctx context.Context, ready identity.ReadyFunc) error
	User(ctx context.Context) (identity.User, error)
	Close()
}

// ConfirmFunc asks the user to confirm deleting e.
type ConfirmFunc func(ctx context.Context, e api.Expense) bool

// NotifyFunc shows a failure to the user.
type NotifyFunc func(err error)

// Options configures a Controller. Every field is optional.
type Options struct {
	// Preprocessor runs before extraction. Images are sent as-is when nil.
	Preprocessor api.Preprocessor
	// UnknownCategory replaces extracted categories outside the closed set.
	UnknownCategory api.Category
	// Confirm is asked before every delete. Deletes are confirmed when nil.
	Confirm ConfirmFunc
	// Notify receives every surfaced failure.
	Notify NotifyFunc
	Logger *slog.Logger
	// Location decides what "today" is. Defaults to time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller owns the draft, the day selection and the record cache.
type Controller struct {
	gate      Identity
	extractor api.Extractor
	repo      api.Repository
	pre       api.Preprocessor
	unknown   api.Category
	confirm   ConfirmFunc
	notify    NotifyFunc
	logger    *slog.Logger

	// refreshMu serializes reloads so an older List never overwrites a newer one.
	refreshMu sync.Mutex

	mu      sync.Mutex
	state   State
	draft   api.DraftForm
	sel     api.Selection
	records []api.Expense
}

// New creates a Controller. The draft starts empty and today is selected.
func New(gate Identity, extractor api.Extractor, repo api.Repository, opts Options) *Controller {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !opts.UnknownCategory.Valid() {
		opts.UnknownCategory = api.DefaultCategory
	}

	return &Controller{
		gate:      gate,
		extractor: extractor,
		repo:      repo,
		pre:       opts.Preprocessor,
		unknown:   opts.UnknownCategory,
		confirm:   opts.Confirm,
		notify:    opts.Notify,
		logger:    logging.OrDefault(opts.Logger).With("component", "pipeline"),
		draft:     api.EmptyDraft(),
		sel:       api.Single(civil.DateOf(opts.Now().In(opts.Location))),
		records:   []api.Expense{},
	}
}

// Mount establishes the identity and loads the cache. The cache is
// reloaded again on every later sign-in.
func (c *Controller) Mount(ctx context.Context) error {
	if err := c.gate.Start(ctx, c.Refresh); err != nil {
		c.surface("mounting", err)
		return err
	}
	return nil
}

// Close stops following identity changes.
func (c *Controller) Close() {
	c.gate.Close()
}

// Extract preprocesses img, sends it for extraction and overwrites the draft
// with the result. A returned date also becomes the selected day. On failure
// the draft is left as it was.
func (c *Controller) Extract(ctx context.Context, img api.Image) (api.DraftForm, error) {
	if err := c.begin(Extracting); err != nil {
		return api.DraftForm{}, err
	}
	defer c.end()

	if c.pre != nil {
		img = c.pre.Process(ctx, img)
	}

	ex, err := c.extractor.Extract(ctx, img)
	if err != nil {
		if !errors.Is(err, api.ErrExtraction) {
			err = &api.ExtractionError{Message: "failed to analyze receipt", Err: err}
		}
		c.surface("extracting receipt", err)
		return api.DraftForm{}, err
	}

	draft := api.DraftFromExtraction(ex, c.unknown)

	c.mu.Lock()
	c.draft = draft
	if ex.Date.IsValid() {
		c.sel = api.Single(ex.Date)
	}
	c.mu.Unlock()

	c.logger.Info("receipt extracted",
		"date", ex.Date,
		"amount", draft.Amount,
		"category", draft.Category,
	)
	return draft, nil
}

// Save validates the draft against the selected day and inserts it. On
// success the cache is reloaded and the draft reset; a failed reload is
// surfaced but does not undo the save. Validation failures return an
// *api.ValidationError without touching any collaborator.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		busy := c.state
		c.mu.Unlock()
		return fmt.Errorf("saving while %s: %w", busy, api.ErrBusy)
	}
	draft, day := c.draft, c.sel.EffectiveDate()
	if err := draft.Validate(day); err != nil {
		c.mu.Unlock()
		c.surface("validating draft", err)
		return err
	}
	c.state = Saving
	c.mu.Unlock()
	defer c.end()

	user, err := c.gate.User(ctx)
	if err != nil {
		c.surface("saving expense", err)
		return err
	}

	if err := c.repo.Insert(ctx, draft.ToExpense(user.ID, day)); err != nil {
		err = repositoryError("inserting expense", err)
		c.surface("saving expense", err)
		return err
	}
	c.logger.Info("expense saved", "date", day, "amount", draft.Amount, "category", draft.Category)

	c.mu.Lock()
	c.draft = api.EmptyDraft()
	c.mu.Unlock()

	// Refresh surfaces its own failure.
	_ = c.Refresh(ctx)
	return nil
}

// Delete removes the record with id after confirmation, then reloads the cache.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if err := c.begin(Deleting); err != nil {
		return err
	}
	defer c.end()

	if c.confirm != nil {
		target, ok := c.findRecord(id)
		if !ok {
			target = api.Expense{ID: id}
		}
		if !c.confirm(ctx, target) {
			c.logger.Debug("delete declined", "id", id)
			return fmt.Errorf("deleting expense %s: %w", id, api.ErrCanceled)
		}
	}

	user, err := c.gate.User(ctx)
	if err != nil {
		c.surface("deleting expense", err)
		return err
	}

	if err := c.repo.Delete(ctx, user.ID, id); err != nil {
		err = repositoryError("deleting expense", err)
		c.surface("deleting expense", err)
		return err
	}
	c.logger.Info("expense deleted", "id", id)

	return c.Refresh(ctx)
}

// Refresh reloads the cache for the current user. On failure the cache is kept.
func (c *Controller) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	user, err := c.gate.User(ctx)
	if err != nil {
		c.surface("refreshing records", err)
		return err
	}

	records, err := c.repo.List(ctx, user.ID)
	if err != nil {
		err = repositoryError("listing expenses", err)
		c.surface("refreshing records", err)
		return err
	}
	if records == nil {
		records = []api.Expense{}
	}

	c.mu.Lock()
	c.records = records
	c.mu.Unlock()

	c.logger.Debug("records refreshed", "count", len(records))
	return nil
}

// SetAmount edits the draft amount. Zero clears it.
func (c *Controller) SetAmount(amount int64) {
	c.mu.Lock()
	c.draft.Amount = amount
	c.mu.Unlock()
}

// SetShopName edits the draft shop name.
func (c *Controller) SetShopName(name string) {
	c.mu.Lock()
	c.draft.ShopName = name
	c.mu.Unlock()
}

// SetCategory edits the draft category. Values outside the closed set are rejected.
func (c *Controller) SetCategory(category api.Category) error {
	if !category.Valid() {
		return &api.ValidationError{Field: "category", Reason: "unknown category " + string(category)}
	}
	c.mu.Lock()
	c.draft.Category = category
	c.mu.Unlock()
	return nil
}

// SetDraft replaces the draft.
func (c *Controller) SetDraft(d api.DraftForm) {
	c.mu.Lock()
	c.draft = d
	c.mu.Unlock()
}

// Select changes the selected day or range.
func (c *Controller) Select(s api.Selection) {
	c.mu.Lock()
	c.sel = s
	c.mu.Unlock()
}

// Draft returns the current draft.
func (c *Controller) Draft() api.DraftForm {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Selection returns the current selection.
func (c *Controller) Selection() api.Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel
}

// Records returns a copy of the cache, newest first.
func (c *Controller) Records() []api.Expense {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.records)
}

// State returns the current operation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HasRecord reports whether any cached record falls on day.
func (c *Controller) HasRecord(day civil.Date) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return HasRecord(c.records, day)
}

// RecordsOn returns the cached records on day.
func (c *Controller) RecordsOn(day civil.Date) []api.Expense {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RecordsOn(c.records, day)
}

// SelectedRecords returns the cached records on the selected day.
func (c *Controller) SelectedRecords() []api.Expense {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RecordsOn(c.records, c.sel.EffectiveDate())
}

// MarkedDays returns the days of the month that have at least one record.
func (c *Controller) MarkedDays(year int, month time.Month) []civil.Date {
	c.mu.Lock()
	defer c.mu.Unlock()
	return MarkedDays(c.records, year, month)
}

func (c *Controller) begin(s State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return fmt.Errorf("%s while %s: %w", s, c.state, api.ErrBusy)
	}
	c.state = s
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
}

func (c *Controller) findRecord(id string) (api.Expense, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.records, func(e api.Expense) bool { return e.ID == id })
	if i < 0 {
		return api.Expense{}, false
	}
	return c.records[i], true
}

func (c *Controller) surface(op string, err error) {
	c.logger.Error(op+" failed", "error", err)
	if c.notify != nil {
		c.notify(err)
	}
}

// repositoryError makes sure err is classified as a repository failure.
// Identity failures raised by the store keep their own class.
func repositoryError(op string, err error) error {
	if errors.Is(err, api.ErrRepository) || errors.Is(err, api.ErrNotFound) || errors.Is(err, api.ErrIdentity) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, api.ErrRepository, err)
}
