package pageagent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/types"
)

// Config bounds what the agent reads and how long it waits for secondary UI.
type Config struct {
	// MaxItems caps how many visible list rows a context snapshot includes.
	MaxItems int `yaml:"max_items" json:"max_items"`

	// MaxBodyChars caps the open-item body length in a snapshot.
	MaxBodyChars int `yaml:"max_body_chars" json:"max_body_chars"`

	// ReplyTimeout bounds the poll for the reply editor after triggering
	// the compose surface.
	ReplyTimeout time.Duration `yaml:"reply_timeout" json:"reply_timeout"`

	Selectors Selectors `yaml:"selectors" json:"selectors"`
}

// DefaultConfig returns agent defaults.
func DefaultConfig() Config {
	return Config{
		MaxItems:     50,
		MaxBodyChars: 2000,
		ReplyTimeout: 5 * time.Second,
		Selectors:    DefaultSelectors(),
	}
}

// Agent reads and mutates the webmail page. Stateless between calls.
type Agent struct {
	driver Driver
	cfg    Config
	logger *zap.Logger
}

// New creates an agent over driver.
func New(driver Driver, cfg Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 50
	}
	if cfg.MaxBodyChars <= 0 {
		cfg.MaxBodyChars = 2000
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 5 * time.Second
	}
	return &Agent{
		driver: driver,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "page_agent")),
	}
}

// snapshotJS scrapes the visible item list and open-item detail in one
// page-side evaluation, bounded by maxItems/maxBody.
const snapshotJS = `(() => {
	const sel = %s;
	const text = (root, s) => {
		const el = s ? root.querySelector(s) : root;
		return el ? el.textContent.trim() : "";
	};
	const items = [];
	const rows = document.querySelectorAll(sel.listRow);
	for (let i = 0; i < rows.length && i < %d; i++) {
		const r = rows[i];
		items.push({
			index: i,
			sender: text(r, sel.rowSender),
			subject: text(r, sel.rowSubject),
			snippet: text(r, sel.rowSnippet),
			date: text(r, sel.rowDate),
			unread: r.classList.contains(sel.rowUnread),
		});
	}
	let openItem = null;
	const body = document.querySelector(sel.openBody);
	if (body) {
		openItem = {
			sender: text(document, sel.openSender),
			subject: text(document, sel.openSubject),
			body: body.textContent.trim().slice(0, %d),
		};
	}
	return { items, openItem };
})()`

type snapshot struct {
	Items    []types.ItemSummary `json:"items"`
	OpenItem *types.ItemDetail   `json:"openItem"`
}

func (a *Agent) snapshotExpr() string {
	sel, _ := json.Marshal(map[string]string{
		"listRow":    a.cfg.Selectors.ListRow,
		"rowSender":  a.cfg.Selectors.RowSender,
		"rowSubject": a.cfg.Selectors.RowSubject,
		"rowSnippet": a.cfg.Selectors.RowSnippet,
		"rowDate":    a.cfg.Selectors.RowDate,
		"rowUnread":  a.cfg.Selectors.RowUnread,
		"openBody":   a.cfg.Selectors.OpenBody,
		"openSender": a.cfg.Selectors.OpenSender,
		"openSubject": a.cfg.Selectors.OpenSubject,
	})
	return fmt.Sprintf(snapshotJS, sel, a.cfg.MaxItems, a.cfg.MaxBodyChars)
}

// GetContext returns a snapshot of the visible item list and the currently
// open item. Both legitimately may be empty (e.g. a non-inbox view); only a
// driver failure — no reachable page at all — is an error.
func (a *Agent) GetContext(ctx context.Context) (*types.PageContext, error) {
	var snap snapshot
	if err := a.driver.Evaluate(ctx, a.snapshotExpr(), &snap); err != nil {
		return nil, types.NewError(types.ErrSurfaceUnavailable, "webmail page not reachable").WithCause(err)
	}
	if snap.Items == nil {
		snap.Items = []types.ItemSummary{}
	}
	return &types.PageContext{Items: snap.Items, OpenItem: snap.OpenItem}, nil
}

// Screenshot captures the visible page.
func (a *Agent) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := a.driver.Screenshot(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrSurfaceUnavailable, "screenshot failed").WithCause(err)
	}
	return data, nil
}

// handler executes one action against the page.
type handler func(ctx context.Context, act *types.StructuredAction) types.ActionResult

// Execute runs a structured action. Unknown names and missing elements are
// reported in the result's Error field; nothing escapes as a fault.
func (a *Agent) Execute(ctx context.Context, act *types.StructuredAction) types.ActionResult {
	if act == nil {
		return types.ErrorResult("unknown action")
	}

	handlers := map[types.ActionName]handler{
		types.ActionSummarizeInbox:   a.summarizeInbox,
		types.ActionSummarizeItem:    a.summarizeItem,
		types.ActionFilterUnread:     a.filterUnread,
		types.ActionSearch:           a.search,
		types.ActionAnalyzeSentiment: a.analyzeSentiment,
		types.ActionDraftReply:       a.draftReply,
		types.ActionOpenItem:         a.openItem,
		types.ActionScroll:           a.scroll,
	}

	h, ok := handlers[act.Name]
	if !ok {
		a.logger.Debug("unknown action", zap.String("name", string(act.Name)))
		return types.ErrorResult("unknown action")
	}

	result := h(ctx, act)
	a.logger.Debug("action executed",
		zap.String("name", string(act.Name)),
		zap.Bool("success", result.Success),
		zap.String("error", result.Error),
	)
	return result
}

func (a *Agent) summarizeInbox(ctx context.Context, _ *types.StructuredAction) types.ActionResult {
	pc, err := a.GetContext(ctx)
	if err != nil {
		return types.ErrorResult("could not read the inbox")
	}
	unread := 0
	for _, it := range pc.Items {
		if it.Unread {
			unread++
		}
	}
	return types.ActionResult{
		Success: true,
		Items:   pc.Items,
		Summary: fmt.Sprintf("%d emails visible, %d unread", len(pc.Items), unread),
	}
}

func (a *Agent) summarizeItem(ctx context.Context, _ *types.StructuredAction) types.ActionResult {
	pc, err := a.GetContext(ctx)
	if err != nil {
		return types.ErrorResult("could not read the page")
	}
	if pc.OpenItem == nil {
		return types.ErrorResult("no email is open")
	}
	return types.ActionResult{Success: true, Item: pc.OpenItem}
}

func (a *Agent) analyzeSentiment(ctx context.Context, _ *types.StructuredAction) types.ActionResult {
	pc, err := a.GetContext(ctx)
	if err != nil {
		return types.ErrorResult("could not read the page")
	}
	if pc.OpenItem == nil || pc.OpenItem.Body == "" {
		return types.ErrorResult("no email is open")
	}
	return types.ActionResult{Success: true, Item: pc.OpenItem}
}

func (a *Agent) filterUnread(ctx context.Context, _ *types.StructuredAction) types.ActionResult {
	return a.runSearch(ctx, "is:unread")
}

func (a *Agent) search(ctx context.Context, act *types.StructuredAction) types.ActionResult {
	query, ok := act.StringParam("query")
	if !ok || query == "" {
		return types.ErrorResult("search requires a query")
	}
	return a.runSearch(ctx, query)
}

func (a *Agent) runSearch(ctx context.Context, query string) types.ActionResult {
	sel := a.cfg.Selectors
	if err := a.driver.SendKeys(ctx, sel.SearchInput, query); err != nil {
		return types.ErrorResult("search box not found")
	}
	if err := a.driver.Click(ctx, sel.SearchSubmit); err != nil {
		// Some layouts submit on Enter instead of a button.
		if err := a.driver.SendKeys(ctx, sel.SearchInput, "\n"); err != nil {
			return types.ErrorResult("could not submit the search")
		}
	}
	return types.ActionResult{Success: true, Message: fmt.Sprintf("Searching for %q", query)}
}

func (a *Agent) openItem(ctx context.Context, act *types.StructuredAction) types.ActionResult {
	index, ok := act.IntParam("index")
	if !ok || index < 0 {
		return types.ErrorResult("open_item requires an index")
	}
	selector := fmt.Sprintf("%s:nth-of-type(%d)", a.cfg.Selectors.ListRow, index+1)
	if err := a.driver.Click(ctx, selector); err != nil {
		return types.ErrorResult(fmt.Sprintf("email %d not found", index))
	}
	return types.ActionResult{Success: true, Message: fmt.Sprintf("Opened email %d", index)}
}

func (a *Agent) scroll(ctx context.Context, act *types.StructuredAction) types.ActionResult {
	delta := 600
	if d, ok := act.IntParam("amount"); ok {
		delta = d
	}
	if dir, ok := act.StringParam("direction"); ok && dir == "up" {
		delta = -delta
	}
	if err := a.driver.Scroll(ctx, delta); err != nil {
		return types.ErrorResult("could not scroll the page")
	}
	return types.ActionResult{Success: true, Message: "Scrolled"}
}

// draftReply is a two-phase action: trigger the compose surface, then poll
// for the editor before inserting the drafted text. The editor renders
// asynchronously; a blind fixed delay here is a race, so the confirm phase
// observes the page instead.
func (a *Agent) draftReply(ctx context.Context, act *types.StructuredAction) types.ActionResult {
	text, ok := act.StringParam("text")
	if !ok || text == "" {
		return types.ErrorResult("draft_reply requires text")
	}

	sel := a.cfg.Selectors
	if err := a.driver.Click(ctx, sel.ReplyButton); err != nil {
		return types.ErrorResult("reply button not found")
	}

	if err := a.driver.WaitVisible(ctx, sel.ReplyEditor, a.cfg.ReplyTimeout); err != nil {
		// The compose surface never appeared; the draft is lost, and the
		// caller is told so rather than left assuming it landed.
		return types.ErrorResult("compose editor did not appear")
	}
	if err := a.driver.SendKeys(ctx, sel.ReplyEditor, text); err != nil {
		return types.ErrorResult("could not insert the draft")
	}
	return types.ActionResult{Success: true, Message: "Draft inserted into the reply editor"}
}
