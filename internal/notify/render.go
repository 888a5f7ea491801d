package notify

import (
	_ "embed"
	"fmt"
	"html"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"sigwatch/internal/config/loader"
	"sigwatch/internal/pkg/symbol"
	"sigwatch/internal/types"
)

//go:embed templates/default.yaml
var defaultBundle []byte

const timeLayout = "15:04:05 02.01.2006"

type bundleFile struct {
	Templates map[string]map[string]string `yaml:"templates"`
}

// Renderer turns a Signal into the HTML body of one lifecycle message.
// Templates are keyed by locale then action and can be replaced at runtime.
type Renderer struct {
	mu            sync.RWMutex
	defaults      map[string]map[string]string
	sets          map[string]map[types.Action]*template.Template
	defaultLocale string
	loc           *time.Location
}

func NewRenderer(defaultLocale string, loc *time.Location) (*Renderer, error) {
	var bundle bundleFile
	if err := yaml.Unmarshal(defaultBundle, &bundle); err != nil {
		return nil, fmt.Errorf("decode embedded templates: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	r := &Renderer{
		defaults:      loader.Normalize(bundle.Templates),
		defaultLocale: strings.ToLower(strings.TrimSpace(defaultLocale)),
		loc:           loc,
	}
	if err := r.Apply(nil); err != nil {
		return nil, err
	}
	return r, nil
}

// Apply layers overrides on top of the embedded templates. On a parse error the
// current set stays active.
func (r *Renderer) Apply(overrides map[string]map[string]string) error {
	merged := make(map[string]map[string]string)
	for _, src := range []map[string]map[string]string{r.defaults, loader.Normalize(overrides)} {
		for loc, actions := range src {
			if merged[loc] == nil {
				merged[loc] = make(map[string]string)
			}
			for act, body := range actions {
				merged[loc][act] = body
			}
		}
	}
	sets := make(map[string]map[types.Action]*template.Template, len(merged))
	for loc, actions := range merged {
		sets[loc] = make(map[types.Action]*template.Template, len(actions))
		for act, body := range actions {
			tpl, err := template.New(loc + "/" + act).Option("missingkey=error").Parse(body)
			if err != nil {
				return fmt.Errorf("parse template %s/%s: %w", loc, act, err)
			}
			sets[loc][types.Action(act)] = tpl
		}
	}
	r.mu.Lock()
	r.sets = sets
	r.mu.Unlock()
	return nil
}

// Render picks the template for locale, falling back to the default locale and
// then to English.
func (r *Renderer) Render(sig types.Signal, action types.Action, locale string) (string, error) {
	tpl := r.lookup(strings.ToLower(strings.TrimSpace(locale)), action)
	if tpl == nil {
		return "", fmt.Errorf("no template for action %q", action)
	}
	var b strings.Builder
	if err := tpl.Execute(&b, r.view(sig, action)); err != nil {
		return "", fmt.Errorf("render %s: %w", tpl.Name(), err)
	}
	return strings.TrimSpace(b.String()), nil
}

func (r *Renderer) lookup(locale string, action types.Action) *template.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, loc := range []string{locale, r.defaultLocale, "en"} {
		if set, ok := r.sets[loc]; ok {
			if tpl, ok := set[action]; ok {
				return tpl
			}
		}
	}
	return nil
}

// messageView carries pre-escaped strings; templates never see raw values.
type messageView struct {
	Number              string
	Symbol              string
	Base                string
	Quote               string
	Direction           string
	Category            string
	Leverage            string
	EntryPrice          string
	ExitPrice           string
	MarkPrice           string
	PositionSize        string
	OldPositionSize     string
	IncreasePercentage  string
	ClosePercentage     string
	RemainingPercentage string
	RealizedPnl         string
	ProfitPercentage    string
	Profitable          bool
	Time                string
}

func (r *Renderer) view(sig types.Signal, action types.Action) messageView {
	sym := symbol.Parse(sig.Key.Symbol)
	v := messageView{
		Number:          fmt.Sprintf("%05d", sig.SequenceNumber),
		Base:            html.EscapeString(sym.Base),
		Quote:           html.EscapeString(sym.Quote),
		Direction:       sig.Key.Direction.Label(),
		Category:        html.EscapeString(strings.ToUpper(string(sig.Key.Category))),
		EntryPrice:      sig.EntryPrice.String(),
		MarkPrice:       sig.MarkPrice.String(),
		PositionSize:    sig.PositionSize.String(),
		OldPositionSize: sig.OldPositionSize.String(),
	}
	v.Symbol = html.EscapeString(sym.Pair())
	if sig.Key.Category.IsFutures() && sig.Leverage != nil {
		v.Leverage = sig.Leverage.String()
	}
	if sig.ExitPrice != nil {
		v.ExitPrice = sig.ExitPrice.String()
	}
	if sig.OldPositionSize.IsPositive() {
		inc := sig.PositionSize.Sub(sig.OldPositionSize).Div(sig.OldPositionSize).Mul(decimal.NewFromInt(100))
		v.IncreasePercentage = inc.StringFixed(1)
	} else {
		v.IncreasePercentage = "100.0"
	}
	if sig.ClosePercentage != nil {
		v.ClosePercentage = sig.ClosePercentage.StringFixed(1)
		v.RemainingPercentage = decimal.NewFromInt(100).Sub(*sig.ClosePercentage).StringFixed(1)
	}
	if sig.RealizedPnl != nil && !sig.RealizedPnl.IsZero() {
		v.RealizedPnl = signed(*sig.RealizedPnl)
	}
	if sig.ProfitPercentage != nil {
		v.ProfitPercentage = signed(*sig.ProfitPercentage)
		v.Profitable = sig.ProfitPercentage.IsPositive()
	}
	at := sig.UpdatedAt
	if action == types.ActionOpen || at.IsZero() {
		at = sig.CreatedAt
	}
	v.Time = at.In(r.loc).Format(timeLayout)
	return v
}

func signed(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.IsPositive() {
		return "+" + s
	}
	return s
}
