package classify

import (
	"strings"
	"time"

	"github.com/gustycube/skywatch/internal/types"
)

// DefaultUnknownLifetime applies when no rule matches.
const DefaultUnknownLifetime = 15 * time.Minute

// Rule maps a keyword set to a category and its lifetime policy.
type Rule struct {
	Category types.Category
	Keywords []string
	Lifetime time.Duration
}

// Match is the outcome of classifying one message.
type Match struct {
	Category types.Category
	Keyword  string
	Lifetime time.Duration
}

// DefaultRules is evaluated top to bottom. More specific categories come
// first: a ballistic report usually also says "ракета".
func DefaultRules() []Rule {
	return []Rule{
		{Category: types.CategoryBallistic, Lifetime: 10 * time.Minute, Keywords: []string{
			"балісти", "іскандер", "кинджал", "ballistic", "iskander", "kinzhal",
		}},
		{Category: types.CategoryKAB, Lifetime: 15 * time.Minute, Keywords: []string{
			"каб", "керован", "авіабомб", "guided bomb", "glide bomb", "kab",
		}},
		{Category: types.CategoryMissile, Lifetime: 20 * time.Minute, Keywords: []string{
			"ракет", "крилат", "калібр", "х-101", "х-59", "missile", "cruise",
		}},
		{Category: types.CategoryDrone, Lifetime: 45 * time.Minute, Keywords: []string{
			"шахед", "шахід", "бпла", "дрон", "мопед", "герань", "shahed", "drone", "uav",
		}},
		{Category: types.CategoryRecon, Lifetime: 30 * time.Minute, Keywords: []string{
			"розвід", "орлан", "zala", "supercam", "recon",
		}},
		{Category: types.CategoryArtillery, Lifetime: 10 * time.Minute, Keywords: []string{
			"артил", "обстріл", "рсзв", "artillery", "mlrs", "shelling",
		}},
	}
}

// Classifier is a pure, ordered keyword table.
type Classifier struct {
	rules    []Rule
	unknown  time.Duration
	lifetime map[types.Category]time.Duration
}

// New builds a classifier. A nil or empty table falls back to DefaultRules.
func New(rules []Rule, unknownLifetime time.Duration) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if unknownLifetime <= 0 {
		unknownLifetime = DefaultUnknownLifetime
	}
	c := &Classifier{unknown: unknownLifetime, lifetime: make(map[types.Category]time.Duration, len(rules))}
	for _, r := range rules {
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" {
				kw = append(kw, k)
			}
		}
		r.Keywords = kw
		c.rules = append(c.rules, r)
		// first rule for a category owns its lifetime
		if _, ok := c.lifetime[r.Category]; !ok {
			c.lifetime[r.Category] = r.Lifetime
		}
	}
	return c
}

// Classify returns the first category whose keywords appear in text.
func (c *Classifier) Classify(text string) Match {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		for _, k := range r.Keywords {
			if strings.Contains(lower, k) {
				return Match{Category: r.Category, Keyword: k, Lifetime: r.Lifetime}
			}
		}
	}
	return Match{Category: types.CategoryUnknown, Lifetime: c.unknown}
}

// Lifetime returns the lifetime policy for cat.
func (c *Classifier) Lifetime(cat types.Category) time.Duration {
	if d, ok := c.lifetime[cat]; ok && d > 0 {
		return d
	}
	return c.unknown
}
