package extract

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Result is what could be pulled out of a message. Both parts are optional.
type Result struct {
	Place   string
	Bearing *float64
}

const (
	placeWord = `[\p{Lu}][\p{L}'’ʼ\-]*`
	placeExpr = placeWord + `(?:[ \t]+` + placeWord + `)?`
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}'’ʼ\-]+`)

// anchored builds a preposition-led pattern. Prepositions match in any case,
// the place itself must be capitalized.
func anchored(preps ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[\s,.;:!?(«"])(?i:` + strings.Join(preps, "|") + `)\s+(` + placeExpr + `)`)
}

// Evaluated in order: a destination beats a nearby landmark beats a waypoint.
var placePatterns = []*regexp.Regexp{
	anchored(`у напрямку`, `в напрямку`, `напрямок на`, `курсом на`, `курс на`, `на`, `towards`, `toward`, `to`),
	anchored(`в районі`, `у районі`, `біля`, `поблизу`, `над`, `near`, `over`),
	anchored(`через`, `повз`, `through`, `via`),
}

var fillers = map[string]struct{}{
	"увага": {}, "тривога": {}, "загроза": {}, "повітряна": {}, "рух": {}, "ціль": {}, "цілі": {},
	"група": {}, "attention": {}, "alert": {}, "warning": {}, "threat": {},
}

type compass struct {
	stems   []string
	bearing float64
}

// Intercardinals first so "північно-східному" is not read as plain north.
var compassTable = []compass{
	{[]string{"північно-схід", "північний схід", "північно-східн", "northeast", "north-east"}, 45},
	{[]string{"південно-схід", "південний схід", "південно-східн", "southeast", "south-east"}, 135},
	{[]string{"південно-захід", "південний захід", "південно-західн", "southwest", "south-west"}, 225},
	{[]string{"північно-захід", "північний захід", "північно-західн", "northwest", "north-west"}, 315},
	{[]string{"півноч", "північ", "north"}, 0},
	{[]string{"схід", "східн", "сходу", "east"}, 90},
	{[]string{"півден", "south"}, 180},
	{[]string{"захід", "західн", "заходу", "west"}, 270},
}

// Words that mark the compass term as an origin rather than a heading.
var fromWords = map[string]struct{}{"з": {}, "із": {}, "зі": {}, "from": {}}

// Extractor pulls a place candidate and a heading out of alert text.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Extract parses text. Words containing any of strip (typically the threat
// keyword the classifier matched) are ignored.
func (e *Extractor) Extract(text string, strip ...string) Result {
	clean := cleanText(text, strip)
	return Result{Place: findPlace(clean), Bearing: findBearing(clean)}
}

func cleanText(text string, strip []string) string {
	lowerStrip := make([]string, 0, len(strip))
	for _, s := range strip {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			lowerStrip = append(lowerStrip, s)
		}
	}

	var b strings.Builder
	last := 0
	for _, loc := range wordRe.FindAllStringIndex(text, -1) {
		b.WriteString(dropSymbols(text[last:loc[0]]))
		w := text[loc[0]:loc[1]]
		if isNoise(strings.ToLower(w), lowerStrip) {
			b.WriteByte(' ')
		} else {
			b.WriteString(w)
		}
		last = loc[1]
	}
	b.WriteString(dropSymbols(text[last:]))
	return b.String()
}

func isNoise(lower string, strip []string) bool {
	if _, ok := fillers[lower]; ok {
		return true
	}
	for _, s := range strip {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func dropSymbols(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.In(r, unicode.So, unicode.Sk, unicode.Mn, unicode.Cf, unicode.Cs) {
			return ' '
		}
		return r
	}, s)
}

func findPlace(text string) string {
	for _, re := range placePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			cand := strings.TrimRight(m[1], "-'’ʼ")
			if cand == "" || isDirection(cand) {
				continue
			}
			return normalizeCase(cand)
		}
	}
	return ""
}

func isDirection(word string) bool {
	lower := strings.ToLower(word)
	for _, c := range compassTable {
		for _, s := range c.stems {
			if strings.HasPrefix(lower, s) {
				return true
			}
		}
	}
	return false
}

// normalizeCase turns "БОГОДУХІВ" into "Богодухів" and leaves mixed case alone.
func normalizeCase(place string) string {
	if strings.ToUpper(place) != place {
		return place
	}
	words := strings.Fields(place)
	for i, w := range words {
		rs := []rune(strings.ToLower(w))
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

func findBearing(text string) *float64 {
	lower := strings.ToLower(text)
	for _, c := range compassTable {
		for _, s := range c.stems {
			idx := strings.Index(lower, s)
			if idx < 0 {
				continue
			}
			b := c.bearing
			if precededByFrom(lower[:idx]) {
				b = math.Mod(b+180, 360)
			}
			return &b
		}
	}
	return nil
}

func precededByFrom(prefix string) bool {
	words := wordRe.FindAllString(prefix, -1)
	if len(words) == 0 {
		return false
	}
	_, ok := fromWords[words[len(words)-1]]
	return ok
}
