package extract

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Reading is one best-effort interpretation of a page snapshot.
// Zero values mean "not observed": an empty Problem, a false
// HasTimeRemaining or HasAnswerInput.
type Reading struct {
	Problem          string
	Score            int
	TimeRemaining    int
	HasTimeRemaining bool
	Answer           string
	HasAnswerInput   bool
}

var (
	problemPattern = regexp.MustCompile(`(\d+)\s*([+\-−–×÷*/])\s*(\d+)\s*=`)
	scorePattern   = regexp.MustCompile(`(?i)(?:your\s+final\s+score|final\s+score|score)\s*:\s*(\d+)`)
	barePattern    = regexp.MustCompile(`^\d+$`)
)

// timePattern converts one regexp match into seconds.
type timePattern struct {
	re      *regexp.Regexp
	seconds func(m []string) (int, bool)
}

func atoiSeconds(m []string) (int, bool) {
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		n, err := strconv.Atoi(g)
		return n, err == nil
	}
	return 0, false
}

func clockSeconds(m []string) (int, bool) {
	mins, err1 := strconv.Atoi(m[1])
	secs, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || secs >= 60 {
		return 0, false
	}
	return mins*60 + secs, true
}

// timePatterns are tried in order against visible page text.
var timePatterns = []timePattern{
	{regexp.MustCompile(`(?i)seconds\s+left\s*:\s*(\d+)`), atoiSeconds},
	{regexp.MustCompile(`(?i)\btime\s*:\s*(\d{1,2}):(\d{2})\b`), clockSeconds},
	{regexp.MustCompile(`(?i)\btime\s*:\s*(\d+)`), atoiSeconds},
	{regexp.MustCompile(`(?i)\b(\d+)\s*seconds?\b`), atoiSeconds},
	{regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`), clockSeconds},
}

// Extractor turns snapshots into Readings. It holds no state between calls.
type Extractor struct {
	profile Profile
}

// New creates an Extractor for the given page profile.
func New(profile Profile) *Extractor {
	def := DefaultProfile()
	if profile.MaxProblemLength <= 0 {
		profile.MaxProblemLength = def.MaxProblemLength
	}
	if profile.MaxTimeRemaining <= 0 {
		profile.MaxTimeRemaining = def.MaxTimeRemaining
	}
	return &Extractor{profile: profile}
}

// Profile returns the profile the extractor was built with.
func (e *Extractor) Profile() Profile {
	return e.profile
}

// ExtractHTML parses an HTML document and extracts a Reading from it.
func (e *Extractor) ExtractHTML(r io.Reader) (Reading, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Reading{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return e.Extract(doc), nil
}

// Extract reads every value it can from doc.
func (e *Extractor) Extract(doc *goquery.Document) Reading {
	var r Reading
	r.Problem = e.Problem(doc)
	r.Score = e.Score(doc)
	r.TimeRemaining, r.HasTimeRemaining = e.TimeRemaining(doc)
	r.Answer, r.HasAnswerInput = e.Answer(doc)
	return r
}

// root returns the document node of doc, or nil for an empty document.
func root(doc *goquery.Document) *html.Node {
	if doc == nil || len(doc.Nodes) == 0 {
		return nil
	}
	return doc.Nodes[0]
}

// normalizeProblem rewrites a problem match as "a op b =".
func normalizeProblem(m []string) string {
	return fmt.Sprintf("%s %s %s =", m[1], m[2], m[3])
}

// matchProblem returns the normalized problem in text if text is short
// enough to be a single problem label.
func (e *Extractor) matchProblem(text string) (string, bool) {
	text = collapseSpace(text)
	if text == "" || utf8.RuneCountInString(text) > e.profile.MaxProblemLength {
		return "", false
	}
	m := problemPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return normalizeProblem(m), true
}

// Problem returns the first visible problem text, or "" if none is shown.
func (e *Extractor) Problem(doc *goquery.Document) string {
	n := root(doc)
	if n == nil {
		return ""
	}

	var problem string
	eachVisibleText(n, func(text string) bool {
		if p, ok := e.matchProblem(text); ok {
			problem = p
			return false
		}
		return true
	})
	if problem != "" {
		return problem
	}

	// Layouts that split operands across elements.
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !isVisible(s.Nodes[0]) {
			return true
		}
		if p, ok := e.matchProblem(s.Text()); ok {
			problem = p
			return false
		}
		return true
	})
	return problem
}

// Score returns the highest score shown anywhere on the page, 0 if none.
func (e *Extractor) Score(doc *goquery.Document) int {
	n := root(doc)
	if n == nil {
		return 0
	}
	best := 0
	for _, m := range scorePattern.FindAllStringSubmatch(visibleText(n), -1) {
		if v, err := strconv.Atoi(m[1]); err == nil && v > best {
			best = v
		}
	}
	return best
}

// TimeRemaining returns the seconds left in the game if a plausible
// value is displayed.
func (e *Extractor) TimeRemaining(doc *goquery.Document) (int, bool) {
	n := root(doc)
	if n == nil {
		return 0, false
	}

	for _, sel := range e.profile.TimerSelectors {
		var (
			value int
			found bool
		)
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if !isVisible(s.Nodes[0]) {
				return true
			}
			value, found = e.parseTime(collapseSpace(s.Text()), true)
			return !found
		})
		if found {
			return value, true
		}
	}

	return e.parseTime(visibleText(n), false)
}

// parseTime finds the first in-range time value in text. Bare integers are
// only accepted from single-purpose timer elements.
func (e *Extractor) parseTime(text string, allowBare bool) (int, bool) {
	if text == "" {
		return 0, false
	}
	if allowBare && barePattern.MatchString(text) {
		if v, err := strconv.Atoi(text); err == nil && e.inRange(v) {
			return v, true
		}
	}
	for _, p := range timePatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if v, ok := p.seconds(m); ok && e.inRange(v) {
				return v, true
			}
		}
	}
	return 0, false
}

func (e *Extractor) inRange(v int) bool {
	return v >= 0 && v <= e.profile.MaxTimeRemaining
}

// Answer returns the current value of the best-guess answer input.
// The boolean is false when no candidate element exists.
func (e *Extractor) Answer(doc *goquery.Document) (string, bool) {
	if root(doc) == nil {
		return "", false
	}
	for _, sel := range e.profile.AnswerSelectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if goquery.NodeName(s) == "input" || goquery.NodeName(s) == "textarea" {
			v, _ := s.Attr("value")
			if goquery.NodeName(s) == "textarea" && v == "" {
				v = s.Text()
			}
			return strings.TrimSpace(v), true
		}
		return strings.TrimSpace(s.Text()), true
	}
	return "", false
}
