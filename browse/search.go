package browse

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
)

// strategy is one way of locating the gate control within a searchable
// scope. Locators must not wait: they report "not here" immediately so the
// search can move on.
type strategy struct {
	name   string
	locate func(p *rod.Page) (*rod.Element, error)
}

// gateStrategies is the ordered locator list for the "Continue/Continuar"
// gate control. Order is the tie-break policy: the stable element id wins
// over role matches, which win over plain-text and generic fallbacks.
var gateStrategies = []strategy{
	{"stable id", func(p *rod.Page) (*rod.Element, error) {
		return has(p, "#idCaptchaButton")
	}},
	{"button text (en)", func(p *rod.Page) (*rod.Element, error) {
		return hasR(p, `button, input[type="button"]`, `(?i)continue`)
	}},
	{"button text (es)", func(p *rod.Page) (*rod.Element, error) {
		return hasR(p, `button, input[type="button"]`, `(?i)continuar`)
	}},
	{"plain text", func(p *rod.Page) (*rod.Element, error) {
		return hasR(p, `a, button, span, div`, `(?i)continu(e|ar)`)
	}},
	{"submit input", func(p *rod.Page) (*rod.Element, error) {
		return has(p, `input[type="submit"]`)
	}},
}

// match is a located gate control and the strategy that found it.
type match struct {
	strategy string
	el       *rod.Element
}

// findContinue searches every scope (the main document first, then each
// embedded frame) with every strategy in order. The first hit wins. A nil
// return means no scope yielded a control.
func (s *Session) findContinue(ctx context.Context) *match {
	type scope struct {
		name string
		page *rod.Page
	}
	scopes := []scope{{"main", s.page.Context(ctx)}}

	frames, err := s.page.Context(ctx).Elements("iframe")
	if err != nil {
		s.logger.Debug("Frame enumeration failed", "error", err)
	} else {
		for i, frameEl := range frames {
			framePage, frameErr := frameEl.Frame()
			if frameErr != nil {
				s.logger.Debug("Frame not reachable", "index", i, "error", frameErr)
				continue
			}
			scopes = append(scopes, scope{fmt.Sprintf("frame[%d]", i), framePage.Context(ctx)})
		}
	}

	for _, sc := range scopes {
		for _, st := range gateStrategies {
			el, err := st.locate(sc.page)
			if err != nil {
				s.logger.Debug("Locator failed", "scope", sc.name, "strategy", st.name, "error", err)
				continue
			}
			if el != nil {
				s.logger.Info("Gate control located", "scope", sc.name, "strategy", st.name)
				return &match{strategy: st.name, el: el}
			}
		}
	}
	return nil
}

// has checks for a selector without waiting.
func has(p *rod.Page, selector string) (*rod.Element, error) {
	ok, el, err := p.Has(selector)
	if err != nil || !ok {
		return nil, err
	}
	return el, nil
}

// hasR checks for a selector whose text matches a regex, without waiting.
func hasR(p *rod.Page, selector, pattern string) (*rod.Element, error) {
	ok, el, err := p.HasR(selector, pattern)
	if err != nil || !ok {
		return nil, err
	}
	return el, nil
}
