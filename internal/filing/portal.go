package filing

import (
	"context"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/issuers"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
	"github.com/tatolapchik-bit/price-protection-bot/internal/render"
)

var confirmationRe = regexp.MustCompile(`(?i)(?:confirmation|reference|claim)\s*(?:number|#|id)?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{5,})`)

// runPortal проходит сценарий портала эмитента шаг за шагом.
// Любой ненайденный элемент проваливает всю последовательность:
// полузаполненная форма хуже, чем письмо следующим каналом.
func runPortal(ctx context.Context, eng render.Engine, iss issuers.Issuer, vars map[string]string, evidence []byte) (token string, shot []byte, err error) {
	if eng == nil || len(iss.PortalSteps) == 0 {
		return "", nil, pipeline.ChannelFailure(errors.New("portal not configured"), iss.ID)
	}

	sess, err := eng.NewSession(ctx)
	if err != nil {
		return "", nil, pipeline.ChannelFailure(err, "open portal session")
	}
	defer sess.Close()

	for _, step := range iss.PortalSteps {
		val := interpolate(step.Value, vars)
		switch step.Action {
		case "navigate":
			err = sess.Navigate(ctx, val)
		case "fill":
			err = sess.Fill(ctx, step.Selector, val)
		case "select":
			err = sess.Select(ctx, step.Selector, val)
		case "click", "submit":
			err = sess.Click(ctx, step.Selector)
		case "upload":
			if len(evidence) == 0 {
				// Нет снимка цены: шаг пропускаем, порталы принимают
				// заявку и без вложения.
				continue
			}
			err = sess.Upload(ctx, step.Selector, "price-evidence.png", evidence)
		default:
			err = errors.Errorf("unknown portal action %q", step.Action)
		}
		if err != nil {
			return "", nil, pipeline.ChannelFailure(err, "portal step "+step.Action+" "+step.Selector)
		}
	}

	// Подтверждение ищем нестрого: формат у каждого портала свой.
	if text, terr := sess.PageText(ctx); terr == nil {
		if m := confirmationRe.FindStringSubmatch(text); m != nil {
			token = m[1]
		}
	}
	shot, _ = sess.Screenshot(ctx)
	return token, shot, nil
}

func interpolate(tmpl string, vars map[string]string) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
