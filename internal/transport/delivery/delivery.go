// Package delivery maps content results onto chat transport calls.
package delivery

import (
	"context"
	"fmt"

	"funbot/internal/content"
	kit "funbot/internal/transport"
	logx "funbot/pkg/logx"
)

// Deliverer maps content results onto a MediaSender.
type Deliverer struct {
	out kit.MediaSender
	log logx.Logger
}

func New(out kit.MediaSender, log logx.Logger) *Deliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Deliverer{out: out, log: log}
}

// Deliver sends r to the target. Failures are wrapped in *content.DeliveryError.
func (d *Deliverer) Deliver(ctx context.Context, to kit.ChatTarget, r content.Result) error {
	if d == nil || d.out == nil {
		return &content.DeliveryError{Kind: r.Kind, Err: fmt.Errorf("no sender configured")}
	}
	var err error
	switch r.Kind {
	case content.KindText, content.KindRankedList:
		_, err = d.out.SendText(ctx, to, r.Render(), &kit.SendOptions{DisablePreview: true})
	case content.KindImage:
		_, err = d.out.SendPhoto(ctx, to, kit.Media{URL: r.URL, Data: r.Data, Name: r.Name}, nil)
	case content.KindAudio:
		_, err = d.out.SendAudio(ctx, to, kit.Media{URL: r.URL, Data: r.Data, Name: r.Name}, nil)
	default:
		err = fmt.Errorf("unsupported result kind %s", r.Kind)
	}
	if err != nil {
		d.log.Warn("delivery failed", logx.Int64("chat_id", to.ChatID), logx.String("kind", r.Kind.String()), logx.Err(err))
		return &content.DeliveryError{Kind: r.Kind, Err: err}
	}
	return nil
}

// Notify sends a plain text line, used for rejections and error notices.
func (d *Deliverer) Notify(ctx context.Context, to kit.ChatTarget, text string) error {
	if d == nil || d.out == nil {
		return fmt.Errorf("no sender configured")
	}
	_, err := d.out.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true})
	return err
}
