package app

import (
	"context"
	"fmt"

	"sigwatch/internal/logger"
	"sigwatch/internal/notify"
	"sigwatch/internal/signal"
)

// InjectResult is what a manual test signal produced.
type InjectResult struct {
	Outcomes []signal.Outcome
	Reports  []notify.DeliveryReport
}

// Inject 手工注入一条测试信号：不经过交易所和 diff，直接落库并按正常路径推送。
func (b *AppBuilder) Inject(ctx context.Context, req signal.InjectRequest) (InjectResult, error) {
	var res InjectResult
	if b.cfg == nil {
		return res, fmt.Errorf("nil config")
	}
	st, err := b.storeFn(b.cfg.Store)
	if err != nil {
		return res, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	disp, _, err := b.buildDispatcher(st)
	if err != nil {
		return res, err
	}
	gen := signal.NewGenerator(st, nil, signal.Options{})
	outcomes, err := gen.Inject(ctx, req)
	if err != nil {
		return res, err
	}
	res.Outcomes = outcomes
	for _, o := range outcomes {
		report, err := disp.Dispatch(ctx, o.Signal, o.Action)
		if err != nil {
			return res, fmt.Errorf("dispatch #%05d %s: %w", o.Signal.SequenceNumber, o.Action, err)
		}
		logger.Infof("inject: #%05d %s %s delivered=%d failed=%d",
			o.Signal.SequenceNumber, o.Action, o.Signal.Key, report.Delivered, report.Failed)
		res.Reports = append(res.Reports, report)
	}
	return res, nil
}
