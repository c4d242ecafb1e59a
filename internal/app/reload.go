package app

import (
	"context"
	"slices"
	"strings"

	"quizbot/internal/config"
	logx "quizbot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	// Track last applied config to generate a safe diff summary.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	res, err := config.Resolve(newCfg)
	if err != nil {
		// Validated before commit; this only happens on a programming error.
		a.log.Error("reloaded config does not resolve; keeping previous", logx.Err(err))
		return
	}

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.bot.Apply(mapBotOptions(newCfg, res))
	a.sched.Apply(mapSchedulerOptions(res))
	if err := a.setSchedulerRunning(ctx, res.SchedulerEnabled); err != nil {
		a.log.Error("scheduler restart failed", logx.Err(err))
	}
	a.corr.Apply(mapRetryPolicy(res))
	a.ranker.SetDefaultLimit(res.LeaderboardLimit)
	a.bcast.Apply(mapBroadcastConfig(res))

	if oldCfg.Questions != newCfg.Questions {
		a.bank.SetPath(strings.TrimSpace(newCfg.Questions.Path))
		loadQuestions(a.bank, a.log)
		if newCfg.Questions.Watch {
			a.restartQuestionWatch(ctx)
		} else {
			a.stopQuestionWatch()
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
