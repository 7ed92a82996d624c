package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/metrics"
)

// Recover must be deferred at the top of every worker goroutine. where names
// the goroutine in logs and in filegate_panics_total; fields add context
// such as the update id.
func Recover(where string, fields log.Fields) {
	r := recover()
	if r == nil {
		return
	}
	metrics.Panics.WithLabelValues(where).Inc()
	log.WithFields(fields).WithFields(log.Fields{
		"component": "panic_recovery",
		"where":     where,
		"panic":     fmt.Sprintf("%v", r),
		"stack":     string(debug.Stack()),
	}).Error("PANIC recovered")
}
