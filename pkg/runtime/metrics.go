package runtime

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var executionsStarted = metrics.NewCounter(`radproof_executions_started_total`)

func recordExecutionEnd(status ExecStatus) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`radproof_executions_finished_total{status=%q}`, status)).Inc()
}

func recordStepOutcome(status StepStatus) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`radproof_step_outcomes_total{status=%q}`, status)).Inc()
}
