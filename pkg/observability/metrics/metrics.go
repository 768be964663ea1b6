package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

var (
	reportsGenerated      atomic.Int64
	reportsFailed         atomic.Int64
	reportWritesBlocked   atomic.Int64
	isolationViolations   atomic.Int64
	extractionFailures    atomic.Int64
	chatTurnsPersisted    atomic.Int64
	modelErrors           atomic.Int64
	severityCoercions     atomic.Int64
	retrievalPendingTotal atomic.Int64
	outboundRedactions    atomic.Int64
)

func IncReportsGenerated()    { reportsGenerated.Add(1) }
func IncReportsFailed()       { reportsFailed.Add(1) }
func IncReportWriteBlocked()  { reportWritesBlocked.Add(1) }
func IncIsolationViolations() { isolationViolations.Add(1) }
func IncExtractionFailures()  { extractionFailures.Add(1) }
func IncChatTurns()           { chatTurnsPersisted.Add(1) }
func IncModelErrors()         { modelErrors.Add(1) }
func IncSeverityCoercions()   { severityCoercions.Add(1) }
func IncRetrievalPending()    { retrievalPendingTotal.Add(1) }
func IncOutboundRedactions()  { outboundRedactions.Add(1) }

// IsolationViolations is exposed for tests asserting a violation was counted.
func IsolationViolations() int64 { return isolationViolations.Load() }

func OutboundRedactions() int64 { return outboundRedactions.Load() }

type counter struct {
	name  string
	help  string
	value *atomic.Int64
}

var counters = []counter{
	{"pretriage_reports_generated_total", "Reports persisted successfully.", &reportsGenerated},
	{"pretriage_reports_failed_total", "Report generations that ended with ai status failed.", &reportsFailed},
	{"pretriage_report_writes_blocked_total", "Regenerations where both update and delete affected no rows.", &reportWritesBlocked},
	{"pretriage_isolation_violations_total", "Reads or writes that crossed a session boundary.", &isolationViolations},
	{"pretriage_extraction_failures_total", "Documents that produced a placeholder instead of text.", &extractionFailures},
	{"pretriage_chat_turns_total", "Chat turns persisted.", &chatTurnsPersisted},
	{"pretriage_model_errors_total", "Reasoning model calls that returned an error.", &modelErrors},
	{"pretriage_severity_coercions_total", "Model severities mapped onto low, medium or high.", &severityCoercions},
	{"pretriage_retrieval_pending_total", "Report retrievals that exhausted their attempts.", &retrievalPendingTotal},
	{"pretriage_outbound_redactions_total", "Model-bound text parts that had identifiers masked.", &outboundRedactions},
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeCounters(w)
}

func writeCounters(w io.Writer) {
	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.value.Load())
	}
}
