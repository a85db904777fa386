package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"

	"rampcheck/internal/classify"
	"rampcheck/internal/stats"
)

// RequestLog streams one JMeter-compatible CSV row per request. It satisfies
// runner.Observer.
// Schema: timeStamp,elapsed,label,responseCode,responseMessage,success,failureMessage
type RequestLog struct {
	mu  sync.Mutex
	w   *csv.Writer
	err error
	n   int
}

func NewRequestLog(out io.Writer) (*RequestLog, error) {
	l := &RequestLog{w: csv.NewWriter(out)}
	header := []string{
		"timeStamp", "elapsed", "label", "responseCode", "responseMessage",
		"success", "failureMessage",
	}
	if err := l.w.Write(header); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *RequestLog) ObserveRequest(rec stats.RequestRecord) {
	success := rec.Outcome == classify.Success || rec.Outcome == classify.ExpectedClientError

	failure := ""
	if !success {
		failure = rec.Outcome.String()
	}

	row := []string{
		strconv.FormatInt(rec.Start.UnixMilli(), 10),
		strconv.FormatInt(rec.DurationMicros/1000, 10),
		rec.Scenario,
		strconv.Itoa(rec.Status),
		httpStatusText(rec.Status),
		strconv.FormatBool(success),
		failure,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	l.err = l.w.Write(row)
	l.n++
	// Flush periodically so a killed run still leaves most rows behind.
	if l.n%512 == 0 {
		l.w.Flush()
	}
}

func (l *RequestLog) ObservePool(active, target int) {}

// Flush writes buffered rows and reports the first write error.
func (l *RequestLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	if l.err != nil {
		return l.err
	}
	return l.w.Error()
}

func httpStatusText(code int) string {
	switch code {
	case 0:
		return ""
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return ""
	}
}
