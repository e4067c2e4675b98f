// Package telemetry is how components report what happened to them. Every
// component takes an API and scopes it, tests swap in
// telemetrytest.Recorder to assert on the reports.
package telemetry

// API abstracts over logging and metrics.
type API interface {
	// ReportBroken reports a component failing in a way someone should look
	// at. The id names the component and method (`client.history-page`),
	// never the detail of what failed inside it: that goes into params or a
	// wrapped error. Ids are lowercase, underscores separate words of a
	// component name, dashes separate words of a method.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something unexpected that the component
	// recovered from, like a failed poll attempt. Ids follow ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports progress, ignored unless verbose.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the value of a counter at this point, values are
	// samples and are not summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace, usually the package or
// service the component belongs to.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) qualify(id string) string {
	return s.namespace + ": " + id
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.qualify(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.qualify(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.qualify(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.qualify(id), count)
}
