package export

// State is a stage of an export, they are entered in declaration order.
type State int

const (
	StateIdle State = iota
	StateAuthenticated
	StateFormResolved
	StatePayloadBuilt
	StateSubmitted
	StatePolling
	StateAvailable
	StateDownloaded
	StateExtracted
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticated:
		return "authenticated"
	case StateFormResolved:
		return "form_resolved"
	case StatePayloadBuilt:
		return "payload_built"
	case StateSubmitted:
		return "submitted"
	case StatePolling:
		return "polling"
	case StateAvailable:
		return "available"
	case StateDownloaded:
		return "downloaded"
	case StateExtracted:
		return "extracted"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// activity describes the work that leads into s.
func (s State) activity() string {
	switch s {
	case StateAuthenticated:
		return "authenticating"
	case StateFormResolved:
		return "resolving the form"
	case StatePayloadBuilt:
		return "building the request"
	case StateSubmitted:
		return "submitting the export request"
	case StatePolling:
		return "querying the export history"
	case StateAvailable:
		return "waiting for the file"
	case StateDownloaded:
		return "downloading the file"
	case StateExtracted:
		return "extracting the archive"
	case StateDone:
		return "renaming the csv"
	}
	return s.String()
}
