package domain

// ICEState mirrors the transport's connectivity enum by its string form.
type ICEState string

const (
	ICEStateNew          ICEState = "new"
	ICEStateChecking     ICEState = "checking"
	ICEStateConnected    ICEState = "connected"
	ICEStateCompleted    ICEState = "completed"
	ICEStateDisconnected ICEState = "disconnected"
	ICEStateFailed       ICEState = "failed"
	ICEStateClosed       ICEState = "closed"
)

type Quality string

const (
	QualityUnknown    Quality = "unknown"
	QualityConnecting Quality = "connecting"
	QualityGood       Quality = "good"
	QualityPoor       Quality = "poor"
	QualityLost       Quality = "lost"
)

func (s ICEState) Quality() Quality {
	switch s {
	case ICEStateNew, ICEStateChecking:
		return QualityConnecting
	case ICEStateConnected, ICEStateCompleted:
		return QualityGood
	case ICEStateDisconnected:
		return QualityPoor
	case ICEStateFailed, ICEStateClosed:
		return QualityLost
	default:
		return QualityUnknown
	}
}
