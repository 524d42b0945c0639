package richpresence

import "time"

// MessageKind discriminates the variant carried by a Message.
type MessageKind int

const (
	MessageReady MessageKind = iota
	MessageClose
	MessageError
	MessagePresenceUpdate
	MessageSubscribed
	MessageUnsubscribed
	MessageJoin
	MessageSpectate
	MessageJoinRequest
	MessageConnectionEstablished
	MessageConnectionFailed
)

func (k MessageKind) String() string {
	switch k {
	case MessageReady:
		return "Ready"
	case MessageClose:
		return "Close"
	case MessageError:
		return "Error"
	case MessagePresenceUpdate:
		return "PresenceUpdate"
	case MessageSubscribed:
		return "Subscribed"
	case MessageUnsubscribed:
		return "Unsubscribed"
	case MessageJoin:
		return "Join"
	case MessageSpectate:
		return "Spectate"
	case MessageJoinRequest:
		return "JoinRequest"
	case MessageConnectionEstablished:
		return "ConnectionEstablished"
	case MessageConnectionFailed:
		return "ConnectionFailed"
	default:
		return "Unknown"
	}
}

// User identifies the local Discord account the engine authenticated as,
// captured from the Ready dispatch.
type User struct {
	ID            uint64
	Username      string
	Discriminator uint16
	AvatarHash    string
}

// Configuration is the CDN/API environment Discord reports in Ready.
type Configuration struct {
	CDNHost     string
	APIEndpoint string
	Environment string
}

// Message is a tagged union of every event the engine can deliver to a
// client, either synchronously (auto-events) or via Invoke (pull mode).
// Only the fields relevant to Kind are populated.
type Message struct {
	Kind    MessageKind
	At      time.Time

	Pipe int // ConnectionEstablished / ConnectionFailed

	Code    int    // Close / Error
	Reason  string // Close
	Text    string // Error
	Err     error  // ConnectionFailed / Error: structured cause, when one was available

	Config Configuration // Ready
	User   User          // Ready

	Presence *Presence // PresenceUpdate

	Event SubscriptionEvent // Subscribed / Unsubscribed

	Secret string // Join / Spectate
	Joiner User   // JoinRequest
}
