package richpresence

// SubscriptionEvent identifies one of the server events a client can
// subscribe to.
type SubscriptionEvent int

const (
	EventJoin SubscriptionEvent = 1 << iota
	EventSpectate
	EventJoinRequest
)

// wireName returns the server-side event tag for the SUBSCRIBE/UNSUBSCRIBE
// commands.
func (e SubscriptionEvent) wireName() string {
	switch e {
	case EventJoin:
		return "ACTIVITY_JOIN"
	case EventSpectate:
		return "ACTIVITY_SPECTATE"
	case EventJoinRequest:
		return "ACTIVITY_JOIN_REQUEST"
	default:
		return ""
	}
}

// Subscription is a bitset over the subscribable events.
type Subscription SubscriptionEvent

// Has reports whether e is set in s.
func (s Subscription) Has(e SubscriptionEvent) bool {
	return Subscription(e)&s != 0
}

// all subscription bits, in a stable iteration order, used to diff two
// subscription masks.
var allSubscriptionEvents = []SubscriptionEvent{EventJoin, EventSpectate, EventJoinRequest}
