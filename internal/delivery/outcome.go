package delivery

import "fmt"

// Status is the terminal state of a single delivery attempt.
type Status int

const (
	NoArticlesAvailable Status = iota
	AllAlreadyDelivered
	NoMatch
	Delivered
	SendFailed
)

func (s Status) String() string {
	switch s {
	case NoArticlesAvailable:
		return "no_articles_available"
	case AllAlreadyDelivered:
		return "all_already_delivered"
	case NoMatch:
		return "no_match"
	case Delivered:
		return "delivered"
	case SendFailed:
		return "send_failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome reports what a delivery attempt did. Count is set for Delivered.
type Outcome struct {
	Status Status
	Count  int
}

// Message is the user-facing text for the outcome.
func (o Outcome) Message() string {
	switch o.Status {
	case NoArticlesAvailable:
		return "❌ No articles are available yet. New articles are fetched every morning."
	case AllAlreadyDelivered:
		return "✅ Nothing new to send. Every article has already been delivered."
	case NoMatch:
		return "🔍 No articles matched your themes."
	case Delivered:
		if o.Count == 1 {
			return "✅ Sent 1 article by DM!"
		}
		return fmt.Sprintf("✅ Sent %d articles by DM!", o.Count)
	case SendFailed:
		return "❌ Could not send the DM. Check that you accept direct messages from server members."
	default:
		return "❌ Delivery finished in an unknown state."
	}
}
