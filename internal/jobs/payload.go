// Package jobs runs queued background work, currently on-demand deliveries.
package jobs

// TypeDeliverNow is the job type for a single user's on-demand delivery.
const TypeDeliverNow = "deliver_now"

// DeliverNowPayload is the JSON payload of a deliver_now job. ChannelID is
// where the final status is posted; it may be empty.
type DeliverNowPayload struct {
	ExternalID string `json:"external_id"`
	ChannelID  string `json:"channel_id,omitempty"`
}
