package protocol

// DeliveryStatus is the per-recipient outcome of a send.
type DeliveryStatus string

const (
	Sent       DeliveryStatus = "sent"
	NotFound   DeliveryStatus = "not_found"
	SendFailed DeliveryStatus = "send_failed"
)

type Delivery struct {
	ClientID string         `json:"clientId"`
	Status   DeliveryStatus `json:"status"`
	Error    string         `json:"error,omitempty"`
}

// DeliverySummary counts fan-out outcomes for API responses and logs.
type DeliverySummary struct {
	Sent       int        `json:"sent"`
	NotFound   int        `json:"notFound"`
	SendFailed int        `json:"sendFailed"`
	Deliveries []Delivery `json:"deliveries"`
}

func Summarize(deliveries []Delivery) DeliverySummary {
	s := DeliverySummary{Deliveries: deliveries}
	if s.Deliveries == nil {
		s.Deliveries = []Delivery{}
	}
	for _, d := range deliveries {
		switch d.Status {
		case Sent:
			s.Sent++
		case NotFound:
			s.NotFound++
		case SendFailed:
			s.SendFailed++
		}
	}
	return s
}
