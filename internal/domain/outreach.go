package domain

// Channel is the closed set of outreach delivery channels.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelPhone    Channel = "phone"
	ChannelLinkedIn Channel = "linkedin"
)

// Template is a stored outreach template, selected by signal type and
// channel and filled with the variables in spec.md §4.H.
type Template struct {
	ID          string
	SignalType  string // "" matches any type (generic fallback)
	Channel     Channel
	Subject     string // optional, email only
	Body        string // contains {{variable}} placeholders
	Sent        int
	Responded   int
}

// ConversionRate is responded/sent, defaulting to 0.5 when nothing has
// been sent yet (spec.md §4.H).
func (t Template) ConversionRate() float64 {
	if t.Sent == 0 {
		return 0.5
	}
	return float64(t.Responded) / float64(t.Sent)
}

// Outreach is one generated, ready-to-send message.
type Outreach struct {
	TemplateID         string
	SignalID           string
	Channel            Channel
	Subject            string
	Body               string
	EstimatedConversion float64
}
