package control4

import "sync"

// Director variable names for contact sensors.
const (
	AttrContactState  = "ContactState"
	AttrStateVerified = "StateVerified"
)

// ContactAttributes is a contact sensor's attribute store. Closed follows
// the director: true means closed or clear.
type ContactAttributes struct {
	Available      bool
	Closed         *bool
	Verified       *bool
	LastActionTime string
	Extras         map[string]any
}

// SeedContact merges a director snapshot into prev.
func SeedContact(prev ContactAttributes, snapshot map[string]any) ContactAttributes {
	next := prev
	extras := make(map[string]any)
	for k, v := range snapshot {
		switch k {
		case AttrContactState:
			setBool(&next.Closed, k, v, extras)
		case AttrStateVerified:
			setBool(&next.Verified, k, v, extras)
		default:
			extras[k] = v
		}
	}
	next.Extras = withExtras(prev.Extras, extras)
	next.Available = true
	return next
}

// ReduceContact applies a push message to a contact sensor store. Only the
// contact_state envelope is read: current_state "CLOSED" means closed,
// is_verified is copied, and the message time is recorded. Other members of
// the envelope go to Extras as "contact_state.<member>".
func ReduceContact(deviceID int, prev ContactAttributes, msg PushMessage) (ContactAttributes, Outcome) {
	outcome := classify(deviceID, msg)
	switch outcome {
	case Ignored:
		return prev, Ignored
	case Disconnected:
		next := prev
		next.Available = false
		return next, Disconnected
	}

	next := prev
	next.Available = true

	envelope, ok := msg.Data["contact_state"].(map[string]any)
	if !ok {
		return next, Applied
	}

	extras := make(map[string]any)
	for k, v := range envelope {
		switch k {
		case "current_state":
			s, _ := v.(string)
			next.Closed = ptr(s == "CLOSED")
		case "is_verified":
			setBool(&next.Verified, AttrStateVerified, v, extras)
		default:
			extras[nestedKey("contact_state", k)] = v
		}
	}
	next.LastActionTime = msg.Time
	next.Extras = withExtras(prev.Extras, extras)
	return next, Applied
}

// IsOn reports an open (or not clear) contact. Unknown reads as nil.
func (a ContactAttributes) IsOn() *bool {
	if a.Closed == nil {
		return nil
	}
	return ptr(!*a.Closed)
}

// ContactState is the normalized contact sensor view.
type ContactState struct {
	Available      bool           `json:"available"`
	IsOn           *bool          `json:"is_on,omitempty"`
	DeviceClass    string         `json:"device_class"`
	Verified       *bool          `json:"state_verified,omitempty"`
	LastActionTime string         `json:"last_action_time,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// DefaultContactClass is used when a sensor has no configured class.
const DefaultContactClass = "opening"

// ContactSensor is one bridged door, window or motion contact.
//
// Thread Safety: all methods are safe for concurrent use.
type ContactSensor struct {
	identity    Identity
	deviceClass string

	mu    sync.RWMutex
	attrs ContactAttributes
}

// NewContactSensor creates a sensor seeded from snapshot.
func NewContactSensor(id Identity, deviceClass string, snapshot map[string]any) *ContactSensor {
	if deviceClass == "" {
		deviceClass = DefaultContactClass
	}
	return &ContactSensor{
		identity:    id,
		deviceClass: deviceClass,
		attrs:       SeedContact(ContactAttributes{}, snapshot),
	}
}

func (s *ContactSensor) Identity() Identity { return s.identity }
func (s *ContactSensor) Type() DeviceType   { return TypeContact }

func (s *ContactSensor) Apply(msg PushMessage) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, outcome := ReduceContact(s.identity.ID, s.attrs, msg)
	s.attrs = next
	return outcome
}

func (s *ContactSensor) Reseed(snapshot map[string]any) {
	s.mu.Lock()
	s.attrs = SeedContact(s.attrs, snapshot)
	s.mu.Unlock()
}

// Attributes returns the current store.
func (s *ContactSensor) Attributes() ContactAttributes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attrs
}

func (s *ContactSensor) Available() bool { return s.Attributes().Available }

// State returns the normalized view.
func (s *ContactSensor) State() ContactState {
	a := s.Attributes()
	return ContactState{
		Available:      a.Available,
		IsOn:           a.IsOn(),
		DeviceClass:    s.deviceClass,
		Verified:       a.Verified,
		LastActionTime: a.LastActionTime,
		Attributes:     a.Extras,
	}
}

func (s *ContactSensor) NormalizedState() any { return s.State() }

func (s *ContactSensor) Telemetry() map[string]any {
	a := s.Attributes()
	fields := map[string]any{"available": a.Available}
	if on := a.IsOn(); on != nil {
		fields["is_on"] = *on
	}
	return fields
}
