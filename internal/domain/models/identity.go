package models

// Dimension names one axis of an Identity that a rate rule can be keyed by.
type Dimension string

const (
	DimensionUserID Dimension = "userId"
	DimensionIP     Dimension = "ipHash"
	DimensionDevice Dimension = "deviceHash"
	DimensionEmail  Dimension = "emailHash"
)

// Valid reports whether d is one of the four identity dimensions.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionUserID, DimensionIP, DimensionDevice, DimensionEmail:
		return true
	}
	return false
}

// Identity is the privacy-preserving view of the caller. Every populated field
// holds a keyed hash of the raw value; empty means the dimension is absent.
// Identity is passed by value and never mutated after construction.
type Identity struct {
	UserID     string `json:"userId,omitempty"`
	IPHash     string `json:"ipHash,omitempty"`
	DeviceHash string `json:"deviceHash,omitempty"`
	EmailHash  string `json:"emailHash,omitempty"`
}

// Value returns the hashed value for dimension d and whether it is present.
func (i Identity) Value(d Dimension) (string, bool) {
	var v string
	switch d {
	case DimensionUserID:
		v = i.UserID
	case DimensionIP:
		v = i.IPHash
	case DimensionDevice:
		v = i.DeviceHash
	case DimensionEmail:
		v = i.EmailHash
	}
	return v, v != ""
}

// IsEmpty reports whether no dimension is populated.
func (i Identity) IsEmpty() bool {
	return i.UserID == "" && i.IPHash == "" && i.DeviceHash == "" && i.EmailHash == ""
}
