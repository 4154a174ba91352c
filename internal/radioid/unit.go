package radioid

// Unit is a dispatched unit as it appeared in a dispatch message. It is either
// Parsed, holding a structured Identifier, or Raw, holding the original token
// when it could not be parsed. Consumers switch on the concrete type.
type Unit interface {
	String() string
	isUnit()
}

// Parsed is a unit whose token was a valid radio identifier.
type Parsed struct {
	ID Identifier
}

// Raw is a unit token that is not a valid radio identifier.
type Raw string

func (p Parsed) String() string { return p.ID.String() }
func (r Raw) String() string    { return string(r) }

func (Parsed) isUnit() {}
func (Raw) isUnit()    {}

// ParseUnit always returns a usable Unit. Tokens that do not parse are kept
// as Raw and the error says why.
func ParseUnit(token string) (Unit, error) {
	id, err := Parse(token)
	if err != nil {
		return Raw(token), err
	}
	return Parsed{ID: id}, nil
}
