package domain

// Role of an authenticated actor.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleInspector Role = "inspector"
	RoleViewer    Role = "viewer"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleInspector, RoleViewer:
		return true
	}
	return false
}

// Actor is the authenticated principal performing an operation. The
// identity layer produces it; the core trusts it as-is.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role" enum:"admin,inspector,viewer"`
}

// TrafficGrades are the allowed values for a plan's overall traffic score.
var TrafficGrades = []string{"A", "B", "C", "D", "F"}

// ValidTrafficGrade reports whether g is an allowed grade.
func ValidTrafficGrade(g string) bool {
	for _, grade := range TrafficGrades {
		if g == grade {
			return true
		}
	}
	return false
}

// Plan is an Operational Roadworthiness Score inspection record.
type Plan struct {
	ID                  string     `json:"id"`
	Vehicle             string     `json:"vehicle"`
	RoadWorthinessScore string     `json:"roadWorthinessScore"`
	OverallTrafficScore string     `json:"overallTrafficScore" enum:"A,B,C,D,F"`
	ActionRequired      string     `json:"actionRequired"`
	Documents           []Document `json:"documents"`
	CreatedBy           string     `json:"createdBy"`
	AssignedTo          string     `json:"assignedTo"`
	CreatedAt           string     `json:"createdAt" format:"date-time"`
	UpdatedAt           string     `json:"updatedAt" format:"date-time"`
}

// Document groups evidence attached to a plan. Insertion order is
// display order.
type Document struct {
	TextDocs    []TextDoc `json:"textDocs"`
	Attachments []string  `json:"attachments"`
}

// TextDoc is a labelled note inside a document.
type TextDoc struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// User is an identity-side record; the core only ever sees its id and
// role through Actor. Username and email exist for display enrichment.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role" enum:"admin,inspector,viewer"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

// UserRef is the display-time projection of a user joined onto a
// plan's ownership fields.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

// APIKey maps a hashed credential to a user.
type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
