package store

import "time"

type AccountType string

const (
	AccountClient  AccountType = "client"
	AccountArtisan AccountType = "artisan"
)

type JobStatus string

const (
	JobOpen      JobStatus = "open"
	JobOngoing   JobStatus = "ongoing"
	JobCompleted JobStatus = "completed"
)

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// Terminal reports whether no further transition is allowed out of s.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalAccepted || s == ProposalRejected
}

// CanTransition permits only pending -> accepted|rejected.
func CanTransition(from, to ProposalStatus) bool {
	return from == ProposalPending && to.Terminal()
}

// Categories is the fixed list of trades a job or artisan can be tagged with.
var Categories = []string{
	"carpentry",
	"masonry",
	"electrical",
	"plumbing",
	"welding",
	"painting",
	"tiling",
	"roofing",
	"mechanical",
	"metalwork",
	"blacksmithing",
	"woodwork",
	"furniture_making",
	"automobile_repair",
	"electronics_repair",
	"upholstery",
	"glasswork",
	"flooring",
	"generator_repair",
	"air_conditioning",
	"sewing_tailoring",
	"cobbler",
	"bricklaying",
	"drywall_installation",
}

var categorySet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(Categories))
	for _, category := range Categories {
		set[category] = struct{}{}
	}
	return set
}()

func IsCategory(value string) bool {
	_, ok := categorySet[value]
	return ok
}

type User struct {
	ID                 string      `json:"id"`
	AuthID             string      `json:"auth_id,omitempty"`
	WalletAddress      string      `json:"wallet_address,omitempty"`
	Email              string      `json:"email"`
	FirstName          string      `json:"first_name"`
	LastName           string      `json:"last_name"`
	Location           string      `json:"location"`
	ProfileDescription string      `json:"profile_description"`
	Gender             string      `json:"gender"`
	ProfilePicture     string      `json:"profile_picture"`
	Categories         []string    `json:"categories"`
	YearsOfExperience  int         `json:"years_of_experience"`
	AccountType        AccountType `json:"account_type"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// UserSummary is the subset of a user attached to proposals and messages.
type UserSummary struct {
	ID                string   `json:"id"`
	FirstName         string   `json:"first_name"`
	LastName          string   `json:"last_name"`
	ProfilePicture    string   `json:"profile_picture"`
	Categories        []string `json:"categories,omitempty"`
	YearsOfExperience int      `json:"years_of_experience,omitempty"`
}

// ProfileUpdate holds the optional fields of a profile edit; nil means unchanged.
type ProfileUpdate struct {
	FirstName          *string
	LastName           *string
	Location           *string
	ProfileDescription *string
	ProfilePicture     *string
	Gender             *string
	Categories         []string
	YearsOfExperience  *int
	AccountType        *AccountType
}

type ArtisanFilter struct {
	Location   string
	Categories []string
	Limit      int
	Offset     int
}

type Job struct {
	ID          string    `json:"id"`
	Client      string    `json:"client"`
	Artisan     *string   `json:"artisan"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Deadline    *int64    `json:"deadline,omitempty"`
	Location    string    `json:"location"`
	Budget      string    `json:"budget"`
	Images      []string  `json:"images"`
	Categories  []string  `json:"categories"`
	Status      JobStatus `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type JobFilter struct {
	Location   string
	Categories []string
	Status     JobStatus
	Limit      int
	Offset     int
}

// JobUpdate holds the editable job fields; nil means unchanged.
type JobUpdate struct {
	Description *string
	Deadline    *int64
	Location    *string
	Budget      *string
	Images      *[]string
	Categories  *[]string
}

type Proposal struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job"`
	ArtisanID string         `json:"artisan"`
	ClientID  string         `json:"client"`
	Message   string         `json:"message"`
	Status    ProposalStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiver"`
	JobID      string    `json:"job"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MessageWithSender is a message with its sender resolved; Sender is nil
// when the sender id does not reference a known user.
type MessageWithSender struct {
	Message
	Sender *UserSummary `json:"sender"`
}
