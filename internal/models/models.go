package models

// UserSummary is the embedded author/owner reference used across records.
type UserSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
}

type User struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	Name          string          `json:"name"`
	Age           int             `json:"age,omitempty"`
	ProfileImage  string          `json:"profileImage,omitempty"`
	Bio           string          `json:"bio,omitempty"`
	Preferences   map[string]bool `json:"preferences"`
	AverageRating float64         `json:"averageRating"`
	ReviewCount   int             `json:"reviewCount"`
	IsNewUser     bool            `json:"isNewUser"`
	Provider      string          `json:"provider,omitempty"` // "local" / "google"
	PasswordHash  string          `json:"-"`
	CreatedAt     string          `json:"createdAt"` // ISO 8601
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, ProfileImage: u.ProfileImage}
}

type Schedule struct {
	ID                  string      `json:"id"`
	User                UserSummary `json:"user"`
	Date                string      `json:"date"` // yyyy-MM-dd
	Hour                int         `json:"hour"`
	PlaceName           string      `json:"placeName"`
	PlaceCategory       string      `json:"placeCategory"`
	PlaceAddress        string      `json:"placeAddress,omitempty"`
	Latitude            float64     `json:"latitude,omitempty"`
	Longitude           float64     `json:"longitude,omitempty"`
	MaxParticipants     int         `json:"maxParticipants"`
	CurrentParticipants int         `json:"currentParticipants"`
	CreatedAt           string      `json:"createdAt"`
}

func (s Schedule) Full() bool { return s.CurrentParticipants >= s.MaxParticipants }

type MatchStatus string

const (
	MatchPending   MatchStatus = "PENDING"
	MatchAccepted  MatchStatus = "ACCEPTED"
	MatchRejected  MatchStatus = "REJECTED"
	MatchConfirmed MatchStatus = "CONFIRMED"
)

type Match struct {
	ID                string      `json:"id"`
	Requester         UserSummary `json:"requester"`
	Schedule          Schedule    `json:"schedule"`
	Status            MatchStatus `json:"status"`
	RequesterReviewed bool        `json:"requesterReviewed"`
	OwnerReviewed     bool        `json:"ownerReviewed"`
	CreatedAt         string      `json:"createdAt"`
	UpdatedAt         string      `json:"updatedAt"`
}

// OwnerID is the schedule owner's id.
func (m Match) OwnerID() string { return m.Schedule.User.ID }

func (m Match) Participant(uid string) bool {
	return uid != "" && (uid == m.Requester.ID || uid == m.OwnerID())
}

// Opponent returns the other side of the match as seen by uid.
func (m Match) Opponent(uid string) UserSummary {
	if uid == m.Requester.ID {
		return m.Schedule.User
	}
	return m.Requester
}

type Comment struct {
	ID        string      `json:"id"`
	PostID    string      `json:"postId"`
	ParentID  string      `json:"parentId,omitempty"`
	Author    UserSummary `json:"author"`
	Content   string      `json:"content"`
	CreatedAt string      `json:"createdAt"`
}

type Post struct {
	ID             string      `json:"id"`
	Author         UserSummary `json:"author"`
	Title          string      `json:"title"`
	Content        string      `json:"content"` // sanitised HTML
	Tags           []string    `json:"tags"`
	Likes          int         `json:"likes"`
	Views          int         `json:"views"`
	LikedMemberIDs []string    `json:"likedMemberIds"`
	Comments       []Comment   `json:"comments"`
	Address        string      `json:"address,omitempty"`
	Latitude       float64     `json:"latitude,omitempty"`
	Longitude      float64     `json:"longitude,omitempty"`
	CreatedAt      string      `json:"createdAt"`
	UpdatedAt      string      `json:"updatedAt"`
}

// HasPlace reports whether the post points at a restaurant.
func (p Post) HasPlace() bool {
	return p.Address != "" || (p.Latitude != 0 && p.Longitude != 0)
}

type Review struct {
	ID        string      `json:"id"`
	Reviewer  UserSummary `json:"reviewer"`
	Reviewee  UserSummary `json:"reviewee"`
	MatchID   string      `json:"matchId"`
	Rating    int         `json:"rating"`
	Comment   string      `json:"comment"`
	CreatedAt string      `json:"createdAt"`
}

type ReviewCode struct {
	Code      string `json:"code"`
	MatchID   string `json:"matchId"`
	IssuerID  string `json:"issuerId"`
	ExpiresAt string `json:"expiresAt"`
}

// ReviewTarget is what a verified code resolves to.
type ReviewTarget struct {
	MatchID              string `json:"matchId"`
	OpponentID           string `json:"opponentId"`
	OpponentName         string `json:"opponentName"`
	OpponentProfileImage string `json:"opponentProfileImage"`
}

type ChatMessage struct {
	ID         string `json:"id"`
	MatchID    string `json:"matchId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	CreatedAt  string `json:"createdAt"`
}

type NotificationType string

const (
	NotifyMatchRequest   NotificationType = "MATCH_REQUEST"
	NotifyMatchAccepted  NotificationType = "MATCH_ACCEPTED"
	NotifyMatchRejected  NotificationType = "MATCH_REJECTED"
	NotifyMatchConfirmed NotificationType = "MATCH_CONFIRMED"
	NotifyChatMessage    NotificationType = "CHAT_MESSAGE"
	NotifyReviewReceived NotificationType = "REVIEW_RECEIVED"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	MatchID   string           `json:"matchId,omitempty"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt string           `json:"createdAt"`
}

type DeviceToken struct {
	UserID    string `json:"userId"`
	Token     string `json:"token"`
	CreatedAt string `json:"createdAt"`
}

type Recommendation struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Address   string      `json:"address,omitempty"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Author    UserSummary `json:"author"`
	Likes     int         `json:"likes"`
	Views     int         `json:"views"`
	Score     int         `json:"score"`
}

type FeaturedReview struct {
	Name    string `json:"name"`
	Image   string `json:"image"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}
