package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Picture   string    `json:"picture,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Review struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	UserRole   string    `json:"userRole"`
	Rating     int       `json:"rating"`
	ReviewText string    `json:"reviewText"`
	Photos     []string  `json:"photos"`
	UserAvatar string    `json:"userAvatar"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Feedback struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	NPS         *int      `json:"nps"`
	Message     string    `json:"message"`
	Images      []string  `json:"images"`
	Email       *string   `json:"email"`
	OkToContact bool      `json:"okToContact"`
	Consent     bool      `json:"consent"`
	CreatedAt   time.Time `json:"createdAt"`
}

type WishlistItem struct {
	ID              string    `json:"id"`
	ConfigurationID string    `json:"configurationId"`
	ImageURL        *string   `json:"imageUrl"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	UserID          string    `json:"userId"`
	CreatedAt       time.Time `json:"createdAt"`
}
