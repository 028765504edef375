package models

import "time"

const (
	DefaultConfigurationWidth  = 512
	DefaultConfigurationHeight = 512
)

type CaseColor string
type PhoneModel string
type CaseMaterial string
type CaseFinish string

const (
	MaterialSilicone      CaseMaterial = "silicone"
	MaterialPolycarbonate CaseMaterial = "polycarbonate"

	FinishSmooth   CaseFinish = "smooth"
	FinishTextured CaseFinish = "textured"
)

var (
	CaseColors = []CaseColor{
		"black", "blue", "rose", "white", "red", "lightblue",
		"orange", "green", "gray", "sky", "pink", "yellow",
	}
	PhoneModels = []PhoneModel{
		"iphonex", "iphone11", "iphone12", "iphone13", "iphone14", "iphone15",
	}
)

type Configuration struct {
	ID              string        `json:"id"`
	ImageURL        string        `json:"imageUrl"`
	Width           int           `json:"width"`
	Height          int           `json:"height"`
	Color           *CaseColor    `json:"color"`
	Model           *PhoneModel   `json:"model"`
	Material        *CaseMaterial `json:"material"`
	Finish          *CaseFinish   `json:"finish"`
	CroppedImageURL *string       `json:"croppedImageUrl"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// IsTextured and IsPolycarbonate treat an unset option as the default,
// surcharge-free choice.
func (c Configuration) IsTextured() bool {
	return c.Finish != nil && *c.Finish == FinishTextured
}

func (c Configuration) IsPolycarbonate() bool {
	return c.Material != nil && *c.Material == MaterialPolycarbonate
}

// CartItem is one line of the browser cart.
type CartItem struct {
	ConfigID string `json:"configId"`
	ImageURL string `json:"imageUrl"`
	AddedAt  int64  `json:"addedAt"`
}
